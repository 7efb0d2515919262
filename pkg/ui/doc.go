// Package ui renders operator-facing output and asks operator questions.
//
// Console implements engine.Reporter with lipgloss styles. Prompter
// implements engine.Prompter: on a terminal it runs small bubbletea programs
// (a filterable list for Select, a text field for Input and Confirm); when
// stdin is not a terminal it reads one answer per line.
package ui
