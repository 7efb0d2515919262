package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// Prompter asks the operator questions. On a terminal it runs bubbletea
// programs; otherwise it reads answers line by line from In.
type Prompter struct {
	In  io.Reader
	Out io.Writer

	// Interactive selects the bubbletea rendering.
	Interactive bool

	lines *bufio.Reader
}

var _ engine.Prompter = (*Prompter)(nil)

// NewPrompter returns a prompter on stdin and stderr, interactive when both
// are terminals.
func NewPrompter() *Prompter {
	return &Prompter{
		In:          os.Stdin,
		Out:         os.Stderr,
		Interactive: isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stderr.Fd()),
	}
}

// Select asks the operator to pick one of options.
func (p *Prompter) Select(ctx context.Context, title string, options []string) (string, error) {
	if len(options) == 0 {
		return "", engine.NewConfigurationError(title+" no options available", nil)
	}
	if !p.Interactive {
		return p.selectLine(title, options)
	}

	m, err := p.run(ctx, newSelectModel(title, options))
	if err != nil {
		return "", err
	}
	sm := m.(selectModel)
	if sm.aborted {
		return "", engine.NewDeclinedError("No selection made")
	}
	return sm.choice, nil
}

// Input asks the operator for free text.
func (p *Prompter) Input(ctx context.Context, title string) (string, error) {
	if !p.Interactive {
		fmt.Fprintf(p.Out, "%s ", title)
		return p.readLine()
	}

	m, err := p.run(ctx, newInputModel(title, ""))
	if err != nil {
		return "", err
	}
	im := m.(inputModel)
	if im.aborted {
		return "", engine.NewDeclinedError("No input given")
	}
	return strings.TrimSpace(im.input.Value()), nil
}

// Confirm asks a yes/no question. Only an explicit yes confirms.
func (p *Prompter) Confirm(ctx context.Context, question string) (bool, error) {
	if !p.Interactive {
		fmt.Fprintf(p.Out, "%s [y/N] ", question)
		answer, err := p.readLine()
		if err != nil {
			return false, err
		}
		return isYes(answer), nil
	}

	m, err := p.run(ctx, newInputModel(question, "y/N"))
	if err != nil {
		return false, err
	}
	im := m.(inputModel)
	if im.aborted {
		return false, nil
	}
	return isYes(im.input.Value()), nil
}

func (p *Prompter) run(ctx context.Context, model tea.Model) (tea.Model, error) {
	program := tea.NewProgram(model,
		tea.WithContext(ctx),
		tea.WithInput(p.In),
		tea.WithOutput(p.Out),
	)
	final, err := program.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil, engine.NewTimeoutError("prompt cancelled", ctx.Err())
		}
		return nil, engine.NewInternalError("prompt failed", err)
	}
	return final, nil
}

// selectLine prints numbered options and accepts a number or an option name.
func (p *Prompter) selectLine(title string, options []string) (string, error) {
	fmt.Fprintln(p.Out, title)
	for i, opt := range options {
		fmt.Fprintf(p.Out, "  %d. %s\n", i+1, opt)
	}
	fmt.Fprint(p.Out, "> ")

	answer, err := p.readLine()
	if err != nil {
		return "", err
	}
	if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(options) {
		return options[n-1], nil
	}
	for _, opt := range options {
		if opt == answer {
			return opt, nil
		}
	}
	return "", engine.NewConfigurationError(fmt.Sprintf("Invalid selection '%s'", answer), nil)
}

func (p *Prompter) readLine() (string, error) {
	if p.lines == nil {
		p.lines = bufio.NewReader(p.In)
	}
	line, err := p.lines.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", engine.NewDeclinedError("No answer given")
		}
		return "", engine.NewInternalError("failed to read answer", err)
	}
	return strings.TrimSpace(line), nil
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// option implements list.Item.
type option struct {
	name string
}

func (o option) Title() string       { return o.name }
func (o option) Description() string { return "" }
func (o option) FilterValue() string { return o.name }

type selectModel struct {
	list    list.Model
	choice  string
	aborted bool
}

func newSelectModel(title string, options []string) selectModel {
	items := make([]list.Item, len(options))
	for i, name := range options {
		items[i] = option{name: name}
	}
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = false
	delegate.SetSpacing(0)

	l := list.New(items, delegate, 0, 0)
	l.Title = title
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(true)
	l.SetSize(60, len(options)+4)
	return selectModel{list: l}
}

func (m selectModel) Init() tea.Cmd {
	return nil
}

func (m selectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetWidth(msg.Width)
	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			m.aborted = true
			return m, tea.Quit
		case "enter":
			if item, ok := m.list.SelectedItem().(option); ok {
				m.choice = item.name
				return m, tea.Quit
			}
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m selectModel) View() string {
	if m.choice != "" || m.aborted {
		return ""
	}
	return m.list.View()
}

type inputModel struct {
	title   string
	input   textinput.Model
	done    bool
	aborted bool
}

func newInputModel(title, placeholder string) inputModel {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.CharLimit = 256
	ti.Width = 40
	ti.Focus()
	return inputModel{title: title, input: ti}
}

func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.aborted = true
			return m, tea.Quit
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	if m.done || m.aborted {
		return ""
	}
	return fmt.Sprintf("%s\n%s\n", m.title, m.input.View())
}
