package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// Console renders operator-facing output with lipgloss styles. Colors are
// chosen from the capabilities of the writer, so redirected output is plain.
type Console struct {
	mu  sync.Mutex
	out io.Writer

	// pending is set after Progress until the next line is printed.
	pending bool

	info    lipgloss.Style
	warn    lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	title   lipgloss.Style
	body    lipgloss.Style
}

var _ engine.Reporter = (*Console)(nil)

// NewConsole creates a console writing to out.
func NewConsole(out io.Writer) *Console {
	r := lipgloss.NewRenderer(out)
	return &Console{
		out:     out,
		info:    r.NewStyle(),
		warn:    r.NewStyle().Foreground(lipgloss.Color("3")),
		success: r.NewStyle().Foreground(lipgloss.Color("2")),
		failure: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		title:   r.NewStyle().Bold(true).Underline(true),
		body:    r.NewStyle().PaddingLeft(2),
	}
}

// Progress prints marker without a newline.
func (c *Console) Progress(marker string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, marker)
	c.pending = true
}

// Infof prints an informational line.
func (c *Console) Infof(format string, args ...any) {
	c.line(c.info, format, args...)
}

// Warnf prints a warning line.
func (c *Console) Warnf(format string, args ...any) {
	c.line(c.warn, format, args...)
}

// Successf prints a success line.
func (c *Console) Successf(format string, args ...any) {
	c.line(c.success, format, args...)
}

// Errorf prints an error line.
func (c *Console) Errorf(format string, args ...any) {
	c.line(c.failure, format, args...)
}

// Block prints a titled, indented multi-line body.
func (c *Console) Block(title, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakProgress()
	if title != "" {
		fmt.Fprintln(c.out, c.title.Render(title))
	}
	body = strings.TrimRight(body, "\n")
	if body != "" {
		fmt.Fprintln(c.out, c.body.Render(body))
	}
}

func (c *Console) line(style lipgloss.Style, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakProgress()
	fmt.Fprintln(c.out, style.Render(fmt.Sprintf(format, args...)))
}

// breakProgress ends a run of progress markers so the next line starts clean.
func (c *Console) breakProgress() {
	if c.pending {
		fmt.Fprintln(c.out)
		c.pending = false
	}
}
