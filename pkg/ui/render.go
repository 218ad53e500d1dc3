package ui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"github.com/jbdamask/mcpchat/pkg/turn"
)

const (
	defaultWidth          = 100
	defaultMaxResultLines = 8
)

// Renderer prints turn events as they arrive. Reasoning is dimmed, tool
// calls are shown as a header with their arguments, and tool results are
// cut to a few lines.
type Renderer struct {
	out   io.Writer
	color bool

	Width          int
	MaxResultLines int

	reasoning lipgloss.Style
	toolName  lipgloss.Style
	result    lipgloss.Style
	failure   lipgloss.Style

	last    turn.EventType
	midLine bool
	args    strings.Builder
}

// NewRenderer writes to out. With color false no escape sequences are
// written.
func NewRenderer(out io.Writer, color bool) *Renderer {
	renderer := lipgloss.NewRenderer(out)
	if !color {
		renderer.SetColorProfile(termenv.Ascii)
	}
	return &Renderer{
		out:            out,
		color:          color,
		Width:          defaultWidth,
		MaxResultLines: defaultMaxResultLines,
		reasoning:      renderer.NewStyle().Faint(true).Italic(true),
		toolName:       renderer.NewStyle().Bold(true).Foreground(accent),
		result:         renderer.NewStyle().Foreground(muted),
		failure:        renderer.NewStyle().Foreground(lipgloss.Color("203")),
	}
}

// Render prints one event.
func (r *Renderer) Render(ev turn.Event) {
	switch ev.Type {
	case turn.ReasoningDelta:
		r.write(r.reasoning.Render(ev.Text), ev.Text)
	case turn.ContentDelta:
		if r.last == turn.ReasoningDelta {
			r.endLine()
			r.newline()
		}
		r.write(ev.Text, ev.Text)
	case turn.ToolCallOpened:
		r.endLine()
		r.args.Reset()
		fmt.Fprintf(r.out, "%s %s\n", r.toolName.Render("⏺"), r.toolName.Render(ev.Name))
	case turn.ToolCallArgDelta:
		r.args.WriteString(ev.Text)
	case turn.ToolCallClosed:
		args := ev.Arguments
		if len(args) == 0 {
			args = json.RawMessage(r.args.String())
		}
		r.printArguments(args)
	case turn.ToolResult:
		r.printResult(ev.Text, ev.IsError)
	case turn.TurnFinished:
		r.endLine()
	}
	r.last = ev.Type
}

// Error prints a run failure.
func (r *Renderer) Error(err error) {
	r.endLine()
	fmt.Fprintln(r.out, r.failure.Render("Error: "+err.Error()))
}

func (r *Renderer) write(styled, raw string) {
	if raw == "" {
		return
	}
	io.WriteString(r.out, styled)
	r.midLine = !strings.HasSuffix(raw, "\n")
}

func (r *Renderer) endLine() {
	if r.midLine {
		r.newline()
	}
}

func (r *Renderer) newline() {
	io.WriteString(r.out, "\n")
	r.midLine = false
}

func (r *Renderer) printArguments(args json.RawMessage) {
	if len(args) == 0 || string(args) == "{}" {
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, args, "  ", "  "); err != nil {
		pretty.Reset()
		pretty.Write(args)
	}

	io.WriteString(r.out, "  ")
	if r.color {
		if err := quick.Highlight(r.out, pretty.String(), "json", "terminal256", "monokai"); err == nil {
			r.newline()
			return
		}
	}
	io.WriteString(r.out, pretty.String())
	r.newline()
}

func (r *Renderer) printResult(text string, isError bool) {
	style := r.result
	if isError {
		style = r.failure
	}

	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	hidden := 0
	if r.MaxResultLines > 0 && len(lines) > r.MaxResultLines {
		hidden = len(lines) - r.MaxResultLines
		lines = lines[:r.MaxResultLines]
	}

	for i, line := range lines {
		prefix := "    "
		if i == 0 {
			prefix = "  ⎿ "
		}
		if r.Width > 0 {
			line = ansi.Truncate(line, r.Width-len([]rune(prefix)), "…")
		}
		fmt.Fprintln(r.out, prefix+style.Render(line))
	}
	if hidden > 0 {
		fmt.Fprintln(r.out, "    "+style.Render(fmt.Sprintf("… +%d lines", hidden)))
	}
	r.midLine = false
}
