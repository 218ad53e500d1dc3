package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// UI owns the terminal: the input prompt, pickers and the event renderer.
type UI struct {
	out      io.Writer
	Renderer *Renderer
}

func New(out io.Writer, color bool) *UI {
	return &UI{out: out, Renderer: NewRenderer(out, color)}
}

func (u *UI) Print(msg string) {
	fmt.Fprintln(u.out, msg)
}

// Input Handling

type inputModel struct {
	textInput    textinput.Model
	output       string
	canceled     bool
	slashTrigger bool // "/" typed into an empty line
}

func initialInputModel(prompt string) inputModel {
	ti := textinput.New()
	ti.Placeholder = "Ask something, or / for commands"
	ti.Focus()
	ti.CharLimit = 0
	ti.Width = 80
	ti.Prompt = prompt

	return inputModel{textInput: ti}
}

func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.Type {
		case tea.KeyEnter:
			m.output = m.textInput.Value()
			return m, tea.Quit
		case tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc:
			m.canceled = true
			return m, tea.Quit
		case tea.KeyRunes:
			if len(msg.Runes) == 1 && msg.Runes[0] == '/' && m.textInput.Value() == "" {
				m.slashTrigger = true
				m.output = "/"
				return m, tea.Quit
			}
		}
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	return m.textInput.View() + "\n"
}

// Prompt reads one line. ok is false when the user cancels with Ctrl+C,
// Ctrl+D or Esc. A lone "/" typed into an empty line returns "/"
// immediately so the caller can open the command picker.
func (u *UI) Prompt(prompt string) (line string, ok bool, err error) {
	p := tea.NewProgram(initialInputModel(prompt), tea.WithOutput(u.out))
	m, err := p.Run()
	if err != nil {
		return "", false, fmt.Errorf("input: %w", err)
	}
	model, isInput := m.(inputModel)
	if !isInput || model.canceled {
		return "", false, nil
	}
	return strings.TrimSpace(model.output), true, nil
}

// Pickers

// Item is one entry of a picker list.
type Item struct {
	ID      string
	Label   string
	Detail  string
	Current bool
}

func (i Item) Title() string {
	if i.Current {
		return "✓ " + i.Label
	}
	return "  " + i.Label
}
func (i Item) Description() string { return i.Detail }
func (i Item) FilterValue() string { return i.Label + " " + i.Detail }

type pickerModel struct {
	list     list.Model
	selected string
	canceled bool
}

var (
	accent = lipgloss.Color("170")
	muted  = lipgloss.Color("240")
	border = lipgloss.Color("62")
)

func newPickerModel(title string, items []Item, width, height int) pickerModel {
	listItems := make([]list.Item, len(items))
	for i, item := range items {
		listItems[i] = item
	}

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), false, false, false, true).
		BorderForeground(border).
		Foreground(accent).
		Padding(0, 0, 0, 1)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedTitle.
		Foreground(muted)

	l := list.New(listItems, delegate, width, height)
	l.Title = title
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = lipgloss.NewStyle().
		Foreground(accent).
		Bold(true).
		Padding(0, 1)

	for i, item := range items {
		if item.Current {
			l.Select(i)
			break
		}
	}
	return pickerModel{list: l}
}

func (m pickerModel) Init() tea.Cmd {
	return nil
}

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// While filtering, Enter and Esc belong to the filter input.
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.Type {
		case tea.KeyEnter:
			if item, ok := m.list.SelectedItem().(Item); ok {
				m.selected = item.ID
			}
			return m, tea.Quit
		case tea.KeyCtrlC, tea.KeyEsc:
			m.canceled = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.list.SetWidth(msg.Width)
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m pickerModel) View() string {
	return m.list.View()
}

// Pick shows a filterable list and returns the chosen item's ID. ok is
// false if the user cancels or there is nothing to pick.
func (u *UI) Pick(title string, items []Item) (id string, ok bool, err error) {
	if len(items) == 0 {
		return "", false, nil
	}
	height := min(len(items)*3+4, 20)
	p := tea.NewProgram(newPickerModel(title, items, 60, height), tea.WithOutput(u.out))
	m, err := p.Run()
	if err != nil {
		return "", false, fmt.Errorf("picker: %w", err)
	}
	model, isPicker := m.(pickerModel)
	if !isPicker || model.canceled || model.selected == "" {
		return "", false, nil
	}
	return model.selected, true, nil
}
