package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// Choice is the outcome of a Picker.
type Choice struct {
	ID        string
	Value     string
	Cancelled bool
}

type pickerStage int

const (
	stageSelect pickerStage = iota
	stageValue
	stageDone
)

// Picker selects an item and, for items that need one, asks for a value.
type Picker struct {
	selector  Selector
	prompt    Prompt
	needValue func(id string) bool
	stage     pickerStage
	choice    Choice
}

// NewPicker builds a picker. needValue reports which items continue to the
// prompt; nil means none do.
func NewPicker(title string, items []SelectorItem, prompt Prompt, needValue func(string) bool) Picker {
	if needValue == nil {
		needValue = func(string) bool { return false }
	}
	return Picker{
		selector:  NewSelector(title, items),
		prompt:    prompt,
		needValue: needValue,
	}
}

func (m Picker) Init() tea.Cmd {
	return nil
}

func (m Picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.selector.SetWidth(msg.Width)
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.choice = Choice{Cancelled: true}
			m.stage = stageDone
			return m, tea.Quit
		}
	}

	switch m.stage {
	case stageSelect:
		m.selector.Update(msg)
		if m.selector.Active() {
			return m, nil
		}
		if m.selector.Cancelled() {
			m.choice = Choice{Cancelled: true}
			m.stage = stageDone
			return m, tea.Quit
		}
		m.choice.ID = m.selector.Selected()
		if !m.needValue(m.choice.ID) {
			m.stage = stageDone
			return m, tea.Quit
		}
		m.stage = stageValue
		return m, tea.Batch(m.prompt.Focus(), textinput.Blink)

	case stageValue:
		if key, ok := msg.(tea.KeyMsg); ok {
			switch key.Type {
			case tea.KeyEsc:
				m.prompt.Blur()
				m.prompt.Reset()
				m.selector = NewSelector(m.selector.title, m.selector.items)
				m.choice = Choice{}
				m.stage = stageSelect
				return m, nil
			case tea.KeyEnter:
				if !m.prompt.Submit() {
					return m, nil
				}
				m.choice.Value = m.prompt.Value()
				m.stage = stageDone
				return m, tea.Quit
			}
		}
		_, cmd := m.prompt.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Picker) View() string {
	switch m.stage {
	case stageSelect:
		return "\n" + m.selector.View()
	case stageValue:
		var b strings.Builder
		b.WriteString("\n")
		b.WriteString(TitleStyle.Render(m.choice.ID))
		b.WriteString("\n\n")
		b.WriteString(m.prompt.View())
		b.WriteString("\n\n")
		b.WriteString(HelpStyle.Render("enter confirm • esc back"))
		return b.String()
	}
	return ""
}

// Choice returns the result once the picker has finished.
func (m Picker) Choice() Choice {
	return m.choice
}

// RunPicker runs m on the given terminal streams until it finishes.
func RunPicker(in io.Reader, out io.Writer, m Picker) (Choice, error) {
	final, err := tea.NewProgram(m, tea.WithInput(in), tea.WithOutput(out)).Run()
	if err != nil {
		return Choice{}, fmt.Errorf("picker: %w", err)
	}
	return final.(Picker).Choice(), nil
}
