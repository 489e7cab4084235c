package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// Prompt is a single-line input. An empty submission means the default.
type Prompt struct {
	label    string
	fallback string
	validate func(string) error
	input    textinput.Model
	err      error
}

// NewPrompt creates a prompt showing fallback as its placeholder. validate
// may be nil.
func NewPrompt(label, fallback string, validate func(string) error) Prompt {
	ti := textinput.New()
	ti.Prompt = ""
	ti.Placeholder = fallback
	ti.CharLimit = 80
	ti.Width = 40

	return Prompt{
		label:    label,
		fallback: fallback,
		validate: validate,
		input:    ti,
	}
}

// Masked hides typed characters.
func (p *Prompt) Masked() {
	p.input.EchoMode = textinput.EchoPassword
	p.input.EchoCharacter = '•'
}

func (p *Prompt) Focus() tea.Cmd {
	return p.input.Focus()
}

func (p *Prompt) Blur() {
	p.input.Blur()
}

// Value is the trimmed input, or the fallback when nothing was typed.
func (p *Prompt) Value() string {
	v := strings.TrimSpace(p.input.Value())
	if v == "" {
		return p.fallback
	}
	return v
}

func (p *Prompt) Reset() {
	p.input.Reset()
	p.err = nil
}

// Err is the validation error from the last Submit.
func (p *Prompt) Err() error {
	return p.err
}

// Submit validates the current value and reports whether it was accepted.
func (p *Prompt) Submit() bool {
	p.err = nil
	if p.validate != nil {
		p.err = p.validate(p.Value())
	}
	return p.err == nil
}

func (p *Prompt) Update(msg tea.Msg) (*Prompt, tea.Cmd) {
	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	return p, cmd
}

func (p *Prompt) View() string {
	var b strings.Builder
	b.WriteString(PromptStyle.Render(SymbolPrompt) + " ")
	if p.label != "" {
		b.WriteString(p.label + " ")
	}
	b.WriteString(p.input.View())
	if p.err != nil {
		b.WriteString("\n  " + Failure("%v", p.err))
	}
	return b.String()
}
