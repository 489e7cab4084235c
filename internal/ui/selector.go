package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// SelectorItem is one row of a Selector.
type SelectorItem struct {
	ID          string
	Label       string
	Description string
	// Suggested rows get a marker and start under the cursor.
	Suggested bool
}

// Selector is a vertical list picked with the arrow keys.
type Selector struct {
	title    string
	items    []SelectorItem
	cursor   int
	selected int
	active   bool
	width    int
}

// NewSelector creates an active selector with the cursor on the first
// suggested item.
func NewSelector(title string, items []SelectorItem) Selector {
	cursor := 0
	for i, item := range items {
		if item.Suggested {
			cursor = i
			break
		}
	}
	return Selector{
		title:    title,
		items:    items,
		cursor:   cursor,
		selected: -1,
		active:   true,
		width:    80,
	}
}

func (s *Selector) SetWidth(w int) {
	s.width = w
}

// Active is true until the user picks or cancels.
func (s *Selector) Active() bool {
	return s.active
}

// Selected returns the picked ID, or "" while active or after cancel.
func (s *Selector) Selected() string {
	if s.active || s.selected < 0 || s.selected >= len(s.items) {
		return ""
	}
	return s.items[s.selected].ID
}

func (s *Selector) Cancelled() bool {
	return !s.active && s.selected == -1
}

// Update moves the cursor or finishes the selection.
func (s *Selector) Update(msg tea.Msg) (*Selector, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok || !s.active {
		return s, nil
	}

	switch key.String() {
	case "up", "k":
		if s.cursor > 0 {
			s.cursor--
		}
	case "down", "j":
		if s.cursor < len(s.items)-1 {
			s.cursor++
		}
	case "home", "g":
		s.cursor = 0
	case "end", "G":
		s.cursor = len(s.items) - 1
	case "enter":
		if len(s.items) > 0 {
			s.selected = s.cursor
			s.active = false
		}
	case "esc", "q":
		s.selected = -1
		s.active = false
	}
	return s, nil
}

func (s *Selector) View() string {
	if !s.active {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(s.title))
	b.WriteString("\n")
	b.WriteString(HelpStyle.Render("↑/↓ move • enter select • esc cancel"))
	b.WriteString("\n\n")

	labelWidth := 20
	if s.width < 60 {
		labelWidth = 12
	}
	for i, item := range s.items {
		onCursor := i == s.cursor
		if onCursor {
			b.WriteString(SelectorCursor.Render(SymbolArrow) + " ")
		} else {
			b.WriteString("  ")
		}

		label := item.Label
		if label == "" {
			label = item.ID
		}
		label = fmt.Sprintf("%-*s", labelWidth, label)
		if onCursor {
			b.WriteString(SelectorActive.Render(label))
		} else {
			b.WriteString(SelectorItemStyle.Render(label))
		}

		desc := item.Description
		if item.Suggested {
			desc += " (next)"
		}
		if desc != "" {
			b.WriteString(" " + SelectorDim.Render(desc))
		}
		b.WriteString("\n")
	}
	return b.String()
}
