// Package tui holds the small interactive pieces of the driver: the
// direction picker shown when sync runs without --auto, and the lipgloss
// styles the summary report shares.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// PickerModel is a checkbox list over the enabled sync directions.
type PickerModel struct {
	directions []string
	checked    map[int]bool
	cursor     int
	confirmed  bool
	aborted    bool
}

// NewPicker builds the picker with the given directions pre-checked.
func NewPicker(directions []string, preselected []string) PickerModel {
	pre := make(map[string]bool, len(preselected))
	for _, d := range preselected {
		pre[d] = true
	}
	checked := make(map[int]bool, len(directions))
	for i, d := range directions {
		checked[i] = pre[d]
	}
	return PickerModel{directions: directions, checked: checked}
}

// Init implements tea.Model.
func (m PickerModel) Init() tea.Cmd { return nil }

// Update handles key presses.
func (m PickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.directions)-1 {
			m.cursor++
		}
	case " ", "x":
		m.checked[m.cursor] = !m.checked[m.cursor]
	case "a":
		for i := range m.directions {
			m.checked[i] = true
		}
	case "enter":
		m.confirmed = true
		return m, tea.Quit
	case "q", "esc", "ctrl+c":
		m.aborted = true
		return m, tea.Quit
	}
	return m, nil
}

// View renders the checkbox list.
func (m PickerModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Select sync directions"))
	b.WriteString("\n")

	for i, d := range m.directions {
		cursor := "  "
		if i == m.cursor {
			cursor = selectedStyle.Render("> ")
		}
		box := "[ ]"
		if m.checked[i] {
			box = checkedStyle.Render("[x]")
		}
		label := d
		if i == m.cursor {
			label = selectedStyle.Render(d)
		}
		fmt.Fprintf(&b, "%s%s %s\n", cursor, box, label)
	}

	b.WriteString(helpStyle.Render("space toggle · a all · enter run · q quit"))
	return b.String()
}

// Selected returns the chosen directions, or nil when the picker was
// aborted.
func (m PickerModel) Selected() []string {
	if m.aborted || !m.confirmed {
		return nil
	}
	var out []string
	for i, d := range m.directions {
		if m.checked[i] {
			out = append(out, d)
		}
	}
	return out
}

// PickDirections runs the picker program and returns the selection.
func PickDirections(directions, preselected []string) ([]string, error) {
	p := tea.NewProgram(NewPicker(directions, preselected))
	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("running direction picker: %w", err)
	}
	model, ok := final.(PickerModel)
	if !ok {
		return nil, fmt.Errorf("unexpected picker model %T", final)
	}
	return model.Selected(), nil
}
