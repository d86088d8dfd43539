package tui

import (
	"reflect"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func key(s string) tea.KeyMsg {
	switch s {
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func step(m PickerModel, msgs ...tea.Msg) PickerModel {
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(PickerModel)
	}
	return m
}

func TestPickerPreselection(t *testing.T) {
	m := NewPicker([]string{"strava_to_garmin", "garmin_to_strava"}, []string{"strava_to_garmin"})
	m = step(m, key("enter"))

	got := m.Selected()
	if !reflect.DeepEqual(got, []string{"strava_to_garmin"}) {
		t.Errorf("Selected() = %v", got)
	}
}

func TestPickerToggleAndConfirm(t *testing.T) {
	m := NewPicker([]string{"a_to_b", "b_to_a"}, nil)
	m = step(m, key("down"), key(" "), key("enter"))

	got := m.Selected()
	if !reflect.DeepEqual(got, []string{"b_to_a"}) {
		t.Errorf("Selected() = %v", got)
	}
}

func TestPickerSelectAll(t *testing.T) {
	m := NewPicker([]string{"a_to_b", "b_to_a"}, nil)
	m = step(m, key("a"), key("enter"))

	if got := m.Selected(); len(got) != 2 {
		t.Errorf("Selected() = %v, want both", got)
	}
}

func TestPickerAbort(t *testing.T) {
	m := NewPicker([]string{"a_to_b"}, []string{"a_to_b"})
	m = step(m, key("esc"))

	if got := m.Selected(); got != nil {
		t.Errorf("aborted picker returned %v", got)
	}
}
