package tui

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"

	"github.com/mabhi256/gctune/internal/gc"
)

type Model struct {
	// Data
	analysis *gc.Analysis
	rec      *gc.Recommendation
	static   *gc.StaticConfig
	goals    gc.Goals

	// UI State
	currentTab TabType
	width      int
	height     int
	ready      bool

	viewport viewport.Model
	help     help.Model
	keys     KeyMap
}

type TabType int

const (
	SummaryTab TabType = iota
	SurvivorsTab
	PausesTab
	RecommendationTab
)

var tabNames = []string{"Summary", "Survivors", "Pauses", "Recommendation"}

func (t TabType) String() string {
	return tabNames[t]
}

type KeyMap struct {
	NextTab  key.Binding
	PrevTab  key.Binding
	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Quit     key.Binding
}

func k(keys []string, help, desc string) key.Binding {
	return key.NewBinding(
		key.WithKeys(keys...),
		key.WithHelp(help, desc),
	)
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		NextTab:  k([]string{"tab", "right", "l"}, "tab", "next tab"),
		PrevTab:  k([]string{"shift+tab", "left", "h"}, "shift+tab", "prev tab"),
		Up:       k([]string{"up", "k"}, "↑/k", "up"),
		Down:     k([]string{"down", "j"}, "↓/j", "down"),
		PageUp:   k([]string{"pgup", "b"}, "pgup", "page up"),
		PageDown: k([]string{"pgdown", "f", " "}, "pgdn", "page down"),
		Quit:     k([]string{"q", "ctrl+c"}, "q", "quit"),
	}
}

func (km KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{km.NextTab, km.PrevTab, km.Up, km.Down, km.Quit}
}

func (km KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{km.NextTab, km.PrevTab},
		{km.Up, km.Down, km.PageUp, km.PageDown},
		{km.Quit},
	}
}
