package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	labelWidth = 12
	filledChar = "█"
	emptyChar  = "▱"
)

// bar is one row of a horizontal bar list: "Label │████▱▱▱│ Value".
type bar struct {
	Label   string
	Value   string
	Percent float64
	Style   lipgloss.Style
}

func renderBar(b bar, areaWidth int) string {
	areaWidth = max(areaWidth, 1)
	filled := int(min(max(b.Percent, 0), 100) * float64(areaWidth) / 100)
	if b.Percent > 0 {
		filled = max(filled, 1)
	}

	body := strings.Repeat(filledChar, filled) + strings.Repeat(emptyChar, areaWidth-filled)
	return fmt.Sprintf("%-*s │%s│ %s", labelWidth, b.Label, b.Style.Render(body), b.Value)
}

func renderBars(title string, bars []bar, areaWidth int) string {
	lines := make([]string, 0, len(bars)+2)
	if title != "" {
		lines = append(lines, title, "")
	}
	for _, b := range bars {
		lines = append(lines, renderBar(b, areaWidth))
	}
	return strings.Join(lines, "\n")
}

// barWidth leaves room for the label and a value column.
func barWidth(width int) int {
	return max(10, width-labelWidth-24)
}
