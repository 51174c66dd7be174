package tui

import (
	"fmt"
	"strings"

	"github.com/mabhi256/gctune/internal/gc"
	"github.com/mabhi256/gctune/internal/report"
	"github.com/mabhi256/gctune/utils"
)

func (m *Model) renderRecommendation(width int) string {
	rec := m.rec
	if rec == nil {
		return utils.MutedStyle.Render("No recommendation was produced.")
	}

	wrap := max(width-6, 20)
	lines := []string{
		utils.TitleStyle.Render(fmt.Sprintf("Completed through %s", rec.Stage)),
		"",
	}
	for _, msg := range rec.Messages {
		icon := utils.GetSeverityIcon(string(msg.Severity))
		style := utils.GetSeverityStyle(string(msg.Severity))
		if msg.Severity == gc.SeverityInfo {
			style = utils.TextStyle
		}
		for i, line := range utils.WrapText(msg.Text, wrap) {
			prefix := "   "
			if i == 0 {
				prefix = icon + " "
			}
			lines = append(lines, prefix+style.Render(line))
		}
	}

	if cms := report.CMSArgs(rec); cms != "" {
		lines = append(lines, "", utils.TitleStyle.Render("JVM arguments"))
		lines = append(lines, utils.WrapText(cms, wrap)...)
	}
	if g1 := report.G1Args(rec); g1 != "" {
		lines = append(lines, "", utils.TitleStyle.Render("JVM arguments for G1"))
		lines = append(lines, utils.WrapText(g1, wrap)...)
	}
	return strings.Join(lines, "\n")
}
