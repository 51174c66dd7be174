package tui

import (
	"fmt"
	"strings"

	"github.com/mabhi256/gctune/utils"
)

func (m *Model) renderSummary(width int) string {
	a := m.analysis
	keyWidth := 26

	lines := []string{
		utils.TitleStyle.Render("Sample"),
		utils.FormatKeyValue("Events", fmt.Sprint(len(a.Events)), keyWidth),
		utils.FormatKeyValue("Sample Time", utils.ReduceSeconds(a.SampleSeconds), keyWidth),
		utils.FormatKeyValue("Pause Source", string(a.PauseSource), keyWidth),
		"",
		utils.TitleStyle.Render("Collections"),
		utils.FormatKeyValue("YGC/FGC Count", fmt.Sprintf("%d/%d", a.YoungGCCount, a.FullGCCount), keyWidth),
		utils.FormatKeyValue("YGC Rate", a.YoungGCRate.StringFixed(2)+"/min", keyWidth),
		utils.FormatKeyValue("FGC Rate", a.FullGCRate.StringFixed(2)+"/min", keyWidth),
		utils.FormatKeyValue("Sample Period GC Load", a.GCLoad.StringFixed(2)+"%", keyWidth),
		utils.FormatKeyValue("JVM Efficiency Score", a.Efficiency.StringFixed(3)+"%", keyWidth),
	}
	if a.HasLoadSince {
		lines = append(lines, utils.FormatKeyValue("GC Load (since JVM start)", a.GCLoadSinceStart.StringFixed(2)+"%", keyWidth))
	}

	lines = append(lines, "", utils.TitleStyle.Render("Rates"))
	if rates := a.YoungAlloc.Rates(); len(rates) > 0 {
		lines = append(lines, utils.FormatKeyValue("YG Allocation (mean)", utils.ReduceK(utils.Mean(rates), 2, true)+"/s", keyWidth))
	}
	if rates := a.Promotion.Rates(); len(rates) > 0 {
		lines = append(lines, utils.FormatKeyValue("OG Promotion (mean)", utils.ReduceK(utils.Mean(rates), 2, true)+"/s", keyWidth))
	}

	if m.static != nil {
		lines = append(lines, "", utils.TitleStyle.Render("Current JVM Configuration"))
		for _, f := range m.static.Fields() {
			value := fmt.Sprint(f.Value)
			if f.Bytes {
				value = utils.ReduceK(utils.BytesToKiB(f.Value), 2, true)
			}
			lines = append(lines, utils.FormatKeyValue(f.Name, value, keyWidth))
		}
	}

	return utils.BoxStyle.Width(max(width-2, 20)).Render(strings.Join(lines, "\n"))
}
