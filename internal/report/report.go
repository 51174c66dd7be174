// Package report renders an analysis and its recommendation as plain text.
package report

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"

	"github.com/mabhi256/gctune/internal/collect"
	"github.com/mabhi256/gctune/internal/gc"
	"github.com/mabhi256/gctune/utils"
)

const wrapWidth = 80

var (
	headingStyle  = lipgloss.NewStyle().Bold(true)
	footnoteStyle = utils.MutedStyle

	hundred = decimal.NewFromInt(100)
	kibi    = decimal.NewFromInt(1024)
	perHour = decimal.NewFromInt(3600)
	perDay  = decimal.NewFromInt(86400)
)

// Report is everything a rendering needs. Only Analysis is required.
type Report struct {
	Host           string
	Analysis       *gc.Analysis
	Recommendation *gc.Recommendation
	Static         *gc.StaticConfig
	Process        *collect.ProcessInfo
	// SnapshotPath is mentioned in the footnotes when set.
	SnapshotPath string
	CPUs         int
}

func New(a *gc.Analysis, rec *gc.Recommendation) *Report {
	return &Report{Analysis: a, Recommendation: rec, CPUs: runtime.NumCPU()}
}

// Render writes every section in order. A halted recommendation still gets
// the sections it has data for.
func (r *Report) Render(w io.Writer) error {
	p := &printer{w: w}

	r.meta(p)
	if len(r.Analysis.Events) < 2 {
		p.line("* NOTE: There wasn't enough data to do any analysis. Let the JVM run longer")
		p.line("  or point the tool at a longer gc log.")
		r.summary(p)
		return p.err
	}

	r.youngRates(p)
	r.promotionRates(p)
	r.survivorDeathRates(p)
	r.gcInformation(p)
	r.jvmConfiguration(p)
	r.summary(p)
	r.g1Settings(p)
	r.jvmArgs(p)
	r.footnotes(p)
	return p.err
}

// printer remembers the first write error so sections need not check.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) line(s string) {
	p.printf("%s\n", s)
}

func (p *printer) heading(title string) {
	p.printf("\n%s\n%s\n", headingStyle.Render(title), strings.Repeat("~", len(title)))
}

func (p *printer) wrapped(prefix, body string) {
	for i, line := range utils.WrapText(body, wrapWidth-len(prefix)) {
		if i == 0 {
			p.line(prefix + line)
			continue
		}
		p.line(strings.Repeat(" ", len(prefix)) + line)
	}
}

func (p *printer) table(t table.Writer) {
	p.line(t.Render())
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.Style().Options.DrawBorder = false
	t.Style().Options.SeparateColumns = false
	t.Style().Options.SeparateHeader = false
	t.Style().Options.SeparateRows = false
	return t
}

func (r *Report) meta(p *printer) {
	p.heading("Meta")
	a := r.Analysis

	if r.Host != "" {
		p.printf("Host:           %s\n", r.Host)
	}
	secs := a.SampleSeconds.IntPart()
	if secs < 60 {
		p.printf("Sample Time:    %d seconds\n", secs)
	} else {
		p.printf("Sample Time:    %s (%d seconds)\n", utils.ReduceSeconds(a.SampleSeconds), secs)
	}
	p.printf("Pause Source:   %s\n", a.PauseSource)

	proc := r.Process
	if proc == nil {
		return
	}
	cpuUptime := proc.Uptime.Mul(decimal.NewFromInt(int64(max(r.CPUs, 1))))
	p.printf("CPU Uptime:     %s\n", utils.ReduceSeconds(cpuUptime))
	p.printf("Proc Uptime:    %s\n", utils.ReduceSeconds(proc.Uptime))
	p.printf("Proc Usertime:  %s (%s)\n", utils.ReduceSeconds(proc.UserTime), share(proc.UserTime, cpuUptime))
	p.printf("Proc Systime:   %s (%s)\n", utils.ReduceSeconds(proc.SysTime), share(proc.SysTime, cpuUptime))
	p.printf("Proc RSS:       %s\n", humanize.IBytes(uint64(max(proc.RSSBytes, 0))))
	p.printf("Proc VSize:     %s\n", humanize.IBytes(uint64(max(proc.VSizeBytes, 0))))
	p.printf("Proc # Threads: %d\n", proc.Threads)
}

func share(part, whole decimal.Decimal) string {
	if !whole.IsPositive() {
		return "n/a"
	}
	return part.Div(whole).Mul(hundred).StringFixed(2) + "%"
}

// rateTable renders min/mean/max of a KiB/s series at several scales.
func rateTable(rates []decimal.Decimal, scales ...scale) table.Writer {
	t := newTable()
	t.AppendHeader(table.Row{"", "min", "mean", "max"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	for _, s := range scales {
		t.AppendRow(table.Row{
			s.label,
			utils.ReduceK(utils.Min(rates).Mul(s.factor), 2, true) + s.suffix,
			utils.ReduceK(utils.Mean(rates).Mul(s.factor), 2, true) + s.suffix,
			utils.ReduceK(utils.Max(rates).Mul(s.factor), 2, true) + s.suffix,
		})
	}
	return t
}

type scale struct {
	label  string
	factor decimal.Decimal
	suffix string
}

func (r *Report) youngRates(p *printer) {
	p.heading("YG Allocation Rates*")
	p.table(rateTable(r.Analysis.YoungAlloc.Rates(),
		scale{"per sec", decimal.NewFromInt(1), "/s"},
		scale{"per day", perDay, "/d"},
	))
}

func (r *Report) promotionRates(p *printer) {
	p.heading("OG Promotion Rates")
	rates := r.Analysis.Promotion.Rates()
	if len(rates) == 0 {
		p.line("The old generation never grew during the sample period.")
		return
	}
	p.table(rateTable(rates,
		scale{"per sec", decimal.NewFromInt(1), "/s"},
		scale{"per hr", perHour, "/h"},
	))
}

func (r *Report) survivorDeathRates(p *printer) {
	p.heading("Survivor Death Rates")
	a := r.Analysis
	if len(a.Survivor) == 0 {
		p.line("No tenuring distribution was logged; run the JVM with -XX:+PrintTenuringDistribution.")
		return
	}

	p.printf("Lengths (min/mean/max): %s/%s/%s\n",
		utils.Min(a.SurvivorLengths).StringFixed(0),
		utils.Mean(a.SurvivorLengths).StringFixed(1),
		utils.Max(a.SurvivorLengths).StringFixed(0))
	p.line("Death Rate Breakdown:")

	t := newTable()
	t.AppendHeader(table.Row{"Age", "min", "mean", "max", "cuml alive"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	for _, stat := range a.Survivor {
		t.AppendRow(table.Row{
			stat.Age,
			pct(stat.Min),
			pct(stat.Mean),
			pct(stat.Max),
			pct(stat.CumulativeSurvival.Mul(hundred)),
		})
	}
	p.table(t)
}

func pct(v decimal.Decimal) string {
	return v.StringFixed(1) + "%"
}

func pauseRow(label string, s gc.PauseStats, unit string, places int32) table.Row {
	if s.Count == 0 {
		return table.Row{label, "-", "-", "-", "-"}
	}
	return table.Row{
		label,
		s.Min.StringFixed(places) + unit,
		s.Mean.StringFixed(places) + unit,
		s.Max.StringFixed(places) + unit,
		s.Stdev.StringFixed(2),
	}
}

func (r *Report) gcInformation(p *printer) {
	p.heading("GC Information")
	a := r.Analysis

	p.printf("YGC/FGC Count: %d/%d (Rate: %s/min, %s/min)\n\n",
		a.YoungGCCount, a.FullGCCount, a.YoungGCRate.StringFixed(2), a.FullGCRate.StringFixed(2))
	if a.HasLoadSince {
		p.printf("GC Load (since JVM start): %s%%\n", a.GCLoadSinceStart.StringFixed(2))
	}
	p.printf("Sample Period GC Load:     %s%%\n\n", a.GCLoad.StringFixed(2))

	t := newTable()
	t.AppendHeader(table.Row{"", "min", "mean", "max", "stdev"})
	t.AppendRow(pauseRow("CMS Sweep Times", a.Sweep, "s", 3))
	t.AppendRow(pauseRow("YGC Times", a.YoungPause, "ms", 0))
	t.AppendRow(pauseRow("FGC Times", a.FullPause, "ms", 0))
	p.table(t)

	p.printf("Agg. YGC Time:   %sms\n", a.AggYoungPause.StringFixed(0))
	p.printf("Agg. FGC Time:   %sms\n\n", a.AggFullPause.StringFixed(0))

	if rates := a.Promotion.Rates(); len(rates) > 0 && a.OldGenCapacity.IsPositive() {
		p.printf("Est. Time Between FGCs (min/mean/max):    %10s %10s %10s\n",
			utils.ReduceSeconds(a.FullGCInterval(utils.Min(rates))),
			utils.ReduceSeconds(a.FullGCInterval(utils.Mean(rates))),
			utils.ReduceSeconds(a.FullGCInterval(utils.Max(rates))))
		p.printf("Est. OG Size for 1 FGC/hr (min/mean/max): %10s %10s %10s\n\n",
			utils.ReduceK(utils.Min(rates).Mul(perHour), 2, true),
			utils.ReduceK(utils.Mean(rates).Mul(perHour), 2, true),
			utils.ReduceK(utils.Max(rates).Mul(perHour), 2, true))
	}

	p.printf("Overall JVM Efficiency Score*: %s%%\n", a.Efficiency.StringFixed(3))
}

func (r *Report) jvmConfiguration(p *printer) {
	if r.Static == nil {
		return
	}
	p.heading("Current JVM Configuration")

	t := newTable()
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 1, Align: text.AlignRight}})
	for _, f := range r.Static.Fields() {
		value := fmt.Sprint(f.Value)
		if f.Bytes {
			value = utils.ReduceK(utils.BytesToKiB(f.Value), 2, true)
		}
		t.AppendRow(table.Row{f.Name + ":", value})
	}
	p.table(t)
}

// summary prints the engine's diagnostics except the collector readiness
// ones, which have their own section.
func (r *Report) summary(p *printer) {
	rec := r.Recommendation
	if rec == nil {
		return
	}
	p.heading("Recommendation Summary")
	for _, m := range rec.Messages {
		if m.Stage == gc.StageReadiness {
			continue
		}
		p.wrapped(bullet(m.Severity), m.Text)
	}
}

func bullet(s gc.Severity) string {
	switch s {
	case gc.SeverityCritical:
		return "* Error: "
	case gc.SeverityWarning:
		return "* Warning: "
	default:
		return "- "
	}
}

func (r *Report) g1Settings(p *printer) {
	rec := r.Recommendation
	if rec == nil || !rec.Reached(gc.StageReadiness) {
		return
	}
	p.heading("Java G1 Settings")
	for _, m := range rec.Messages {
		if m.Stage == gc.StageReadiness {
			p.wrapped("- ", m.Text)
		}
	}
}

func mib(kib decimal.Decimal) string {
	return kib.Div(kibi).StringFixed(0) + "m"
}

// CMSArgs is the command line for the sizes the engine got to. It is empty
// before survivor sizing completes.
func CMSArgs(rec *gc.Recommendation) string {
	if rec == nil || !rec.Reached(gc.StageSurvivor) {
		return ""
	}

	var args []string
	if rec.Reached(gc.StageHeap) {
		args = append(args, "-Xmx"+mib(rec.MaxHeapSize), "-Xms"+mib(rec.MaxHeapSize))
	}
	args = append(args, "-Xmn"+mib(rec.NewGenSize))
	if rec.SurvivorRatio.IsPositive() {
		args = append(args, "-XX:SurvivorRatio="+rec.SurvivorRatio.StringFixed(0))
	}
	args = append(args, "-XX:MaxTenuringThreshold="+rec.TenuringThreshold.StringFixed(0))
	if rec.Reached(gc.StageOccupancy) {
		args = append(args, fmt.Sprintf("-XX:CMSInitiatingOccupancyFraction=%d", rec.OccupancyFraction))
	}
	if rec.Reached(gc.StageHeap) && rec.MetaspaceSize.IsPositive() {
		if rec.PermGen {
			args = append(args, "-XX:PermSize="+mib(rec.MetaspaceSize), "-XX:MaxPermSize="+mib(rec.MetaspaceSize))
		} else {
			args = append(args, "-XX:MetaspaceSize="+mib(rec.MetaspaceSize), "-XX:MaxMetaspaceSize="+mib(rec.MetaspaceSize))
		}
	}
	return strings.Join(args, " ")
}

// G1Args is empty unless the pauses are consistent enough for G1.
func G1Args(rec *gc.Recommendation) string {
	if rec == nil || !rec.Reached(gc.StageReadiness) || !rec.CollectorReady {
		return ""
	}
	return fmt.Sprintf("-XX:+UseG1GC -XX:MaxGCPauseMillis=%s -Xms%s -Xmx%s",
		rec.PauseMean.StringFixed(0), mib(rec.MaxHeapSize), mib(rec.MaxHeapSize))
}

func (r *Report) jvmArgs(p *printer) {
	cms := CMSArgs(r.Recommendation)
	if cms == "" {
		return
	}
	p.heading("The JVM arguments from the above recommendations")
	p.wrapped("", cms)

	if g1 := G1Args(r.Recommendation); g1 != "" {
		p.heading("The JVM arguments for G1")
		p.wrapped("", g1)
	}
}

func (r *Report) footnotes(p *printer) {
	notes := []string{
		"* The allocation rate is the increase in usage before a GC is done. Growth rate is the increase in usage after a GC is done.",
		"* The JVM efficiency score is a convenient way to quantify how efficient the JVM is. The most efficient JVM is 100% (pretty much impossible to obtain).",
	}
	if r.Analysis.FullGCCount == 0 {
		notes = append(notes, "* There were no full GCs during this sample period. This reporting will be less useful/accurate as a result.")
	}
	if r.SnapshotPath != "" {
		notes = append(notes, fmt.Sprintf("* A copy of the critical data used to generate this report is stored in %s. Copy it somewhere safe to analyze it further with 'gctune replay'.", r.SnapshotPath))
	}

	p.line("\n~~~")
	for _, note := range notes {
		p.line("")
		for i, line := range utils.WrapText(note, wrapWidth) {
			if i > 0 {
				line = "  " + line
			}
			p.line(footnoteStyle.Render(line))
		}
	}
}
