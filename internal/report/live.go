package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"

	"github.com/mabhi256/gctune/internal/gc"
	"github.com/mabhi256/gctune/utils"
)

// liveOrder is the column order of the live view; columns the JVM does not
// report are left out.
var liveOrder = []gc.Counter{
	gc.S0C, gc.S1C, gc.S0U, gc.S1U, gc.EC, gc.EU, gc.OC, gc.OU,
	gc.MC, gc.MU, gc.PC, gc.PU,
	gc.YGC, gc.YGCT, gc.FGC, gc.FGCT, gc.GCT,
}

// rawCounters are printed as-is; everything else is a KiB size.
var rawCounters = map[gc.Counter]bool{
	gc.YGC: true, gc.YGCT: true, gc.FGC: true, gc.FGCT: true, gc.GCT: true,
}

const liveWidth = 8

// Live prints jstat samples as they arrive, marking rows in which a full
// collection happened with '*'.
type Live struct {
	w       io.Writer
	columns []gc.Counter
	lastFGC decimal.Decimal
	started bool
}

func NewLive(w io.Writer) *Live {
	return &Live{w: w}
}

// Sample has the collect.SampleFunc signature.
func (l *Live) Sample(sample gc.CounterSample, _ []string) {
	if !l.started {
		l.start(sample)
	}

	marker := " "
	if fgc, ok := sample.Get(gc.FGC); ok {
		if fgc.GreaterThan(l.lastFGC) {
			marker = "*"
		}
		l.lastFGC = fgc
	}
	l.started = true

	row := table.Row{marker}
	for _, c := range l.columns {
		row = append(row, liveValue(c, sample))
	}
	fmt.Fprintln(l.w, l.render(nil, row))
}

func (l *Live) start(first gc.CounterSample) {
	for _, c := range liveOrder {
		if _, ok := first.Get(c); ok {
			l.columns = append(l.columns, c)
		}
	}
	if fgc, ok := first.Get(gc.FGC); ok {
		l.lastFGC = fgc
	}

	header := table.Row{" "}
	rule := table.Row{" "}
	for _, c := range l.columns {
		header = append(header, string(c))
		rule = append(rule, strings.Repeat("~", liveWidth))
	}
	fmt.Fprintln(l.w, l.render(header, rule))
}

func liveValue(c gc.Counter, sample gc.CounterSample) string {
	v, ok := sample.Get(c)
	if !ok {
		return "-"
	}
	if rawCounters[c] {
		return v.String()
	}
	return utils.ReduceK(v, 1, true)
}

// render lays out one or two rows at the fixed live widths so that rows
// printed separately still line up.
func (l *Live) render(header, row table.Row) string {
	t := newTable()
	configs := []table.ColumnConfig{{Number: 1, WidthMin: 1, WidthMax: 1}}
	for i := range l.columns {
		configs = append(configs, table.ColumnConfig{
			Number:      i + 2,
			Align:       text.AlignRight,
			AlignHeader: text.AlignRight,
			WidthMin:    liveWidth,
		})
	}
	t.SetColumnConfigs(configs)
	if header != nil {
		t.AppendHeader(header)
	}
	t.AppendRow(row)
	return t.Render()
}
