package gc

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Counter names a jstat -gc column. Capacities and usages are KB, counts are
// collections, times are seconds.
type Counter string

const (
	S0C  Counter = "S0C"
	S1C  Counter = "S1C"
	S0U  Counter = "S0U"
	S1U  Counter = "S1U"
	EC   Counter = "EC"
	EU   Counter = "EU"
	OC   Counter = "OC"
	OU   Counter = "OU"
	MC   Counter = "MC"
	MU   Counter = "MU"
	CCSC Counter = "CCSC"
	CCSU Counter = "CCSU"
	PC   Counter = "PC"
	PU   Counter = "PU"
	YGC  Counter = "YGC"
	YGCT Counter = "YGCT"
	FGC  Counter = "FGC"
	FGCT Counter = "FGCT"
	CGC  Counter = "CGC"
	CGCT Counter = "CGCT"
	GCT  Counter = "GCT"
)

var knownCounters = map[Counter]struct{}{
	S0C: {}, S1C: {}, S0U: {}, S1U: {}, EC: {}, EU: {}, OC: {}, OU: {},
	MC: {}, MU: {}, CCSC: {}, CCSU: {}, PC: {}, PU: {},
	YGC: {}, YGCT: {}, FGC: {}, FGCT: {}, CGC: {}, CGCT: {}, GCT: {},
}

func IsKnownCounter(name string) bool {
	_, ok := knownCounters[Counter(name)]
	return ok
}

// CounterSample is one jstat row.
type CounterSample struct {
	Timestamp time.Time                   `yaml:"timestamp" json:"timestamp"`
	Values    map[Counter]decimal.Decimal `yaml:"values" json:"values"`
}

func (s CounterSample) Get(c Counter) (decimal.Decimal, bool) {
	v, ok := s.Values[c]
	return v, ok
}

// CounterSeries is the ordered sample history of one sampling session.
type CounterSeries struct {
	Samples []CounterSample `yaml:"samples" json:"samples"`
}

func (s *CounterSeries) Append(sample CounterSample) {
	s.Samples = append(s.Samples, sample)
}

func (s CounterSeries) Len() int {
	return len(s.Samples)
}

// Has reports whether any sample carries the counter.
func (s CounterSeries) Has(c Counter) bool {
	for _, sample := range s.Samples {
		if _, ok := sample.Values[c]; ok {
			return true
		}
	}
	return false
}

// Column returns the counter's values across the samples that carry it.
func (s CounterSeries) Column(c Counter) []decimal.Decimal {
	values := make([]decimal.Decimal, 0, len(s.Samples))
	for _, sample := range s.Samples {
		if v, ok := sample.Values[c]; ok {
			values = append(values, v)
		}
	}
	return values
}

// Delta is last minus first for the counter, zero when it is missing.
func (s CounterSeries) Delta(c Counter) decimal.Decimal {
	column := s.Column(c)
	if len(column) < 2 {
		return decimal.Zero
	}
	return column[len(column)-1].Sub(column[0])
}

func (s CounterSeries) Last(c Counter) decimal.Decimal {
	column := s.Column(c)
	if len(column) == 0 {
		return decimal.Zero
	}
	return column[len(column)-1]
}

// Seconds is the wall-clock span between the first and last sample.
func (s CounterSeries) Seconds() decimal.Decimal {
	if len(s.Samples) < 2 {
		return decimal.Zero
	}
	first, last := s.Samples[0].Timestamp, s.Samples[len(s.Samples)-1].Timestamp
	return decimal.NewFromInt(last.Sub(first).Microseconds()).Shift(-6)
}

// UsesCMS reports whether both survivor spaces always have the same capacity,
// which holds for ParNew/CMS but not for the parallel collector.
func (s CounterSeries) UsesCMS() bool {
	if len(s.Samples) == 0 {
		return false
	}
	for _, sample := range s.Samples {
		s0, ok0 := sample.Values[S0C]
		s1, ok1 := sample.Values[S1C]
		if !ok0 || !ok1 || !s0.Equal(s1) {
			return false
		}
	}
	return true
}

// StopCondition ends a sampling session. Zero fields are disabled.
type StopCondition struct {
	FullGCs  int `yaml:"full_gcs" json:"full_gcs"`
	YoungGCs int `yaml:"young_gcs" json:"young_gcs"`
	Samples  int `yaml:"samples" json:"samples"`
}

// Reached replays the whole series; samplers use a StopTracker instead.
func (c StopCondition) Reached(series CounterSeries) bool {
	tracker := c.Tracker()
	reached := false
	for _, sample := range series.Samples {
		reached = tracker.Observe(sample)
	}
	return reached
}

func (c StopCondition) Tracker() *StopTracker {
	return &StopTracker{cond: c}
}

// StopTracker evaluates a StopCondition one sample at a time, keeping only
// the first and latest collection counts.
type StopTracker struct {
	cond    StopCondition
	samples int
	full    counterSpan
	young   counterSpan
}

type counterSpan struct {
	first, last decimal.Decimal
	seen        bool
}

func (s *counterSpan) observe(sample CounterSample, c Counter) {
	v, ok := sample.Get(c)
	if !ok {
		return
	}
	if !s.seen {
		s.first, s.seen = v, true
	}
	s.last = v
}

func (s counterSpan) delta() int64 {
	if !s.seen {
		return 0
	}
	return s.last.Sub(s.first).IntPart()
}

// Observe records sample and reports whether the condition now holds.
func (t *StopTracker) Observe(sample CounterSample) bool {
	t.samples++
	t.full.observe(sample, FGC)
	t.young.observe(sample, YGC)

	c := t.cond
	switch {
	case c.Samples > 0 && t.samples >= c.Samples:
		return true
	case c.FullGCs > 0 && t.full.delta() >= int64(c.FullGCs):
		return true
	case c.YoungGCs > 0 && t.young.delta() >= int64(c.YoungGCs):
		return true
	}
	return false
}

// JstatDecoder turns jstat -gc output into samples. The header row defines
// the column order; it may repeat, and columns outside the known schema are
// ignored.
type JstatDecoder struct {
	columns []string
}

// Decode consumes one line. It returns false for header, blank and malformed
// rows.
func (d *JstatDecoder) Decode(line string, at time.Time) (CounterSample, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return CounterSample{}, false
	}

	if _, err := decimal.NewFromString(fields[0]); err != nil && fields[0] != "-" {
		if IsKnownCounter(fields[0]) || fields[0] == "Timestamp" {
			d.columns = fields
		}
		return CounterSample{}, false
	}
	if len(d.columns) == 0 || len(fields) != len(d.columns) {
		return CounterSample{}, false
	}

	sample := CounterSample{Timestamp: at, Values: make(map[Counter]decimal.Decimal, len(fields))}
	for i, field := range fields {
		name := d.columns[i]
		if !IsKnownCounter(name) || field == "-" {
			continue
		}
		v, err := decimal.NewFromString(field)
		if err != nil {
			return CounterSample{}, false
		}
		sample.Values[Counter(name)] = v
	}
	return sample, true
}

// Columns is the most recent header row.
func (d *JstatDecoder) Columns() []string {
	return d.columns
}

// DecodeJstat reads a captured jstat -gc run. Rows are stamped start,
// start+interval, ... as the sampler printed them.
func DecodeJstat(r io.Reader, start time.Time, interval time.Duration) (CounterSeries, error) {
	var (
		decoder JstatDecoder
		series  CounterSeries
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		at := start.Add(time.Duration(series.Len()) * interval)
		if sample, ok := decoder.Decode(scanner.Text(), at); ok {
			series.Append(sample)
		}
	}
	if err := scanner.Err(); err != nil {
		return series, fmt.Errorf("error reading jstat output: %w", err)
	}
	return series, nil
}
