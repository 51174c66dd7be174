package gc

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// TimestampLayout is the -XX:+PrintGCDateStamps format.
	TimestampLayout = "2006-01-02T15:04:05.000-0700"

	// Fractional seconds are accepted by time.Parse without being spelled out.
	timestampParseLayout = "2006-01-02T15:04:05-0700"
)

// DefaultWarmupFloor is the JVM uptime, in seconds, below which events are
// not representative of steady state.
var DefaultWarmupFloor = decimal.NewFromInt(300)

var (
	// 2017-02-02T15:16:02.890-0800: 394.312: [GC (Allocation Failure) 394.312: [ParNew
	stanzaStartPattern = regexp.MustCompile(`^(\d+-\d+-\d+T\d+:\d+:[\d.]+[+-]\d+): ([\d.]+):`)

	// The last "[Token" on the first line names the young collector.
	collectorPattern = regexp.MustCompile(`^\d+-\d+-\d+T\d+:\d+:[\d.]+[+-]\d+: [\d.]+: .*\[(\S+)`)

	// 2017-02-03T14:12:01.512-0800: 35.934: [CMS-concurrent-sweep: 0.020/0.021 secs] [Times: user=0.02 sys=0.00, real=0.02 secs]
	sweepPattern = regexp.MustCompile(`^\d+-\d+-\d+T\d+:\d+:[\d.]+[+-]\d+: ([\d.]+): \[CMS-concurrent-sweep: [\d.]+/([\d.]+) secs`)

	// ... 33270K(202240K), 0.0225082 secs] [Times: user=0.06 sys=0.00, real=0.03 secs]
	pauseTrailerPattern = regexp.MustCompile(`, ([\d.]+) secs\]`)

	// Desired survivor size 1310720 bytes, new threshold 15 (max 15)
	survivorPattern = regexp.MustCompile(`^Desired survivor size (\d+) bytes, new threshold (\d+) \(max (\d+)\)`)

	// - age   1:      82152 bytes,      82152 total
	agePattern = regexp.MustCompile(`^- age\s+(\d+):\s+(\d+) bytes,\s+(\d+) total`)

	// : 5285K->229K(7680K), 0.0048416 secs] 54518K->49466K(202240K), 0.0049963 secs] [Times: ...]
	reallocationPattern = regexp.MustCompile(`^: (\d+)\w->(\d+)\w\((\d+)\w\), ([\d.]+) secs\] (\d+)\w->(\d+)\w\((\d+)\w\), ([\d.]+) secs\]`)
)

const sweepMarker = "CMS-concurrent-sweep: "

var stwMarkers = []string{
	"CMS-initial-mark",
	"CMS Initial Mark",
	"CMS-remark",
	"CMS Final Remark",
	"Full GC",
}

type ParseError struct {
	Line    string
	LineNum int
	Err     error
}

func (e ParseError) Error() string {
	return fmt.Sprintf("parse error at stanza line %d: %v", e.LineNum, e.Err)
}

func (e ParseError) Unwrap() error {
	return e.Err
}

type LineParser interface {
	CanParse(line string, context *ParseContext) bool
	Parse(line string, context *ParseContext) error
}

// ParseContext carries one stanza's partially built event between line parsers.
type ParseContext struct {
	Event *GCEvent

	SurvivorHeader bool
	Reallocated    bool
	SweepParsed    bool
	// Done stops the line loop early.
	Done       bool
	LineNumber int
	Err        error
}

// Parser turns stanzas into GCEvents. It never fails: malformed stanzas come
// back as invalid events.
type Parser struct {
	parsers     []LineParser
	warmupFloor decimal.Decimal
	logger      *slog.Logger
}

type ParserOption func(*Parser)

// WithWarmupFloor overrides DefaultWarmupFloor. Zero disables the floor.
func WithWarmupFloor(seconds decimal.Decimal) ParserOption {
	return func(p *Parser) {
		p.warmupFloor = seconds
	}
}

// WithLogger sets the logger used for discarded-stanza diagnostics.
func WithLogger(logger *slog.Logger) ParserOption {
	return func(p *Parser) {
		p.logger = logger
	}
}

func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		// Order is priority: the first parser that accepts a line owns it.
		parsers: []LineParser{
			&SweepParser{},
			&StopTheWorldParser{},
			&SurvivorParser{},
			&AgeParser{},
			&ReallocationParser{},
			&CollectorParser{},
		},
		warmupFloor: DefaultWarmupFloor,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseStanza builds the event for one stanza. lines[0] must carry the
// timestamp and uptime prefix.
func (p *Parser) ParseStanza(lines []string) GCEvent {
	event := GCEvent{Type: GCTypeUnknown, Raw: lines}
	if len(lines) == 0 {
		return event
	}

	matches := stanzaStartPattern.FindStringSubmatch(lines[0])
	if matches == nil {
		return event
	}
	timestamp, err := time.Parse(timestampParseLayout, matches[1])
	if err != nil {
		p.discard(&event, ParseError{Line: lines[0], LineNum: 1, Err: err})
		return event
	}
	uptime, err := decimal.NewFromString(matches[2])
	if err != nil {
		p.discard(&event, ParseError{Line: lines[0], LineNum: 1, Err: err})
		return event
	}
	event.Timestamp = timestamp
	event.Uptime = uptime
	event.Type = ""

	context := &ParseContext{Event: &event}
	for i, line := range lines {
		context.LineNumber = i + 1
		p.parseLine(line, context)
		if context.Err != nil {
			p.discard(&event, context.Err)
			return event
		}
		if context.Done {
			break
		}
	}

	p.finish(lines, context)

	if event.Valid && event.Uptime.LessThan(p.warmupFloor) {
		event.Valid = false
		p.logger.Debug("event inside warm-up window", "uptime", event.Uptime, "floor", p.warmupFloor)
	}
	return event
}

func (p *Parser) parseLine(line string, context *ParseContext) {
	for _, parser := range p.parsers {
		if !parser.CanParse(line, context) {
			continue
		}
		if err := parser.Parse(line, context); err != nil {
			context.Err = ParseError{Line: line, LineNum: context.LineNumber, Err: err}
		}
		return
	}
}

func (p *Parser) finish(lines []string, context *ParseContext) {
	event := context.Event
	if event.Type == "" {
		event.Type = GCTypeUnknown
	}

	switch {
	case event.IsSweep():
		event.Valid = context.SweepParsed
	case event.STW:
		pause, ok := trailingPause(lines)
		if !ok {
			p.logger.Debug("stop-the-world stanza without pause time", "line", lines[0])
			return
		}
		event.STWTime = pause
		event.Valid = true
	default:
		event.Valid = context.SurvivorHeader && context.Reallocated
	}
}

func (p *Parser) discard(event *GCEvent, err error) {
	event.Valid = false
	p.logger.Debug("discarding malformed stanza", "error", err)
}

// trailingPause finds the last ", N secs]" token, preferring the stanza's
// final line.
func trailingPause(lines []string) (decimal.Decimal, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		all := pauseTrailerPattern.FindAllStringSubmatch(lines[i], -1)
		if len(all) == 0 {
			continue
		}
		pause, err := decimal.NewFromString(all[len(all)-1][1])
		if err != nil {
			return decimal.Zero, false
		}
		return pause, true
	}
	return decimal.Zero, false
}

type SweepParser struct{}

func (sp *SweepParser) CanParse(line string, context *ParseContext) bool {
	return strings.Contains(line, sweepMarker)
}

func (sp *SweepParser) Parse(line string, context *ParseContext) error {
	context.Done = true
	context.Event.Type = GCTypeCMSSweep

	matches := sweepPattern.FindStringSubmatch(line)
	if matches == nil {
		return nil
	}
	uptime, err := decimal.NewFromString(matches[1])
	if err != nil {
		return fmt.Errorf("invalid sweep uptime: %w", err)
	}
	sweep, err := decimal.NewFromString(matches[2])
	if err != nil {
		return fmt.Errorf("invalid sweep duration: %w", err)
	}

	context.Event.Uptime = uptime
	context.Event.SweepTime = sweep
	context.SweepParsed = true
	return nil
}

type StopTheWorldParser struct{}

func (sp *StopTheWorldParser) CanParse(line string, context *ParseContext) bool {
	for _, marker := range stwMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

func (sp *StopTheWorldParser) Parse(line string, context *ParseContext) error {
	context.Event.STW = true
	if strings.Contains(line, "Full GC") {
		context.Event.Type = GCTypeFull
	} else if context.Event.Type != GCTypeFull {
		context.Event.Type = GCTypeCMSSTW
	}
	return nil
}

type SurvivorParser struct{}

func (sp *SurvivorParser) CanParse(line string, context *ParseContext) bool {
	return !context.SurvivorHeader && survivorPattern.MatchString(line)
}

func (sp *SurvivorParser) Parse(line string, context *ParseContext) error {
	matches := survivorPattern.FindStringSubmatch(line)

	desired, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid desired survivor size: %w", err)
	}
	threshold, err := strconv.Atoi(matches[2])
	if err != nil {
		return fmt.Errorf("invalid tenuring threshold: %w", err)
	}
	maxThreshold, err := strconv.Atoi(matches[3])
	if err != nil {
		return fmt.Errorf("invalid max tenuring threshold: %w", err)
	}

	event := context.Event
	event.DesiredSurvivorBytes = desired
	event.Threshold = threshold
	event.MaxThreshold = maxThreshold
	event.Ages = make([]Cohort, maxThreshold)
	for i := range event.Ages {
		event.Ages[i] = Cohort{Age: i + 1, BytesUsed: Unseen, BytesTotal: Unseen}
	}

	context.SurvivorHeader = true
	return nil
}

type AgeParser struct{}

func (ap *AgeParser) CanParse(line string, context *ParseContext) bool {
	return context.SurvivorHeader && agePattern.MatchString(line)
}

func (ap *AgeParser) Parse(line string, context *ParseContext) error {
	matches := agePattern.FindStringSubmatch(line)

	age, err := strconv.Atoi(matches[1])
	if err != nil {
		return fmt.Errorf("invalid age: %w", err)
	}
	used, err := strconv.ParseInt(matches[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid age bytes: %w", err)
	}
	total, err := strconv.ParseInt(matches[3], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid age total: %w", err)
	}

	ages := context.Event.Ages
	if age < 1 || age > len(ages) {
		return nil
	}
	ages[age-1] = Cohort{Age: age, BytesUsed: used, BytesTotal: total}
	return nil
}

type ReallocationParser struct{}

func (rp *ReallocationParser) CanParse(line string, context *ParseContext) bool {
	return reallocationPattern.MatchString(line)
}

func (rp *ReallocationParser) Parse(line string, context *ParseContext) error {
	matches := reallocationPattern.FindStringSubmatch(line)

	sizes := make([]int64, 0, 6)
	for _, idx := range []int{1, 2, 3, 5, 6, 7} {
		v, err := strconv.ParseInt(matches[idx], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid generation size %q: %w", matches[idx], err)
		}
		sizes = append(sizes, v)
	}
	youngPause, err := decimal.NewFromString(matches[4])
	if err != nil {
		return fmt.Errorf("invalid young pause: %w", err)
	}
	totalPause, err := decimal.NewFromString(matches[8])
	if err != nil {
		return fmt.Errorf("invalid total pause: %w", err)
	}

	event := context.Event
	event.YoungBefore, event.YoungAfter, event.YoungTotal = sizes[0], sizes[1], sizes[2]
	event.HeapBefore, event.HeapAfter, event.HeapTotal = sizes[3], sizes[4], sizes[5]
	event.YoungPause = youngPause
	event.TotalPause = totalPause
	event.OldUsed = event.HeapAfter - event.YoungAfter

	context.Reallocated = true
	return nil
}

// CollectorParser names the event from the first line of a young collection.
type CollectorParser struct{}

func (cp *CollectorParser) CanParse(line string, context *ParseContext) bool {
	return context.Event.Type == "" && collectorPattern.MatchString(line)
}

func (cp *CollectorParser) Parse(line string, context *ParseContext) error {
	token := strings.TrimRight(collectorPattern.FindStringSubmatch(line)[1], ":")
	if token == string(GCTypeParNew) {
		context.Event.Type = GCTypeParNew
	} else {
		context.Event.Type = GCTypeUnknown
	}
	return nil
}
