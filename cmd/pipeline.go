package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/mabhi256/gctune/internal/collect"
	"github.com/mabhi256/gctune/internal/config"
	"github.com/mabhi256/gctune/internal/gc"
	"github.com/mabhi256/gctune/internal/replay"
	"github.com/mabhi256/gctune/internal/report"
	"github.com/mabhi256/gctune/internal/tui"
)

const (
	outputCLI = "cli"
	outputTUI = "tui"

	// exitInsufficient is the status of a run whose report is partial.
	exitInsufficient = 2
)

var outputFormats = []string{outputCLI, outputTUI}

// inputs are the raw observations of one run, whatever their source.
type inputs struct {
	Lines    []string
	Counters gc.CounterSeries
	Static   *gc.StaticConfig
	Process  *collect.ProcessInfo
}

type pipeline struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer

	output string
	// savePath, when set, receives a snapshot of the inputs.
	savePath string
	optimize float64
}

func newParser(cfg *config.Config, logger *slog.Logger) *gc.Parser {
	return gc.NewParser(gc.WithWarmupFloor(cfg.WarmupFloor()), gc.WithLogger(logger))
}

// events parses log lines into the history of the current JVM lifetime.
func (p *pipeline) events(lines []string) []gc.GCEvent {
	history := gc.NewHistory(p.logger)
	for event := range gc.Events(slices.Values(lines), newParser(p.cfg, p.logger)) {
		history.Accept(event)
	}
	if history.Dropped() > 0 || history.Restarts() > 0 {
		p.logger.Info("gc log parsed",
			"events", history.Len(),
			"dropped", history.Dropped(),
			"restarts", history.Restarts())
	}
	return history.Events()
}

// analyse aggregates the events with in's counters, saves the snapshot and
// renders the result. An insufficient-data halt still renders, then exits
// with exitInsufficient.
func (p *pipeline) analyse(in inputs, events []gc.GCEvent) error {
	goals := p.cfg.EngineGoals()
	analysis := p.cfg.Aggregator().Aggregate(events, in.Counters)

	var static gc.StaticConfig
	if in.Static != nil {
		static = *in.Static
	}
	rec, recErr := gc.NewEngine(goals).Recommend(analysis, static)
	for _, m := range rec.Messages {
		p.logger.Debug("diagnostic", "severity", m.Severity, "stage", m.Stage.String(), "text", m.Text)
	}

	if p.savePath != "" {
		if err := p.save(in); err != nil {
			p.logger.Warn("failed to save snapshot", "path", p.savePath, "error", err)
		} else {
			p.logger.Info("snapshot saved", "path", p.savePath)
		}
	}

	switch p.output {
	case outputTUI:
		if err := tui.Run(analysis, rec, in.Static, goals); err != nil {
			return fmt.Errorf("unable to start TUI: %w", err)
		}
	default:
		r := report.New(analysis, rec)
		r.Host = hostname()
		r.Static = in.Static
		r.Process = in.Process
		r.SnapshotPath = p.savePath
		if err := r.Render(p.out); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}

	if recErr != nil {
		if errors.Is(recErr, gc.ErrInsufficientData) || errors.Is(recErr, gc.ErrSourceUnavailable) {
			return &exitError{code: exitInsufficient, err: recErr}
		}
		return recErr
	}
	return nil
}

func (p *pipeline) save(in inputs) error {
	s := replay.New(hostname(), p.optimize)
	s.LogLines = in.Lines
	s.Counters = in.Counters
	s.Static = in.Static
	s.Process = in.Process
	return replay.Save(p.savePath, s)
}

func hostname() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

// counterStart anchors file-based jstat samples to the first logged event
// so rates line up with the log.
func counterStart(events []gc.GCEvent) time.Time {
	if len(events) > 0 {
		return events[0].Timestamp
	}
	return time.Unix(0, 0).UTC()
}
