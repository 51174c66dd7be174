package gc

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData means the analysis stopped early; the partial
	// Recommendation is still usable.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrSourceUnavailable means a counter or configuration source gave no
	// usable data after its retries.
	ErrSourceUnavailable = errors.New("data source unavailable")

	// ErrInconsistentConfig marks sources that disagree about the heap
	// layout. It is reported as a diagnostic, never returned.
	ErrInconsistentConfig = errors.New("inconsistent heap configuration")
)

// Stage is a step of the sizing engine, in execution order.
type Stage int

const (
	StageInput Stage = iota
	StageRegime
	StageSurvivor
	StageHeap
	StageOccupancy
	StageReadiness
)

func (s Stage) String() string {
	switch s {
	case StageInput:
		return "input"
	case StageRegime:
		return "regime selection"
	case StageSurvivor:
		return "survivor sizing"
	case StageHeap:
		return "heap sizing"
	case StageOccupancy:
		return "occupancy fraction"
	case StageReadiness:
		return "collector readiness"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// HaltError reports the stage at which the engine stopped for lack of data.
type HaltError struct {
	Stage  Stage
	Reason string
}

func (e *HaltError) Error() string {
	return fmt.Sprintf("%s: halted at %s: %s", ErrInsufficientData, e.Stage, e.Reason)
}

func (e *HaltError) Unwrap() error {
	return ErrInsufficientData
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Diagnostic is one message produced while analysing, kept in emission order.
type Diagnostic struct {
	Severity Severity `yaml:"severity" json:"severity"`
	Stage    Stage    `yaml:"stage" json:"stage"`
	Text     string   `yaml:"text" json:"text"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("[%s] %s", d.Severity, d.Text)
}
