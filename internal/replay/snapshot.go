// Package replay stores the raw inputs of a watch session so the analysis
// can be re-run later, on another machine or with different goals.
package replay

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/pierrec/lz4/v4"
	"gopkg.in/yaml.v3"

	"github.com/mabhi256/gctune/internal/collect"
	"github.com/mabhi256/gctune/internal/gc"
)

// Version is bumped whenever a field changes meaning.
const Version = 1

var ErrUnsupportedVersion = errors.New("unsupported snapshot version")

// Snapshot holds inputs only; events and recommendations are derived again on
// load.
type Snapshot struct {
	Version   int                  `yaml:"version"`
	CreatedAt time.Time            `yaml:"created_at"`
	Host      string               `yaml:"host"`
	Optimize  float64              `yaml:"optimize"`
	Process   *collect.ProcessInfo `yaml:"process,omitempty"`
	Static    *gc.StaticConfig     `yaml:"static,omitempty"`
	Counters  gc.CounterSeries     `yaml:"counters"`
	LogLines  []string             `yaml:"log_lines"`
}

func New(host string, optimize float64) *Snapshot {
	return &Snapshot{
		Version:   Version,
		CreatedAt: time.Now().UTC(),
		Host:      host,
		Optimize:  optimize,
	}
}

// History re-parses the stored log lines into the history of the JVM
// lifetime they end in.
func (s *Snapshot) History(parser *gc.Parser, logger *slog.Logger) *gc.History {
	history := gc.NewHistory(logger)
	for event := range gc.Events(slices.Values(s.LogLines), parser) {
		history.Accept(event)
	}
	return history
}

// Write encodes the snapshot as YAML inside an LZ4 frame.
func Write(w io.Writer, s *Snapshot) error {
	zw := lz4.NewWriter(w)
	enc := yaml.NewEncoder(zw)
	enc.SetIndent(2)

	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to compress snapshot: %w", err)
	}
	return nil
}

func Read(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := yaml.NewDecoder(lz4.NewReader(r)).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if s.Version != Version {
		return nil, fmt.Errorf("%w: %d (expected %d)", ErrUnsupportedVersion, s.Version, Version)
	}
	return &s, nil
}

// Save writes atomically: a crash mid-write leaves the previous snapshot.
func Save(path string, s *Snapshot) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".gctune-snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, s); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()
	return Read(f)
}
