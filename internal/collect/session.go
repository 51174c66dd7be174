// Package collect gathers the inputs of an analysis from a live JVM: its GC
// log, jstat counters, jmap heap configuration and /proc details.
package collect

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mabhi256/gctune/internal/gc"
)

// Result is everything a finished Session observed.
type Result struct {
	Events   []gc.GCEvent
	Lines    []string
	Counters gc.CounterSeries
	Dropped  int
	Restarts int
}

// Session runs the log follower and the jstat sampler side by side. Each
// goroutine owns its own state; the streams are merged only in Result, after
// both have stopped. The sampler's stop condition ends the whole session.
type Session struct {
	PID      int
	Follower *Follower
	Sampler  *Sampler
	Logger   *slog.Logger

	counters gc.CounterSeries
}

func NewSession(pid int, follower *Follower, sampler *Sampler, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{PID: pid, Follower: follower, Sampler: sampler, Logger: logger}
}

// Run blocks until ctx is cancelled, the stop condition is reached, jstat
// exits or either side fails.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.Follower.Run(gctx)
	})

	g.Go(func() error {
		// The follower has nothing more to wait for once sampling ends.
		defer cancel()
		series, err := s.Sampler.Run(gctx, s.PID)
		s.counters = series
		return err
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("collection stopped: %w", err)
	}
	s.Logger.Info("collection finished",
		"events", s.Follower.History().Len(),
		"samples", s.counters.Len())
	return nil
}

// Result is only meaningful after Run returns.
func (s *Session) Result() Result {
	history := s.Follower.History()
	return Result{
		Events:   history.Events(),
		Lines:    s.Follower.Lines(),
		Counters: s.counters,
		Dropped:  history.Dropped(),
		Restarts: history.Restarts(),
	}
}
