package collect

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/mabhi256/gctune/internal/gc"
)

// SampleFunc observes each decoded row with the decoder's current header.
type SampleFunc func(sample gc.CounterSample, columns []string)

// Sampler runs jstat -gc against a JVM until it exits, the context ends or
// the stop condition is reached.
type Sampler struct {
	JavaHome string
	Interval time.Duration
	Stop     gc.StopCondition
	OnSample SampleFunc
	Logger   *slog.Logger

	now func() time.Time
}

func NewSampler(javaHome string, interval time.Duration, stop gc.StopCondition, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sampler{
		JavaHome: javaHome,
		Interval: interval,
		Stop:     stop,
		Logger:   logger,
		now:      time.Now,
	}
}

// Run returns the collected series. Cancellation is not an error.
func (s *Sampler) Run(ctx context.Context, pid int) (gc.CounterSeries, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, Tool(s.JavaHome, "jstat"),
		"-J-Xmx128M", "-gc", strconv.Itoa(pid), strconv.FormatInt(s.Interval.Milliseconds(), 10))
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return gc.CounterSeries{}, fmt.Errorf("failed to open jstat output: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return gc.CounterSeries{}, fmt.Errorf("%w: failed to start jstat: %v", gc.ErrSourceUnavailable, err)
	}
	s.Logger.Debug("jstat started", "pid", pid, "interval", s.Interval)

	series, reached, readErr := s.Consume(ctx, stdout)
	interrupted := ctx.Err() != nil
	// Stopping early kills jstat; its exit status is then meaningless.
	cancel()
	waitErr := cmd.Wait()

	switch {
	case readErr != nil:
		return series, readErr
	case reached:
		s.Logger.Info("stop condition reached", "samples", series.Len())
		return series, nil
	case interrupted:
		return series, nil
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) && series.Len() > 0 {
			s.Logger.Warn("jstat exited; the JVM has probably stopped", "samples", series.Len())
			return series, nil
		}
		return series, fmt.Errorf("%w: jstat: %v", gc.ErrSourceUnavailable, waitErr)
	}
	return series, nil
}

// Consume decodes jstat output from r. It reports whether the stop condition
// ended the read.
func (s *Sampler) Consume(ctx context.Context, r io.Reader) (gc.CounterSeries, bool, error) {
	var (
		decoder gc.JstatDecoder
		series  gc.CounterSeries
		stop    = s.Stop.Tracker()
	)

	now := s.now
	if now == nil {
		now = time.Now
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return series, false, nil
		}
		sample, ok := decoder.Decode(scanner.Text(), now())
		if !ok {
			continue
		}
		series.Append(sample)
		if s.OnSample != nil {
			s.OnSample(sample, decoder.Columns())
		}
		if stop.Observe(sample) {
			return series, true, nil
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return series, false, fmt.Errorf("error reading jstat output: %w", err)
	}
	return series, false, nil
}
