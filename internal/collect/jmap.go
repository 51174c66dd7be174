package collect

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mabhi256/gctune/internal/gc"
)

// CommandRunner runs a tool to completion and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// JmapProbe reads the heap configuration with jmap -heap. The attach often
// fails right after JVM start, so it retries with a growing delay:
// Backoff, 2*Backoff, ... for Attempts tries; 8 tries with a 2s Backoff
// wait 2, 4, ..., 14 seconds.
type JmapProbe struct {
	JavaHome string
	Attempts int
	Backoff  time.Duration
	Logger   *slog.Logger

	run CommandRunner
}

func NewJmapProbe(javaHome string, attempts int, backoff time.Duration, logger *slog.Logger) *JmapProbe {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &JmapProbe{
		JavaHome: javaHome,
		Attempts: attempts,
		Backoff:  backoff,
		Logger:   logger,
		run:      execOutput,
	}
}

func (p *JmapProbe) Probe(ctx context.Context, pid int) (gc.StaticConfig, error) {
	run := p.run
	if run == nil {
		run = execOutput
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	attempt := 0
	probe := func() (gc.StaticConfig, error) {
		attempt++
		out, err := run(ctx, Tool(p.JavaHome, "jmap"), "-J-Xmx128M", "-heap", strconv.Itoa(pid))
		if err != nil {
			return gc.StaticConfig{}, err
		}
		return gc.DecodeJmapHeap(bytes.NewReader(out))
	}

	config, err := backoff.Retry(ctx, probe,
		backoff.WithBackOff(&linearBackOff{step: p.Backoff}),
		backoff.WithMaxTries(uint(max(p.Attempts, 1))),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Warn("couldn't read heap configuration via jmap, retrying",
				"pid", pid, "attempt", attempt, "wait", wait, "error", err)
		}),
	)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return gc.StaticConfig{}, ctxErr
	}
	if err != nil {
		return gc.StaticConfig{}, fmt.Errorf("%w: jmap failed after %d attempts: %v", gc.ErrSourceUnavailable, attempt, err)
	}
	return config, nil
}

// linearBackOff waits step, 2*step, 3*step, ...
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.step * time.Duration(b.n)
}

func (b *linearBackOff) Reset() {
	b.n = 0
}
