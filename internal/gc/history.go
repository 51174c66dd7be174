package gc

import (
	"log/slog"
	"slices"
)

// History accumulates the valid events of one JVM lifetime. A decrease in
// uptime means the JVM restarted, and everything gathered so far is dropped.
type History struct {
	events   []GCEvent
	dropped  int
	restarts int
	logger   *slog.Logger
}

func NewHistory(logger *slog.Logger) *History {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &History{logger: logger}
}

// Accept records a parsed event. Invalid events are counted and discarded.
// It reports whether the event triggered a restart reset.
func (h *History) Accept(event GCEvent) bool {
	if !event.Valid {
		h.dropped++
		return false
	}

	restarted := false
	if n := len(h.events); n > 0 && event.Uptime.LessThan(h.events[n-1].Uptime) {
		h.logger.Warn("JVM uptime went backwards, discarding history",
			"previous_uptime", h.events[n-1].Uptime,
			"uptime", event.Uptime,
			"discarded", n)
		h.events = h.events[:0]
		h.restarts++
		restarted = true
	}

	h.events = append(h.events, event)
	return restarted
}

func (h *History) AcceptAll(events []GCEvent) {
	for _, event := range events {
		h.Accept(event)
	}
}

// Events returns a copy of the accepted events in arrival order.
func (h *History) Events() []GCEvent {
	return slices.Clone(h.events)
}

func (h *History) Len() int {
	return len(h.events)
}

func (h *History) Dropped() int {
	return h.dropped
}

func (h *History) Restarts() int {
	return h.restarts
}
