package gc

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"strings"
)

const maxLineBytes = 1024 * 1024

// Extractor splits a line stream into stanzas. It buffers the stanza in
// progress, so an Extractor belongs to exactly one stream.
type Extractor struct {
	parser  *Parser
	pending []string
}

func NewExtractor(parser *Parser) *Extractor {
	if parser == nil {
		parser = NewParser()
	}
	return &Extractor{parser: parser}
}

// Push feeds one line. When the line opens a new stanza the previous stanza
// is parsed and returned. Lines before the first stanza are ignored.
func (x *Extractor) Push(line string) (GCEvent, bool) {
	line = strings.TrimRight(line, "\r\n")

	if stanzaStartPattern.MatchString(line) {
		previous := x.pending
		x.pending = []string{line}
		if len(previous) == 0 {
			return GCEvent{}, false
		}
		return x.parser.ParseStanza(previous), true
	}

	if x.pending != nil {
		x.pending = append(x.pending, line)
	}
	return GCEvent{}, false
}

// Close ends the stream. The buffered stanza is returned only when one of
// its lines finishes a record; lines after the last such line, like the
// JVM's exit heap summary, are ignored. A stanza cut off before any
// finishing line is dropped unparsed.
func (x *Extractor) Close() (GCEvent, bool) {
	pending := x.pending
	x.pending = nil

	complete := completedPrefix(pending)
	if len(complete) == 0 {
		return GCEvent{}, false
	}
	return x.parser.ParseStanza(complete), true
}

// Reset drops any buffered stanza, e.g. after the log was truncated.
func (x *Extractor) Reset() {
	x.pending = nil
}

// Buffered is the number of lines held for the stanza in progress.
func (x *Extractor) Buffered() int {
	return len(x.pending)
}

// completedPrefix returns lines up to and including the last one that
// finishes a record, or nil.
func completedPrefix(lines []string) []string {
	for i := len(lines) - 1; i >= 0; i-- {
		if isTerminal(strings.TrimSpace(lines[i])) {
			return lines[:i+1]
		}
	}
	return nil
}

func isTerminal(line string) bool {
	return reallocationPattern.MatchString(line) ||
		sweepPattern.MatchString(line) ||
		strings.HasSuffix(line, "secs]")
}

// Events adapts a line sequence into an event sequence. Invalid events are
// yielded too; History filters them.
func Events(lines iter.Seq[string], parser *Parser) iter.Seq[GCEvent] {
	return func(yield func(GCEvent) bool) {
		x := NewExtractor(parser)
		for line := range lines {
			if event, ok := x.Push(line); ok && !yield(event) {
				return
			}
		}
		if event, ok := x.Close(); ok {
			yield(event)
		}
	}
}

// ParseLog reads a whole log and returns every event in it.
func ParseLog(r io.Reader, parser *Parser) ([]GCEvent, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	x := NewExtractor(parser)
	var events []GCEvent
	for scanner.Scan() {
		if event, ok := x.Push(scanner.Text()); ok {
			events = append(events, event)
		}
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("error reading gc log: %w", err)
	}
	if event, ok := x.Close(); ok {
		events = append(events, event)
	}
	return events, nil
}
