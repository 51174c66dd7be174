package collect

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mabhi256/gctune/internal/gc"
)

// Follower tails a GC log from a byte offset, feeding complete lines through
// an Extractor into a History. A file that shrinks was truncated or rotated
// in place and is re-read from the start.
type Follower struct {
	Path         string
	PollInterval time.Duration
	// MaxInitialRead skips older content of a large existing log. Zero reads
	// everything.
	MaxInitialRead int64
	// Resolve, when set, picks the current file on every poll, e.g. the
	// newest rotated segment.
	Resolve func() string

	extractor *gc.Extractor
	history   *gc.History
	logger    *slog.Logger
	offset    int64
	lines     []string
}

func NewFollower(path string, poll time.Duration, parser *gc.Parser, logger *slog.Logger) *Follower {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Follower{
		Path:         path,
		PollInterval: poll,
		extractor:    gc.NewExtractor(parser),
		history:      gc.NewHistory(logger),
		logger:       logger,
	}
}

// Run polls until ctx ends, then flushes the trailing stanza if it is
// complete. Writes in the log's directory trigger an early poll; the poll
// interval stays the fallback where inotify is unavailable. A missing file
// is retried; other read errors end the run.
func (f *Follower) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.PollInterval)
	defer ticker.Stop()

	watch := newLogWatch(f.Path, f.logger)
	defer watch.close()

	first := true
	for {
		if err := f.poll(first); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			f.logger.Debug("gc log not found yet", "path", f.Path)
		}
		first = false

	wait:
		for {
			select {
			case <-ctx.Done():
				f.Flush()
				return nil
			case <-ticker.C:
				break wait
			case event, ok := <-watch.events():
				if !ok {
					watch = nil
					continue
				}
				if watch.relevant(event) {
					break wait
				}
			case err, ok := <-watch.errors():
				if !ok {
					watch = nil
					continue
				}
				f.logger.Debug("gc log watch error", "error", err)
			}
		}
	}
}

// logWatch reports changes to a log and its rotated segments. A nil
// logWatch never fires.
type logWatch struct {
	watcher *fsnotify.Watcher
	prefix  string
}

func newLogWatch(path string, logger *slog.Logger) *logWatch {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Debug("file notifications unavailable, polling only", "error", err)
		return nil
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logger.Debug("file notifications unavailable, polling only", "path", path, "error", err)
		watcher.Close()
		return nil
	}
	return &logWatch{watcher: watcher, prefix: segmentBase(filepath.Base(path))}
}

// segmentBase strips a rotation index, so gc.log.3 and gc.log both give
// gc.log.
func segmentBase(name string) string {
	ext := filepath.Ext(name)
	if len(ext) < 2 {
		return name
	}
	if _, err := strconv.Atoi(ext[1:]); err != nil {
		return name
	}
	return strings.TrimSuffix(name, ext)
}

func (w *logWatch) events() <-chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.watcher.Events
}

func (w *logWatch) errors() <-chan error {
	if w == nil {
		return nil
	}
	return w.watcher.Errors
}

func (w *logWatch) relevant(event fsnotify.Event) bool {
	return event.Has(fsnotify.Write|fsnotify.Create) &&
		strings.HasPrefix(filepath.Base(event.Name), w.prefix)
}

func (w *logWatch) close() {
	if w != nil {
		w.watcher.Close()
	}
}

// Flush ends the stream and keeps the buffered stanza when it is complete.
func (f *Follower) Flush() {
	if event, ok := f.extractor.Close(); ok {
		f.history.Accept(event)
	}
}

func (f *Follower) poll(first bool) error {
	if f.Resolve != nil {
		if path := f.Resolve(); path != f.Path {
			f.logger.Info("following rotated gc log", "from", f.Path, "to", path)
			f.Path = path
			f.offset = 0
		}
	}

	file, err := os.Open(f.Path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat gc log: %w", err)
	}
	size := info.Size()

	if size < f.offset {
		f.logger.Warn("gc log was truncated or rotated; reading from the start", "path", f.Path)
		f.offset = 0
		f.extractor.Reset()
	}
	skipPartial := false
	if first && f.MaxInitialRead > 0 && size > f.MaxInitialRead {
		f.offset = size - f.MaxInitialRead
		skipPartial = true
		f.logger.Info("gc log is large; reading only its tail", "bytes", f.MaxInitialRead)
	}
	if size == f.offset {
		return nil
	}

	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek gc log: %w", err)
	}
	return f.consume(bufio.NewReader(file), skipPartial)
}

// consume reads whole lines only; a line still being written is left for
// the next poll.
func (f *Follower) consume(r *bufio.Reader, skipPartial bool) error {
	for {
		line, err := r.ReadString('\n')
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read gc log: %w", err)
		}
		f.offset += int64(len(line))

		if skipPartial {
			skipPartial = false
			continue
		}
		f.lines = append(f.lines, strings.TrimRight(line, "\r\n"))
		if event, ok := f.extractor.Push(line); ok {
			f.history.Accept(event)
		}
	}
}

// Lines are the raw lines read so far.
func (f *Follower) Lines() []string {
	return f.lines
}

func (f *Follower) History() *gc.History {
	return f.history
}
