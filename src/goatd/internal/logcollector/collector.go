// Package logcollector implements the Log Collector: a
// dual-writer that appends every build output line verbatim to a raw log
// file, mirrors phase-marker lines into a separate parsed log file, and
// forwards a UI event for each line over a bounded channel.
//
// Grounded in common/logs/log.go's pluggable-writer idiom, generalized from
// a single structured-log sink to the build executor's raw/parsed fan-out.
package logcollector

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/MadGoatHaz/goatd-kernel/src/common/logs"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/models"
)

var log = logs.NewDefault()

// SetLogger overrides the package logger.
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Collector owns two append-only file writers and an output channel to the
// UI. Writes are funneled through a single background goroutine so the raw
// and parsed files never interleave lines from concurrent callers.
type Collector struct {
	raw    *os.File
	parsed *os.File
	events chan<- models.BuildEvent

	lines   chan logLine
	pending sync.WaitGroup
	done    sync.WaitGroup

	closeOnce sync.Once
}

type logLine struct {
	text     string
	isParsed bool
}

// New creates a Collector writing "<runID>.raw.log" and "<runID>.parsed.log"
// under logDir, forwarding a models.BuildEvent for every line to events.
// events may be nil, in which case lines are only persisted to disk.
func New(logDir, runID string, events chan<- models.BuildEvent) (*Collector, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	raw, err := os.Create(filepath.Join(logDir, runID+".raw.log"))
	if err != nil {
		return nil, fmt.Errorf("create raw log: %w", err)
	}
	parsed, err := os.Create(filepath.Join(logDir, runID+".parsed.log"))
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("create parsed log: %w", err)
	}

	c := &Collector{
		raw:    raw,
		parsed: parsed,
		events: events,
		lines:  make(chan logLine, 256),
	}
	c.done.Add(1)
	go c.run()
	return c, nil
}

func (c *Collector) run() {
	defer c.done.Done()
	for l := range c.lines {
		fmt.Fprintln(c.raw, l.text)
		if l.isParsed {
			fmt.Fprintln(c.parsed, l.text)
		}
		c.pending.Done()
	}
}

// WriteLine records one line of build output. isParsed marks lines the
// executor's classifier recognised as a phase marker. kind and text are forwarded
// to the UI event channel with a non-blocking send; a full channel drops
// the event with a log line, an absent (nil) channel is skipped silently,
// and neither blocks the build.
func (c *Collector) WriteLine(kind models.BuildEventKind, text string, isParsed bool) {
	c.pending.Add(1)
	c.lines <- logLine{text: text, isParsed: isParsed}
	c.emit(models.BuildEvent{Kind: kind, Text: text})
}

func (c *Collector) emit(evt models.BuildEvent) {
	if c.events == nil {
		return
	}
	select {
	case c.events <- evt:
	default:
		log.Warn("build event dropped, UI receiver not keeping up", "kind", evt.Kind)
	}
}

// EmitEvent forwards a non-log event (phase change, progress, status,
// error, installation-complete) with the same non-blocking semantics as
// WriteLine.
func (c *Collector) EmitEvent(evt models.BuildEvent) {
	c.emit(evt)
}

// WaitForEmpty blocks until every line enqueued so far has been written to
// disk. Tests call this before asserting on log file contents.
func (c *Collector) WaitForEmpty() {
	c.pending.Wait()
}

// Close flushes and closes both log files. Safe to call more than once.
func (c *Collector) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.pending.Wait()
		close(c.lines)
		c.done.Wait()
		if e := c.raw.Close(); e != nil {
			err = e
		}
		if e := c.parsed.Close(); e != nil && err == nil {
			err = e
		}
	})
	return err
}
