package logcollector

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/models"
)

func TestWriteLineSplitsRawAndParsed(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, "run-1", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.WriteLine(models.EventLog, "just a build log line", false)
	c.WriteLine(models.EventStatusUpdate, "Compiling: foo.c", true)
	c.WaitForEmpty()
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "run-1.raw.log"))
	if err != nil {
		t.Fatalf("read raw log: %v", err)
	}
	if !strings.Contains(string(raw), "just a build log line") || !strings.Contains(string(raw), "Compiling: foo.c") {
		t.Errorf("raw log missing expected lines: %q", raw)
	}

	parsed, err := os.ReadFile(filepath.Join(dir, "run-1.parsed.log"))
	if err != nil {
		t.Fatalf("read parsed log: %v", err)
	}
	if strings.Contains(string(parsed), "just a build log line") {
		t.Errorf("parsed log should not contain unparsed lines: %q", parsed)
	}
	if !strings.Contains(string(parsed), "Compiling: foo.c") {
		t.Errorf("parsed log missing marker line: %q", parsed)
	}
}

func TestWriteLineForwardsEventsToChannel(t *testing.T) {
	dir := t.TempDir()
	events := make(chan models.BuildEvent, 4)
	c, err := New(dir, "run-2", events)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.WriteLine(models.EventLog, "hello", false)
	c.WaitForEmpty()

	select {
	case evt := <-events:
		if evt.Text != "hello" || evt.Kind != models.EventLog {
			t.Errorf("got %+v", evt)
		}
	default:
		t.Fatal("expected an event on the channel")
	}
}

func TestWriteLineDropsEventOnFullChannelWithoutBlocking(t *testing.T) {
	dir := t.TempDir()
	events := make(chan models.BuildEvent) // unbuffered, nobody reading
	c, err := New(dir, "run-3", events)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})
	go func() {
		c.WriteLine(models.EventLog, "never read", false)
		close(done)
	}()
	<-done // must not block despite nobody draining events
	c.WaitForEmpty()
}

func TestEmitEventWithNilEventsChannelIsNoOp(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, "run-4", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.EmitEvent(models.BuildEvent{Kind: models.EventPhaseChanged})
}

func TestCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, "run-5", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}
