package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{gate: make(chan struct{})}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

type recordSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordSink) Emit(_ context.Context, e Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func TestNewDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false, BufferSize: 4}, &recordSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "ignored"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestDispatcherBufferFullDropIfFullDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	start := time.Now()
	d.Emit(context.Background(), Event{EventType: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestDispatcherBufferFullBlocksUntilSpace(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: false}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	done := make(chan struct{})
	go func() {
		d.Emit(context.Background(), Event{EventType: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestDispatcherBlockedEmitHonoursContext(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	d.Emit(ctx, Event{EventType: "e3"})
	if time.Since(start) > time.Second {
		t.Fatal("expected cancelled context to release a blocked emit")
	}
}

func TestDispatcherCloseDrainsInOrder(t *testing.T) {
	sink := &recordSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	for _, name := range []string{"a", "b", "c"} {
		d.Emit(context.Background(), Event{EventType: name})
	}
	d.Close()

	got := sink.types()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("expected [a b c], got %v", got)
	}
}

func TestDispatcherCloseIdempotentAndEmitAfterCloseSafe(t *testing.T) {
	sink := &recordSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, DropIfFull: true}, sink)

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Close()
	d.Close()
	if d.Emit(context.Background(), Event{EventType: "e2"}) {
		t.Fatal("emit after close must report rejection")
	}

	if got := sink.types(); len(got) != 1 {
		t.Fatalf("expected only the pre-close event, got %v", got)
	}
}

func TestLogrusSinkLevels(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sink := LogrusSink{Logger: logger}

	sink.Emit(context.Background(), Event{
		EventType: "login_success",
		UserEmail: "grower@farm.test",
		Provider:  "backend_otp",
		Success:   true,
		Metadata:  map[string]string{"view": "sign_in"},
	})
	sink.Emit(context.Background(), Event{EventType: "login_failure", Error: "backend_rejected"})

	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != logrus.InfoLevel || entries[0].Data["user_email"] != "grower@farm.test" {
		t.Fatalf("unexpected success entry: %v %v", entries[0].Level, entries[0].Data)
	}
	if entries[0].Data["meta_view"] != "sign_in" {
		t.Fatalf("expected metadata field, got %v", entries[0].Data)
	}
	if entries[1].Level != logrus.WarnLevel || entries[1].Data["error"] != "backend_rejected" {
		t.Fatalf("unexpected failure entry: %v %v", entries[1].Level, entries[1].Data)
	}
}

func TestChannelSinkDelivers(t *testing.T) {
	sink := NewChannelSink(0)
	sink.Emit(context.Background(), Event{EventType: "session_established"})

	select {
	case e := <-sink.Events():
		if e.EventType != "session_established" {
			t.Fatalf("unexpected event %q", e.EventType)
		}
	case <-time.After(time.Second):
		t.Fatal("expected buffered event")
	}
}

type panicSink struct{ recordSink }

func (s *panicSink) Emit(ctx context.Context, e Event) {
	if e.EventType == "boom" {
		panic("sink failure")
	}
	s.recordSink.Emit(ctx, e)
}

func TestDispatcherSurvivesPanickingSink(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sink := &panicSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, Logger: logger}, sink)

	d.Emit(context.Background(), Event{EventType: "boom"})
	d.Emit(context.Background(), Event{EventType: "session_established"})
	d.Close()

	if got := sink.types(); len(got) != 1 || got[0] != "session_established" {
		t.Fatalf("expected relay to continue after a panic, got %v", got)
	}
	if d.Panicked() != 1 {
		t.Fatalf("expected 1 panicked delivery, got %d", d.Panicked())
	}
	last := hook.LastEntry()
	if last == nil || last.Level != logrus.ErrorLevel || last.Data["event"] != "boom" {
		t.Fatalf("expected sink panic logged, got %+v", last)
	}
}

func TestDispatcherStampsTimestamp(t *testing.T) {
	sink := &recordSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 2}, sink)
	fixed := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	if !d.Emit(context.Background(), Event{EventType: "login_success"}) {
		t.Fatal("expected event accepted")
	}
	kept := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d.Emit(context.Background(), Event{EventType: "login_failure", Timestamp: kept})
	d.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if !sink.events[0].Timestamp.Equal(fixed) {
		t.Fatalf("expected zero timestamp stamped, got %v", sink.events[0].Timestamp)
	}
	if !sink.events[1].Timestamp.Equal(kept) {
		t.Fatalf("expected caller timestamp kept, got %v", sink.events[1].Timestamp)
	}
}
