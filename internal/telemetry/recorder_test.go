package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"reviewdeck/api/internal/store"
)

type captureWriter struct {
	mu     sync.Mutex
	events []store.TelemetryEvent
	block  chan struct{}
}

func (w *captureWriter) InsertTelemetryEvent(ctx context.Context, event store.TelemetryEvent) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, event)
	return nil
}

func (w *captureWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}

func TestRecorderWritesEvents(t *testing.T) {
	writer := &captureWriter{}
	recorder := NewRecorder(writer, true)

	userID := "user-1"
	recorder.Record("conversation_created", &userID, map[string]any{"workspace_id": "ws-1"})
	recorder.Close()

	if writer.count() != 1 {
		t.Fatalf("expected 1 event, got %d", writer.count())
	}
	if writer.events[0].Name != "conversation_created" {
		t.Fatalf("unexpected event name %q", writer.events[0].Name)
	}
}

func TestRecorderDisabledRecordsNothing(t *testing.T) {
	writer := &captureWriter{}
	recorder := NewRecorder(writer, false)

	recorder.Record("conversation_created", nil, nil)
	recorder.Close()

	if writer.count() != 0 {
		t.Fatalf("expected no events, got %d", writer.count())
	}
}

func TestRecordNeverBlocksWhenWorkerIsStuck(t *testing.T) {
	writer := &captureWriter{block: make(chan struct{})}
	recorder := NewRecorder(writer, true)

	done := make(chan struct{})
	go func() {
		// Far more events than the buffer holds; extras must be dropped,
		// not block the caller.
		for i := 0; i < defaultBuffer*3; i++ {
			recorder.Record("burst", nil, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a full buffer")
	}

	close(writer.block)
	recorder.Close()
}
