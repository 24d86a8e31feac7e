// Package telemetry records product analytics events without ever blocking
// or failing the request that produced them.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"reviewdeck/api/internal/store"
)

type eventWriter interface {
	InsertTelemetryEvent(ctx context.Context, event store.TelemetryEvent) error
}

// Recorder buffers events in a channel and writes them from a single
// background worker. When the buffer is full the event is dropped.
type Recorder struct {
	writer  eventWriter
	enabled bool
	events  chan store.TelemetryEvent
	done    chan struct{}
	wg      sync.WaitGroup
}

const defaultBuffer = 256

func NewRecorder(writer eventWriter, enabled bool) *Recorder {
	r := &Recorder{
		writer:  writer,
		enabled: enabled,
		events:  make(chan store.TelemetryEvent, defaultBuffer),
		done:    make(chan struct{}),
	}
	r.wg.Add(1)
	go r.worker()
	return r
}

// Record enqueues an event if analytics are enabled. It never blocks: when
// the buffer is full the event is dropped.
func (r *Recorder) Record(name string, userID *string, properties map[string]any) {
	if !r.enabled {
		return
	}
	event := store.TelemetryEvent{
		Name:       name,
		UserID:     userID,
		Properties: properties,
	}
	select {
	case r.events <- event:
	default:
		log.Debug().Str("event", name).Msg("telemetry: buffer full, event dropped")
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.events:
			r.write(event)
		case <-r.done:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case event := <-r.events:
					r.write(event)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(event store.TelemetryEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.writer.InsertTelemetryEvent(ctx, event); err != nil {
		log.Warn().Err(err).Str("event", event.Name).Msg("telemetry: write failed")
	}
}

// Close stops the worker after draining the queue.
func (r *Recorder) Close() {
	close(r.done)
	r.wg.Wait()
}
