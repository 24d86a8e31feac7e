// Package broadcast fans events out to the subscribers of a workspace.
// Channels are created lazily on first subscribe and removed when the last
// subscriber leaves. Each subscriber owns a bounded queue; when a slow
// consumer overflows it, the oldest entries are dropped and the consumer is
// told it lagged so it can resynchronize.
package broadcast

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrLagged is returned once by Next after a subscriber's queue
	// overflowed. Queued events delivered after it are contiguous again.
	ErrLagged = errors.New("subscriber lagged behind")
	// ErrClosed is returned by Next after Close, once the queue is drained.
	ErrClosed = errors.New("subscriber closed")
)

const DefaultBufferSize = 64

type Broadcaster struct {
	mu       sync.RWMutex
	channels map[string]*channel
	buffer   int
}

type channel struct {
	// pub serializes fan-out so every subscriber of the channel observes
	// concurrent publishes in the same relative order.
	pub  sync.Mutex
	subs map[*Subscriber]struct{}
}

func New(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	return &Broadcaster{
		channels: make(map[string]*channel),
		buffer:   buffer,
	}
}

// Publish delivers payload to every subscriber of the workspace. Concurrent
// publishes to the same workspace are serialized, so all subscribers see them
// in one shared order. Publishing to a workspace with no subscribers is a
// no-op. Publish never blocks on a slow subscriber: its oldest queued payload
// is dropped instead.
func (b *Broadcaster) Publish(workspaceID string, payload []byte) {
	b.mu.RLock()
	ch, ok := b.channels[workspaceID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	ch.pub.Lock()
	defer ch.pub.Unlock()

	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(ch.subs))
	for sub := range ch.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.push(payload)
	}
}

// Subscribe registers a new subscriber on the workspace's channel, creating
// the channel if it does not exist yet.
func (b *Broadcaster) Subscribe(workspaceID string) *Subscriber {
	sub := &Subscriber{
		broadcaster: b,
		workspaceID: workspaceID,
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	b.mu.Lock()
	ch, ok := b.channels[workspaceID]
	if !ok {
		ch = &channel{subs: make(map[*Subscriber]struct{})}
		b.channels[workspaceID] = ch
	}
	ch.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// SubscriberCount reports how many subscribers a workspace currently has.
func (b *Broadcaster) SubscriberCount(workspaceID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.channels[workspaceID]
	if !ok {
		return 0
	}
	return len(ch.subs)
}

func (b *Broadcaster) unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[sub.workspaceID]
	if !ok {
		return
	}
	delete(ch.subs, sub)
	if len(ch.subs) == 0 {
		delete(b.channels, sub.workspaceID)
	}
}

// Subscriber is a single consumer's view of a workspace channel.
type Subscriber struct {
	broadcaster *Broadcaster
	workspaceID string

	mu     sync.Mutex
	queue  [][]byte
	lagged bool
	closed bool

	notify chan struct{}
	done   chan struct{}
}

func (s *Subscriber) push(payload []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.broadcaster.buffer {
		s.queue = s.queue[1:]
		s.lagged = true
	}
	s.queue = append(s.queue, payload)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a payload is available and returns it. A lag is reported
// exactly once as ErrLagged before delivery continues from the surviving
// queue. After Close (or ctx cancellation) Next returns ErrClosed or the
// context error.
func (s *Subscriber) Next(ctx context.Context) ([]byte, error) {
	for {
		s.mu.Lock()
		if s.lagged {
			s.lagged = false
			s.mu.Unlock()
			return nil, ErrLagged
		}
		if len(s.queue) > 0 {
			payload := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return payload, nil
		}
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			// Loop once more to drain anything queued before Close.
		case <-s.notify:
		}
	}
}

// Close removes the subscriber from its channel. Pending queued payloads
// remain readable through Next until ErrClosed.
func (s *Subscriber) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.broadcaster.unsubscribe(s)
	close(s.done)
}
