package broker

import (
	"context"
	"sync"

	"github.com/myrjola/amlnarrator/internal/errors"
)

// ErrBusy is returned by Publish while the previous topic of the ID is still open or the ID is held by
// [ChannelBroker.Exclusive], and by Exclusive while a topic is open.
var ErrBusy = errors.NewSentinel("topic is still open")

// ChannelBroker passes the payloads of a producer to any number of consumers by ID.
//
// The producer never blocks: payloads are kept on the topic and every subscriber receives them from the start, so a
// consumer that connects late or reconnects, e.g., an SSE client, still sees the complete sequence. A closed topic
// stays available for replay until the ID is published again or removed.
type ChannelBroker[TID comparable, TPayload any] struct {
	mu     sync.Mutex
	topics map[TID]*Topic[TPayload]
	held   map[TID]struct{}
}

// NewChannelBroker creates an empty ChannelBroker.
func NewChannelBroker[TID comparable, TPayload any]() *ChannelBroker[TID, TPayload] {
	return &ChannelBroker[TID, TPayload]{
		mu:     sync.Mutex{},
		topics: map[TID]*Topic[TPayload]{},
		held:   map[TID]struct{}{},
	}
}

// Publish opens a new topic for id, replacing a closed one.
func (b *ChannelBroker[TID, TPayload]) Publish(id TID) (*Topic[TPayload], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topic, ok := b.topics[id]; ok && !topic.Closed() {
		return nil, ErrBusy
	}
	if _, ok := b.held[id]; ok {
		return nil, ErrBusy
	}
	topic := &Topic[TPayload]{
		mu:       sync.Mutex{},
		payloads: nil,
		closed:   false,
		changed:  make(chan struct{}),
	}
	b.topics[id] = topic
	return topic, nil
}

// Active reports whether the topic of id is open.
func (b *ChannelBroker[TID, TPayload]) Active(id TID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	topic, ok := b.topics[id]
	return ok && !topic.Closed()
}

// Remove forgets the topic of id. Current subscribers keep receiving from it.
func (b *ChannelBroker[TID, TPayload]) Remove(id TID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics, id)
}

// Exclusive runs fn while no topic can be published for id and removes the topic of id afterwards. It returns
// [ErrBusy] without calling fn when the topic of id is open or another Exclusive holds id.
func (b *ChannelBroker[TID, TPayload]) Exclusive(id TID, fn func() error) error {
	b.mu.Lock()
	_, held := b.held[id]
	if topic, ok := b.topics[id]; held || (ok && !topic.Closed()) {
		b.mu.Unlock()
		return ErrBusy
	}
	b.held[id] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.held, id)
		delete(b.topics, id)
	}()
	return fn()
}

// Subscribe returns a channel that receives every payload of the topic of id, from the first one, and is closed
// after the last one or when ctx is done. ok is false when nothing was published for id.
func (b *ChannelBroker[TID, TPayload]) Subscribe(ctx context.Context, id TID) (<-chan TPayload, bool) {
	b.mu.Lock()
	topic, ok := b.topics[id]
	b.mu.Unlock()
	if !ok {
		return nil, false
	}
	out := make(chan TPayload)
	go topic.follow(ctx, out)
	return out, true
}

// Topic is the payload sequence of one producer.
type Topic[TPayload any] struct {
	mu       sync.Mutex
	payloads []TPayload
	closed   bool
	// changed is closed and replaced whenever a payload is added or the topic is closed.
	changed chan struct{}
}

// Send appends payload. Sending on a closed topic is a no-op.
func (t *Topic[TPayload]) Send(payload TPayload) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.payloads = append(t.payloads, payload)
	close(t.changed)
	t.changed = make(chan struct{})
}

// Close ends the topic. Subscribers' channels are closed once they have received every payload.
func (t *Topic[TPayload]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.changed)
}

func (t *Topic[TPayload]) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Topic[TPayload]) follow(ctx context.Context, out chan<- TPayload) {
	defer close(out)
	next := 0
	for {
		t.mu.Lock()
		pending := t.payloads[next:len(t.payloads):len(t.payloads)]
		closed := t.closed
		changed := t.changed
		t.mu.Unlock()

		for _, payload := range pending {
			select {
			case out <- payload:
				next++
			case <-ctx.Done():
				return
			}
		}
		if closed && len(pending) == 0 {
			return
		}
		if len(pending) > 0 {
			// Look again before waiting; more may have arrived while sending.
			continue
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return
		}
	}
}
