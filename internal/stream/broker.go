// Package stream implements the engine's websocket-facing event fabric:
// named streams with bounded replay buffers and subscriber fan-out.
//
// Two namespaces exist, task/<id> and conversation/<id>. Every frame published
// to a stream is appended to its replay buffer before any delivery attempt, so
// a subscriber that connects immediately afterwards misses nothing of the
// bounded history. Delivery is per-stream FIFO; there is no cross-stream order.
package stream

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/morbidsteve/agent-orchestra/internal/common/logger"
	"go.uber.org/zap"
)

const (
	// ReplayCap bounds the per-stream replay buffer; oldest frames are dropped.
	ReplayCap = 500

	// SubscriberCap bounds live subscribers per logical stream id.
	SubscriberCap = 10
)

// ErrStreamFull is returned when a stream already has SubscriberCap subscribers.
var ErrStreamFull = errors.New("stream subscriber limit reached")

// Subscriber receives marshaled frames. Enqueue must not block; it reports
// false when the subscriber can no longer accept frames, which removes it
// from the stream.
type Subscriber interface {
	Enqueue(frame []byte) bool
}

type streamState struct {
	replay [][]byte
	subs   map[Subscriber]struct{}
}

// Broker owns all streams. A single mutex guards the stream table; nothing
// under the lock suspends, so publish order is the delivery order.
type Broker struct {
	mu      sync.Mutex
	streams map[string]*streamState
	logger  *logger.Logger
}

// NewBroker creates an empty broker.
func NewBroker(log *logger.Logger) *Broker {
	return &Broker{
		streams: make(map[string]*streamState),
		logger:  log.WithFields(zap.String("component", "stream-broker")),
	}
}

// Publish marshals frame, appends it to the stream's replay buffer, then
// delivers it to every current subscriber. Subscribers whose Enqueue fails
// are dropped. Publish never fails; a marshal error only logs.
func (b *Broker) Publish(streamID string, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		b.logger.Error("failed to marshal frame", zap.String("stream", streamID), zap.Error(err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.streams[streamID]
	if st == nil {
		st = &streamState{subs: make(map[Subscriber]struct{})}
		b.streams[streamID] = st
	}

	// Replay append happens before any send attempt.
	st.replay = append(st.replay, data)
	if len(st.replay) > ReplayCap {
		st.replay = st.replay[len(st.replay)-ReplayCap:]
	}

	for sub := range st.subs {
		if !sub.Enqueue(data) {
			delete(st.subs, sub)
			b.logger.Debug("dropped slow subscriber", zap.String("stream", streamID))
		}
	}
}

// Subscribe replays the buffered history to sub in order, then the optional
// snapshot frames, then attaches sub for live delivery. Returns ErrStreamFull
// when the stream is at capacity. The snapshot callback runs under the broker
// lock and must not block.
func (b *Broker) Subscribe(streamID string, sub Subscriber, snapshot func() []any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.streams[streamID]
	if st == nil {
		st = &streamState{subs: make(map[Subscriber]struct{})}
		b.streams[streamID] = st
	}
	if len(st.subs) >= SubscriberCap {
		return ErrStreamFull
	}

	for _, data := range st.replay {
		if !sub.Enqueue(data) {
			return nil // subscriber already gone; nothing was registered
		}
	}
	if snapshot != nil {
		for _, frame := range snapshot() {
			data, err := json.Marshal(frame)
			if err != nil {
				b.logger.Error("failed to marshal snapshot frame", zap.String("stream", streamID), zap.Error(err))
				continue
			}
			if !sub.Enqueue(data) {
				return nil
			}
		}
	}

	st.subs[sub] = struct{}{}
	return nil
}

// Unsubscribe detaches sub. The stream entry is removed once it has no
// subscribers and no replay history worth keeping is requested elsewhere;
// replay is retained so resubscribes see the same tail.
func (b *Broker) Unsubscribe(streamID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.streams[streamID]
	if st == nil {
		return
	}
	delete(st.subs, sub)
	if len(st.subs) == 0 && len(st.replay) == 0 {
		delete(b.streams, streamID)
	}
}

// Evict drops a stream entirely, replay buffer included.
func (b *Broker) Evict(streamID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.streams, streamID)
}

// SubscriberCount reports the live subscriber count for a stream.
func (b *Broker) SubscriberCount(streamID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st := b.streams[streamID]; st != nil {
		return len(st.subs)
	}
	return 0
}
