package stream

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/morbidsteve/agent-orchestra/internal/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSub struct {
	frames [][]byte
	closed bool
}

func (s *captureSub) Enqueue(frame []byte) bool {
	if s.closed {
		return false
	}
	s.frames = append(s.frames, frame)
	return true
}

func (s *captureSub) lines() []string {
	out := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		var frame OutputFrame
		_ = json.Unmarshal(f, &frame)
		out = append(out, frame.Line)
	}
	return out
}

func testBroker(t *testing.T) *Broker {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	return NewBroker(log)
}

func TestPublishThenSubscribeReplaysHistory(t *testing.T) {
	b := testBroker(t)
	stream := TaskStream("task-1")

	b.Publish(stream, NewOutputFrame("one", "plan"))
	b.Publish(stream, NewOutputFrame("two", "plan"))

	sub := &captureSub{}
	require.NoError(t, b.Subscribe(stream, sub, nil))
	assert.Equal(t, []string{"one", "two"}, sub.lines())

	b.Publish(stream, NewOutputFrame("three", "plan"))
	assert.Equal(t, []string{"one", "two", "three"}, sub.lines())
}

func TestReplayCapDropsOldest(t *testing.T) {
	b := testBroker(t)
	stream := TaskStream("task-1")

	for i := 0; i < ReplayCap+25; i++ {
		b.Publish(stream, NewOutputFrame(fmt.Sprintf("line-%d", i), ""))
	}

	sub := &captureSub{}
	require.NoError(t, b.Subscribe(stream, sub, nil))
	require.Len(t, sub.frames, ReplayCap)
	assert.Equal(t, "line-25", sub.lines()[0])
	assert.Equal(t, fmt.Sprintf("line-%d", ReplayCap+24), sub.lines()[ReplayCap-1])
}

func TestSubscriberCapEnforced(t *testing.T) {
	b := testBroker(t)
	stream := TaskStream("task-1")

	subs := make([]*captureSub, SubscriberCap)
	for i := range subs {
		subs[i] = &captureSub{}
		require.NoError(t, b.Subscribe(stream, subs[i], nil))
	}
	assert.Equal(t, SubscriberCap, b.SubscriberCount(stream))

	err := b.Subscribe(stream, &captureSub{}, nil)
	assert.ErrorIs(t, err, ErrStreamFull)
	assert.Equal(t, SubscriberCap, b.SubscriberCount(stream))
}

func TestSnapshotDeliveredAfterReplayBeforeLive(t *testing.T) {
	b := testBroker(t)
	stream := TaskStream("task-1")
	b.Publish(stream, NewOutputFrame("replayed", ""))

	sub := &captureSub{}
	require.NoError(t, b.Subscribe(stream, sub, func() []any {
		return []any{NewOutputFrame("snapshot", "")}
	}))
	b.Publish(stream, NewOutputFrame("live", ""))

	assert.Equal(t, []string{"replayed", "snapshot", "live"}, sub.lines())
}

func TestFailedSendDropsOnlyThatSubscriber(t *testing.T) {
	b := testBroker(t)
	stream := TaskStream("task-1")

	healthy := &captureSub{}
	broken := &captureSub{closed: true}
	require.NoError(t, b.Subscribe(stream, healthy, nil))

	// A closed subscriber can still be registered; the first publish drops it.
	b.mu.Lock()
	b.streams[stream].subs[broken] = struct{}{}
	b.mu.Unlock()

	b.Publish(stream, NewOutputFrame("hello", ""))
	assert.Equal(t, []string{"hello"}, healthy.lines())
	assert.Equal(t, 1, b.SubscriberCount(stream))
}

func TestResubscribeSeesSameReplayTail(t *testing.T) {
	b := testBroker(t)
	stream := ConversationStream("conv-1")
	b.Publish(stream, NewOutputFrame("persisted", ""))

	first := &captureSub{}
	require.NoError(t, b.Subscribe(stream, first, nil))
	b.Unsubscribe(stream, first)

	second := &captureSub{}
	require.NoError(t, b.Subscribe(stream, second, nil))
	assert.Equal(t, []string{"persisted"}, second.lines())
}

func TestEvictClearsReplay(t *testing.T) {
	b := testBroker(t)
	stream := TaskStream("task-1")
	b.Publish(stream, NewOutputFrame("gone", ""))
	b.Evict(stream)

	sub := &captureSub{}
	require.NoError(t, b.Subscribe(stream, sub, nil))
	assert.Empty(t, sub.frames)
}
