package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoim/convo/internal/stats"
	"github.com/convoim/convo/internal/testutil"
	"github.com/convoim/convo/internal/types"
)

type fakeTransport struct {
	mu       sync.Mutex
	frames   [][]byte
	writeErr error
	closed   bool
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	if data != nil {
		f.frames = append(f.frames, data)
	}
	return nil
}

func (f *fakeTransport) SetWriteDeadline(t time.Time) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) numFrames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeTransport) frame(i int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames[i]
}

func newTestHub(t *testing.T) *Hub {
	return NewHub(testutil.TestLogger(t), stats.NopUpdater{})
}

func messageEvent(conversationId string, seq int) *types.Event {
	return &types.Event{
		Type:           types.EventMessage,
		ConversationId: conversationId,
		Message: &types.Message{
			Id:             "msg",
			ConversationId: conversationId,
			Seq:            seq,
		},
		Timestamp: time.Now().UTC(),
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	h := newTestHub(t)

	c1 := h.Subscribe("alice", &fakeTransport{})
	c2 := h.Subscribe("alice", &fakeTransport{})
	assert.Equal(t, 2, h.NumConnections("alice"), "expected multi-device subscriptions")

	h.Unsubscribe(c1)
	assert.Equal(t, 1, h.NumConnections("alice"))

	// Unsubscribing twice is not an error.
	h.Unsubscribe(c1)
	assert.Equal(t, 1, h.NumConnections("alice"))

	h.Unsubscribe(c2)
	assert.Equal(t, 0, h.NumConnections("alice"))
}

func TestPublishReachesParticipants(t *testing.T) {
	h := newTestHub(t)

	bobT := &fakeTransport{}
	h.Subscribe("bob", bobT)
	carolT := &fakeTransport{}
	h.Subscribe("carol", carolT)
	eveT := &fakeTransport{}
	h.Subscribe("eve", eveT)

	reached := h.Publish([]string{"bob", "carol"}, messageEvent("conv-1", 1), nil)
	assert.ElementsMatch(t, []string{"bob", "carol"}, reached)

	assert.Eventually(t, func() bool {
		return bobT.numFrames() == 1 && carolT.numFrames() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, eveT.numFrames(), "non-participant must not receive the event")
}

func TestPublishEchoSuppression(t *testing.T) {
	h := newTestHub(t)

	origin := h.Subscribe("alice", &fakeTransport{})
	otherT := &fakeTransport{}
	h.Subscribe("alice", otherT)

	reached := h.Publish([]string{"alice"}, messageEvent("conv-1", 1), origin)
	assert.Equal(t, []string{"alice"}, reached, "other device still counts as reached")

	assert.Eventually(t, func() bool {
		return otherT.numFrames() == 1
	}, time.Second, 10*time.Millisecond)

	originT := origin.transport.(*fakeTransport)
	assert.Equal(t, 0, originT.numFrames(), "originating connection must be skipped")
}

func TestPublishOrderingPerConnection(t *testing.T) {
	h := newTestHub(t)

	bobT := &fakeTransport{}
	h.Subscribe("bob", bobT)

	h.Publish([]string{"bob"}, messageEvent("conv-1", 3), nil)
	h.Publish([]string{"bob"}, messageEvent("conv-1", 5), nil)

	require.Eventually(t, func() bool {
		return bobT.numFrames() == 2
	}, time.Second, 10*time.Millisecond)

	var first, second types.Event
	require.NoError(t, json.Unmarshal(bobT.frame(0), &first))
	require.NoError(t, json.Unmarshal(bobT.frame(1), &second))
	assert.Equal(t, 3, first.Message.Seq, "sequence 3 must be observed before 5")
	assert.Equal(t, 5, second.Message.Seq)
}

func TestStaleConnectionEvicted(t *testing.T) {
	h := newTestHub(t)

	bad := &fakeTransport{writeErr: errors.New("write timeout")}
	h.Subscribe("bob", bad)

	// One failed data write is enough: retrying later frames past a
	// dropped one would deliver them out of order.
	h.Publish([]string{"bob"}, messageEvent("conv-1", 1), nil)

	assert.Eventually(t, func() bool {
		return h.NumConnections("bob") == 0
	}, time.Second, 10*time.Millisecond, "connection should be evicted on a failed write")

	bad.mu.Lock()
	closed := bad.closed
	bad.mu.Unlock()
	assert.True(t, closed, "transport should be closed on eviction")
}

func TestEnqueueFullQueueEvicts(t *testing.T) {
	h := newTestHub(t)

	// Build the connection without a writer so the queue never drains.
	c := newConnection("bob", &fakeTransport{}, h)
	h.mu.Lock()
	h.conns["bob"] = map[*Connection]struct{}{c: {}}
	h.mu.Unlock()

	for i := 0; i < sendQueueSize; i++ {
		require.True(t, c.Enqueue(messageEvent("conv-1", i+1)))
	}

	reached := h.Publish([]string{"bob"}, messageEvent("conv-1", sendQueueSize+1), nil)
	assert.Empty(t, reached, "a full queue is a missed push, not a reorder")
	assert.Equal(t, 0, h.NumConnections("bob"), "connection with a full queue should be evicted")
}

func TestConnectionMetrics(t *testing.T) {
	st := &stats.MockUpdater{}
	st.On("RegisterMetric", "NumConnections").Once()
	st.On("RegisterMetric", "NumStaleEvictions").Once()
	st.On("Incr", "NumConnections").Once()
	st.On("Decr", "NumConnections").Once()

	h := NewHub(testutil.TestLogger(t), st)
	c := h.Subscribe("alice", &fakeTransport{})
	h.Unsubscribe(c)

	st.AssertExpectations(t)
}

func TestShutdownClosesConnections(t *testing.T) {
	h := newTestHub(t)

	tr := &fakeTransport{}
	h.Subscribe("alice", tr)
	h.Shutdown()

	assert.Equal(t, 0, h.NumConnections("alice"))
	assert.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.closed
	}, time.Second, 10*time.Millisecond)
}
