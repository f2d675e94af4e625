package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/convoim/convo/internal/delivery"
	"github.com/convoim/convo/internal/hub"
	"github.com/convoim/convo/internal/sequencer"
	"github.com/convoim/convo/internal/stats"
	"github.com/convoim/convo/internal/store"
	"github.com/convoim/convo/internal/testutil"
	"github.com/convoim/convo/internal/types"
)

// recordingTransport collects the frames the hub writer pushes so
// tests can assert on what a client would have received.
type recordingTransport struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *recordingTransport) WriteMessage(messageType int, data []byte) error {
	if data == nil {
		return nil
	}
	var ev types.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingTransport) SetWriteDeadline(t time.Time) error { return nil }
func (r *recordingTransport) Close() error                       { return nil }

func (r *recordingTransport) numEvents() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recordingTransport) event(i int) types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[i]
}

func (r *recordingTransport) waitFor(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.numEvents() >= n
	}, time.Second, 10*time.Millisecond, "expected %d events", n)
}

type testEnv struct {
	db  *store.MemRepository
	hub *hub.Hub
	seq *sequencer.Sequencer
	svc *Service
}

func newTestEnv(t *testing.T) *testEnv {
	logger := testutil.TestLogger(t)
	db := store.NewMemRepository()
	h := hub.NewHub(logger, stats.NopUpdater{})
	seq := sequencer.NewSequencer(logger, db)
	tracker := delivery.NewTracker(logger, db)

	return &testEnv{
		db:  db,
		hub: h,
		seq: seq,
		svc: NewService(logger, db, seq, tracker, h, stats.NopUpdater{}),
	}
}

func (e *testEnv) startConversation(t *testing.T, userId string, others ...string) types.Conversation {
	t.Helper()
	conv, err := e.svc.StartConversation(userId, others)
	require.NoError(t, err)
	return conv
}

func TestStartConversation(t *testing.T) {
	env := newTestEnv(t)

	conv := env.startConversation(t, "alice", "bob")
	assert.ElementsMatch(t, []string{"alice", "bob"}, conv.ParticipantIds)

	// Bob starting the same pair lands in the same conversation.
	again := env.startConversation(t, "bob", "alice")
	assert.Equal(t, conv.Id, again.Id)

	_, err := env.svc.StartConversation("alice", nil)
	assert.ErrorIs(t, err, store.ErrInvalidParticipants)
}

func TestSendDeliversToConnectedRecipient(t *testing.T) {
	env := newTestEnv(t)
	conv := env.startConversation(t, "alice", "bob")

	bobT := &recordingTransport{}
	env.hub.Subscribe("bob", bobT)
	aliceT := &recordingTransport{}
	aliceConn := env.hub.Subscribe("alice", aliceT)

	msg, err := env.svc.Send(context.Background(), "alice", conv.Id, "hi bob", aliceConn)
	require.NoError(t, err)
	assert.Equal(t, 1, msg.Seq)
	assert.Equal(t, types.StatusSent, msg.Status)

	// Bob gets the message push followed by nothing else; the
	// delivery confirmation goes to the conversation, so he sees the
	// status frame too.
	bobT.waitFor(t, 1)
	push := bobT.event(0)
	assert.Equal(t, types.EventMessage, push.Type)
	assert.Equal(t, "hi bob", push.Message.Content)
	assert.Equal(t, 1, push.Message.Seq)

	// Alice's own connection is skipped for the message but observes
	// the delivered status update.
	aliceT.waitFor(t, 1)
	status := aliceT.event(0)
	assert.Equal(t, types.EventStatus, status.Type)
	assert.Equal(t, msg.Id, status.Status.MessageId)
	assert.Equal(t, types.StatusDelivered, status.Status.Status)
	assert.Equal(t, types.StatusDelivered, status.Status.Aggregate)

	stored, err := env.db.GetMessage(msg.Id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDelivered, stored.Status)
}

func TestSendOfflineRecipientStaysSent(t *testing.T) {
	env := newTestEnv(t)
	conv := env.startConversation(t, "alice", "bob")

	msg, err := env.svc.Send(context.Background(), "alice", conv.Id, "hello?", nil)
	require.NoError(t, err)

	stored, err := env.db.GetMessage(msg.Id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSent, stored.Status, "no live connection, so delivery is not confirmed")

	n, err := env.svc.tracker.Unread(conv.Id, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSendValidation(t *testing.T) {
	env := newTestEnv(t)
	conv := env.startConversation(t, "alice", "bob")

	_, err := env.svc.Send(context.Background(), "alice", conv.Id, "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = env.svc.Send(context.Background(), "eve", conv.Id, "hi", nil)
	assert.ErrorIs(t, err, store.ErrNotAParticipant)

	_, err = env.svc.Send(context.Background(), "alice", "missing", "hi", nil)
	assert.ErrorIs(t, err, store.ErrConversationNotFound)
}

func TestSendFailsWhenSequencerUnavailable(t *testing.T) {
	env := newTestEnv(t)
	conv := env.startConversation(t, "alice", "bob")

	// Hold the conversation's critical section for the whole test so
	// every acquire attempt times out.
	env.seq.SetAcquireTimeout(25 * time.Millisecond)
	held, err := env.seq.Acquire(context.Background(), conv.Id)
	require.NoError(t, err)
	defer held.Abort()

	_, err = env.svc.Send(context.Background(), "alice", conv.Id, "hi", nil)
	assert.ErrorIs(t, err, ErrSendFailed)

	// Nothing was appended on the failed send.
	msgs, err := env.svc.History(context.Background(), "alice", conv.Id, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	last, err := env.db.LastSeq(conv.Id)
	require.NoError(t, err)
	assert.Equal(t, 0, last)
}

func TestSendRetriesFailedAppend(t *testing.T) {
	logger := testutil.TestLogger(t)
	db := &store.MockRepository{}
	h := hub.NewHub(logger, stats.NopUpdater{})
	seq := sequencer.NewSequencer(logger, db)
	tracker := delivery.NewTracker(logger, db)
	svc := NewService(logger, db, seq, tracker, h, stats.NopUpdater{})

	db.On("GetConversation", "conv-1").
		Return(store.Conversation{Id: "conv-1", ParticipantIds: []string{"alice", "bob"}}, nil)
	// The sequencer reseeds after the aborted attempt drops its idle
	// entry, so LastSeq may be consulted more than once.
	db.On("LastSeq", "conv-1").Return(4, nil)

	var appended []int
	record := func(args mock.Arguments) {
		appended = append(appended, args.Get(0).(store.Message).Seq)
	}
	db.On("AppendMessage", mock.AnythingOfType("store.Message")).
		Run(record).Return(errors.New("connection reset")).Once()
	db.On("AppendMessage", mock.AnythingOfType("store.Message")).
		Run(record).Return(nil).Once()

	msg, err := svc.Send(context.Background(), "alice", "conv-1", "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, msg.Seq)

	// The aborted attempt returned its number, so the retry reissues
	// the same one.
	assert.Equal(t, []int{5, 5}, appended)
	db.AssertExpectations(t)
}

func TestMarkSeenFlow(t *testing.T) {
	env := newTestEnv(t)
	conv := env.startConversation(t, "alice", "bob")

	aliceT := &recordingTransport{}
	env.hub.Subscribe("alice", aliceT)

	msg, err := env.svc.Send(context.Background(), "alice", conv.Id, "hi", nil)
	require.NoError(t, err)

	// With no origin connection the sender gets her own message
	// echoed back. Drain it before asserting on the seen update.
	aliceT.waitFor(t, 1)
	base := aliceT.numEvents()

	require.NoError(t, env.svc.MarkSeen(context.Background(), "bob", conv.Id, msg.Id))

	aliceT.waitFor(t, base+1)
	seen := aliceT.event(base)
	assert.Equal(t, types.EventStatus, seen.Type)
	assert.Equal(t, types.StatusSeen, seen.Status.Status)
	assert.Equal(t, "bob", seen.Status.UserId)

	n, err := env.svc.tracker.Unread(conv.Id, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "seen clears the unread count")

	// Re-acknowledging publishes nothing.
	require.NoError(t, env.svc.MarkSeen(context.Background(), "bob", conv.Id, msg.Id))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, base+1, aliceT.numEvents())
}

func TestMarkSeenErrors(t *testing.T) {
	env := newTestEnv(t)
	conv := env.startConversation(t, "alice", "bob")
	other := env.startConversation(t, "alice", "carol")

	msg, err := env.svc.Send(context.Background(), "alice", conv.Id, "hi", nil)
	require.NoError(t, err)

	err = env.svc.MarkSeen(context.Background(), "bob", conv.Id, "missing")
	assert.ErrorIs(t, err, store.ErrMessageNotFound)

	// A message id from another conversation is indistinguishable
	// from a missing one.
	err = env.svc.MarkSeen(context.Background(), "carol", other.Id, msg.Id)
	assert.ErrorIs(t, err, store.ErrMessageNotFound)

	err = env.svc.MarkSeen(context.Background(), "eve", conv.Id, msg.Id)
	assert.ErrorIs(t, err, store.ErrNotAParticipant)
}

func TestMarkDelivered(t *testing.T) {
	env := newTestEnv(t)
	conv := env.startConversation(t, "alice", "bob")

	msg, err := env.svc.Send(context.Background(), "alice", conv.Id, "hi", nil)
	require.NoError(t, err)

	require.NoError(t, env.svc.MarkDelivered(context.Background(), "bob", msg.Id))

	stored, err := env.db.GetMessage(msg.Id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDelivered, stored.Status)

	err = env.svc.MarkDelivered(context.Background(), "eve", msg.Id)
	assert.ErrorIs(t, err, store.ErrNotAParticipant)
}

func TestConcurrentSendsAreGapless(t *testing.T) {
	env := newTestEnv(t)
	conv := env.startConversation(t, "alice", "bob")

	const numSenders = 16
	var wg sync.WaitGroup
	for i := 0; i < numSenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.svc.Send(context.Background(), "alice", conv.Id, fmt.Sprintf("msg %d", i), nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs, err := env.svc.History(context.Background(), "alice", conv.Id, 0, numSenders)
	require.NoError(t, err)
	require.Len(t, msgs, numSenders)

	// Newest first, contiguous down to 1.
	for i, m := range msgs {
		assert.Equal(t, numSenders-i, m.Seq)
	}
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t)
	conv := env.startConversation(t, "alice", "bob")

	for i := 0; i < 5; i++ {
		_, err := env.svc.Send(context.Background(), "alice", conv.Id, fmt.Sprintf("msg %d", i), nil)
		require.NoError(t, err)
	}

	page, err := env.svc.History(context.Background(), "bob", conv.Id, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, 5, page[0].Seq)
	assert.Equal(t, 4, page[1].Seq)

	page, err = env.svc.History(context.Background(), "bob", conv.Id, 4, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, 3, page[0].Seq)

	_, err = env.svc.History(context.Background(), "eve", conv.Id, 0, 10)
	assert.ErrorIs(t, err, store.ErrNotAParticipant)
}

func TestList(t *testing.T) {
	env := newTestEnv(t)
	conv1 := env.startConversation(t, "alice", "bob")
	conv2 := env.startConversation(t, "alice", "carol")

	_, err := env.svc.Send(context.Background(), "bob", conv1.Id, "first", nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = env.svc.Send(context.Background(), "carol", conv2.Id, "second", nil)
	require.NoError(t, err)

	conversations, err := env.svc.List(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, conv2.Id, conversations[0].Id, "most recent first")
	assert.Equal(t, 1, conversations[0].UnreadCount)
	assert.Equal(t, 1, conversations[1].UnreadCount)
}

func TestReconnectBackfill(t *testing.T) {
	env := newTestEnv(t)
	conv := env.startConversation(t, "alice", "bob")

	// Bob is offline while alice sends.
	first, err := env.svc.Send(context.Background(), "alice", conv.Id, "while you were out", nil)
	require.NoError(t, err)

	// On reconnect the client backfills via history and acknowledges
	// delivery of what it missed.
	bobT := &recordingTransport{}
	env.hub.Subscribe("bob", bobT)

	missed, err := env.svc.History(context.Background(), "bob", conv.Id, 0, 20)
	require.NoError(t, err)
	require.Len(t, missed, 1)
	assert.Equal(t, first.Id, missed[0].Id)
	assert.Equal(t, types.StatusSent, missed[0].Status)

	require.NoError(t, env.svc.MarkDelivered(context.Background(), "bob", first.Id))

	// Live traffic resumes over the new connection.
	second, err := env.svc.Send(context.Background(), "alice", conv.Id, "welcome back", nil)
	require.NoError(t, err)

	bobT.waitFor(t, 1)
	var gotLive bool
	for i := 0; i < bobT.numEvents(); i++ {
		ev := bobT.event(i)
		if ev.Type == types.EventMessage && ev.Message.Id == second.Id {
			gotLive = true
		}
	}
	assert.True(t, gotLive, "reconnected client receives new messages live")
}
