// Package sequencer hands out per-conversation sequence numbers.
// Each conversation has its own serialization point, so concurrent
// senders in one conversation are ordered without blocking senders
// in any other conversation.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrUnavailable means the conversation's serialization point could
// not be acquired or seeded within the configured bound. Callers are
// expected to retry with backoff.
var ErrUnavailable = errors.New("sequencer unavailable")

const defaultAcquireTimeout = 3 * time.Second

// SeqSource provides the last committed sequence number for a
// conversation, used to seed a counter on first use. The source must
// reflect every committed append, since an idle conversation's
// counter is dropped and reseeded on its next acquire.
type SeqSource interface {
	LastSeq(conversationId string) (int, error)
}

type convSeq struct {
	sem    chan struct{}
	next   int
	seeded bool
	refs   int
}

type Sequencer struct {
	log            *log.Logger
	source         SeqSource
	acquireTimeout time.Duration
	mu             sync.Mutex
	convs          map[string]*convSeq
}

func NewSequencer(logger *log.Logger, source SeqSource) *Sequencer {
	return &Sequencer{
		log:            logger,
		source:         source,
		acquireTimeout: defaultAcquireTimeout,
		convs:          make(map[string]*convSeq),
	}
}

// SetAcquireTimeout overrides the bound on waiting for a
// conversation's critical section.
func (s *Sequencer) SetAcquireTimeout(d time.Duration) {
	s.acquireTimeout = d
}

func (s *Sequencer) conv(conversationId string) *convSeq {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.convs[conversationId]
	if !ok {
		cs = &convSeq{sem: make(chan struct{}, 1)}
		s.convs[conversationId] = cs
	}
	cs.refs++
	return cs
}

// release drops one reference and evicts the entry once no acquirer
// holds or waits on it, so the map does not grow with every
// conversation ever touched.
func (s *Sequencer) release(conversationId string, cs *convSeq) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs.refs--
	if cs.refs == 0 {
		delete(s.convs, conversationId)
	}
}

// Acquire reserves the next sequence number for the conversation and
// holds its critical section until the returned ticket is committed
// or aborted. The number becomes permanent only on Commit; an aborted
// ticket returns the number to the pool so the log stays gapless.
func (s *Sequencer) Acquire(ctx context.Context, conversationId string) (*Ticket, error) {
	cs := s.conv(conversationId)

	timer := time.NewTimer(s.acquireTimeout)
	defer timer.Stop()

	select {
	case cs.sem <- struct{}{}:
	case <-timer.C:
		s.release(conversationId, cs)
		return nil, fmt.Errorf("acquire %q: %w", conversationId, ErrUnavailable)
	case <-ctx.Done():
		s.release(conversationId, cs)
		return nil, fmt.Errorf("acquire %q: %w", conversationId, ctx.Err())
	}

	if !cs.seeded {
		last, err := s.source.LastSeq(conversationId)
		if err != nil {
			<-cs.sem
			s.release(conversationId, cs)
			return nil, fmt.Errorf("seed %q: %w", conversationId, err)
		}
		cs.next = last + 1
		cs.seeded = true
		s.log.Printf("seeded sequencer for %q at %d", conversationId, cs.next)
	}

	return &Ticket{s: s, conversationId: conversationId, cs: cs, seq: cs.next}, nil
}

// Ticket is a reserved sequence number plus ownership of the
// conversation's critical section.
type Ticket struct {
	s              *Sequencer
	conversationId string
	cs             *convSeq
	seq            int
	done           bool
}

func (t *Ticket) Seq() int {
	return t.seq
}

// Commit makes the reserved number permanent and releases the
// critical section.
func (t *Ticket) Commit() {
	if t.done {
		return
	}
	t.done = true
	t.cs.next++
	<-t.cs.sem
	t.s.release(t.conversationId, t.cs)
}

// Abort releases the critical section without consuming the number.
func (t *Ticket) Abort() {
	if t.done {
		return
	}
	t.done = true
	<-t.cs.sem
	t.s.release(t.conversationId, t.cs)
}
