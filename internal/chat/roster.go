package chat

import (
	"context"
	"sync"

	"habita/internal/domain/entity"
)

// RosterSnapshot is the published state of a participant's conversation
// list. Loaded distinguishes "no conversations yet" from "still waiting for
// the first server response"; the two must never be conflated, because an
// empty-state prompt rendered before the first push is wrong, not cosmetic.
type RosterSnapshot struct {
	Conversations []entity.Conversation
	Loaded        bool
	Err           error
}

// Roster keeps a participant's conversation list synchronized through a
// ConversationChannel. New conversations involving the participant appear
// without a manual refresh; ordering is last-update descending as delivered
// by the channel.
type Roster struct {
	channel  ConversationChannel
	listener func(RosterSnapshot)

	mu            sync.Mutex
	participantID string
	epoch         uint64
	cancel        CancelFunc
	conversations []entity.Conversation
	loaded        bool
	lastErr       error
	pubSeq        uint64

	// pubMu serializes listener delivery; pubDelivered is guarded by it.
	pubMu        sync.Mutex
	pubDelivered uint64
}

// NewRoster creates a roster that publishes every state change to listener,
// one snapshot at a time with the newest state last. A nil listener is
// allowed; state is then available through Snapshot only. The listener must
// not call back into the roster.
func NewRoster(channel ConversationChannel, listener func(RosterSnapshot)) *Roster {
	return &Roster{channel: channel, listener: listener}
}

// Start opens the subscription for participantID. Starting an already
// started roster tears the previous subscription down first.
func (r *Roster) Start(ctx context.Context, participantID string) error {
	r.mu.Lock()
	previous := r.cancel
	r.cancel = nil
	r.epoch++
	epoch := r.epoch
	r.participantID = participantID
	r.conversations = nil
	r.loaded = false
	r.lastErr = nil
	r.mu.Unlock()

	if previous != nil {
		previous()
	}

	cancel, err := r.channel.Subscribe(ctx, participantID,
		func(conversations []entity.Conversation) {
			r.apply(epoch, conversations)
		},
		func(err error) {
			r.fail(epoch, err)
		},
	)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.epoch != epoch {
		// Lost a race with Stop or a newer Start.
		r.mu.Unlock()
		cancel()
		return nil
	}
	r.cancel = cancel
	r.mu.Unlock()
	return nil
}

// Stop tears down the subscription. Safe to call repeatedly.
func (r *Roster) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.epoch++
	r.participantID = ""
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Snapshot returns the current list and whether the first push has arrived.
func (r *Roster) Snapshot() RosterSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RosterSnapshot{
		Conversations: append([]entity.Conversation(nil), r.conversations...),
		Loaded:        r.loaded,
		Err:           r.lastErr,
	}
}

func (r *Roster) apply(epoch uint64, conversations []entity.Conversation) {
	r.mu.Lock()
	if r.epoch != epoch {
		// Stale push from a torn-down subscription.
		r.mu.Unlock()
		return
	}
	r.conversations = conversations
	r.loaded = true
	r.lastErr = nil
	r.pubSeq++
	seq := r.pubSeq
	snapshot := RosterSnapshot{
		Conversations: append([]entity.Conversation(nil), conversations...),
		Loaded:        true,
	}
	r.mu.Unlock()

	r.deliver(seq, snapshot)
}

func (r *Roster) fail(epoch uint64, err error) {
	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		return
	}
	r.lastErr = err
	r.pubSeq++
	seq := r.pubSeq
	snapshot := RosterSnapshot{
		Conversations: append([]entity.Conversation(nil), r.conversations...),
		Loaded:        r.loaded,
		Err:           err,
	}
	r.mu.Unlock()

	r.deliver(seq, snapshot)
}

// deliver hands a sequenced snapshot to the listener, dropping it when a
// newer one has already been delivered.
func (r *Roster) deliver(seq uint64, snapshot RosterSnapshot) {
	if r.listener == nil {
		return
	}
	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	if seq <= r.pubDelivered {
		return
	}
	r.pubDelivered = seq
	r.listener(snapshot)
}
