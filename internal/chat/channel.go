package chat

import (
	"context"

	"habita/internal/domain/entity"
)

// CancelFunc tears down a subscription. Implementations must make it
// idempotent: calling it more than once is safe and releases the underlying
// listener exactly once.
type CancelFunc func()

// MessageChannel opens a live query over one conversation's messages,
// ordered by timestamp ascending. Every server push delivers the full
// current ordered set, not a delta; subscribers re-derive their state from
// each push instead of merging locally.
//
// Open or mid-stream failures are reported through onError, never by
// panicking into the subscriber.
type MessageChannel interface {
	Subscribe(ctx context.Context, conversationID string, onPush func([]entity.Message), onError func(error)) (CancelFunc, error)
}

// ConversationChannel opens a live query over the conversations a
// participant belongs to, ordered by last update descending, with the same
// full-set push contract as MessageChannel.
type ConversationChannel interface {
	Subscribe(ctx context.Context, participantID string, onPush func([]entity.Conversation), onError func(error)) (CancelFunc, error)
}

// RealtimeEcho is the realtime write side used by the controller to echo an
// outbound message into the live store. It is deliberately separate from the
// durable write path: the two are independently-failable steps with no
// transaction spanning them.
type RealtimeEcho interface {
	AppendMessage(ctx context.Context, message *entity.Message) error
}
