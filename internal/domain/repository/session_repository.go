package repository

import (
	"context"

	"habita/internal/domain/entity"
)

// SessionRepository is the durable store behind the chat-session REST
// resource: authoritative for audit and reporting. It is written only by the
// durable path and is eventually consistent with the realtime store; the two
// are never transactionally linked.
type SessionRepository interface {
	// Create is idempotent: creating an existing session returns the
	// stored one unchanged.
	Create(ctx context.Context, session *entity.Conversation) (*entity.Conversation, error)
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)
	ListByParticipant(ctx context.Context, participantID string, limit, offset int) ([]*entity.Conversation, int64, error)

	AppendMessage(ctx context.Context, message *entity.Message) error
	Messages(ctx context.Context, sessionID string, limit, offset int) ([]*entity.Message, int64, error)
	MarkRead(ctx context.Context, sessionID, readerID string) error
}
