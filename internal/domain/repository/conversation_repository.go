package repository

import (
	"context"

	"habita/internal/domain/entity"
)

// ConversationRepository is the realtime store: authoritative for live
// display, written by the realtime echo path.
type ConversationRepository interface {
	Ensure(ctx context.Context, conversation *entity.Conversation) (*entity.Conversation, error)
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)
	ListByParticipant(ctx context.Context, participantID string, limit, offset int) ([]*entity.Conversation, int64, error)

	// AppendMessage writes the message document and merge-updates the
	// parent conversation's last-message summary.
	AppendMessage(ctx context.Context, message *entity.Message) error
	Messages(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error)
	MarkRead(ctx context.Context, conversationID, readerID string) error
}
