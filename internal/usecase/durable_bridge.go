package usecase

import (
	"context"
	"time"

	"habita/internal/domain/entity"
)

// DurableBridge adapts the chat usecase to the controller's durable write
// interface for single-binary deployments, where the gateway and the
// chat-session API live in the same process. Split deployments use the
// REST client in internal/chat instead.
type DurableBridge struct {
	chat *ChatUseCase
}

func NewDurableBridge(chat *ChatUseCase) *DurableBridge {
	return &DurableBridge{chat: chat}
}

func (b *DurableBridge) PersistMessage(ctx context.Context, message entity.Message) error {
	input := SendMessageInput{
		ID:      message.ID,
		Content: message.Content,
		Type:    message.Type,
		SentAt:  message.SentAt.Format(time.RFC3339Nano),
	}
	if message.File != nil {
		input.FileURL = message.File.URL
		input.FilePath = message.File.Path
	}

	_, err := b.chat.SendMessage(ctx, message.SenderID, message.ConversationID, input)
	return err
}
