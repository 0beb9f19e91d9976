package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"habita/internal/domain/entity"
	"habita/internal/domain/repository"
	"habita/pkg/errors"
	"habita/pkg/logger"
)

type firestoreConversationRepository struct {
	client *firestore.Client
}

func NewFirestoreConversationRepository(client *firestore.Client) repository.ConversationRepository {
	return &firestoreConversationRepository{
		client: client,
	}
}

func (r *firestoreConversationRepository) Ensure(ctx context.Context, conversation *entity.Conversation) (*entity.Conversation, error) {
	docRef := r.client.Collection("conversations").Doc(conversation.ID)

	doc, err := docRef.Get(ctx)
	if err == nil {
		var existing entity.Conversation
		if err := doc.DataTo(&existing); err != nil {
			return nil, errors.Internal("Failed to parse conversation data", err)
		}
		return &existing, nil
	}
	if status.Code(err) != codes.NotFound {
		return nil, errors.Internal("Failed to get conversation", err)
	}

	now := time.Now()
	conversation.CreatedAt = now
	conversation.UpdatedAt = now

	if _, err := docRef.Create(ctx, conversation); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			// Lost the creation race; the other write's snapshot wins.
			return r.GetByID(ctx, conversation.ID)
		}
		return nil, errors.Internal("Failed to create conversation", err)
	}

	return conversation, nil
}

func (r *firestoreConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	doc, err := r.client.Collection("conversations").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Conversation", err)
		}
		return nil, errors.Internal("Failed to get conversation", err)
	}

	var conversation entity.Conversation
	if err := doc.DataTo(&conversation); err != nil {
		return nil, errors.Internal("Failed to parse conversation data", err)
	}

	return &conversation, nil
}

func (r *firestoreConversationRepository) ListByParticipant(ctx context.Context, participantID string, limit, offset int) ([]*entity.Conversation, int64, error) {
	query := r.client.Collection("conversations").
		Where("participantIds", "array-contains", participantID).
		OrderBy("updatedAt", firestore.Desc)

	allDocs, err := query.Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while fetching conversations for participant %s: %v", participantID, err)
		return nil, 0, errors.Internal("Failed to fetch conversations", err)
	}

	total := int64(len(allDocs))

	start := offset
	end := len(allDocs)
	if limit > 0 {
		end = start + limit
		if end > len(allDocs) {
			end = len(allDocs)
		}
	}
	if start > len(allDocs) {
		start = len(allDocs)
	}

	var conversations []*entity.Conversation
	for i := start; i < end; i++ {
		var conversation entity.Conversation
		if err := allDocs[i].DataTo(&conversation); err != nil {
			logger.Warn("Skipping unparsable conversation for participant %s: %v", participantID, err)
			continue
		}
		conversations = append(conversations, &conversation)
	}

	return conversations, total, nil
}

func (r *firestoreConversationRepository) AppendMessage(ctx context.Context, message *entity.Message) error {
	// Zeroed so the serverTimestamp sentinel assigns the authoritative
	// timestamp; the client clock is only an optimistic placeholder.
	stored := *message
	stored.SentAt = time.Time{}

	docRef := r.client.Collection("conversations").Doc(message.ConversationID).
		Collection("messages").Doc(message.ID)
	if _, err := docRef.Set(ctx, &stored); err != nil {
		return errors.Write("Couldn't send your message", err)
	}

	summary := entity.LastMessage{
		Content:  message.Content,
		SenderID: message.SenderID,
		Type:     message.Type,
		SentAt:   time.Now(),
	}
	if summary.Content == "" && message.File != nil {
		summary.Content = message.File.URL
	}

	parentRef := r.client.Collection("conversations").Doc(message.ConversationID)
	_, err := parentRef.Set(ctx, map[string]interface{}{
		"lastMessage": summary,
		"updatedAt":   firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		// The message landed; the stale summary heals on the next write.
		logger.Warn("Failed to update last-message summary for conversation %s: %v", message.ConversationID, err)
	}

	return nil
}

func (r *firestoreConversationRepository) Messages(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	query := r.client.Collection("conversations").Doc(conversationID).
		Collection("messages").OrderBy("sentAt", firestore.Asc)

	countDocs, err := query.Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while counting messages for conversation %s: %v", conversationID, err)
		return nil, 0, errors.Internal("Failed to count messages", err)
	}
	total := int64(len(countDocs))

	if offset > 0 {
		query = query.Offset(offset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	var messages []*entity.Message

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Error("Firestore error while iterating messages for conversation %s: %v", conversationID, err)
			return nil, 0, errors.Internal("Failed to iterate messages", err)
		}

		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			logger.Warn("Skipping unparsable message %s in conversation %s: %v", doc.Ref.ID, conversationID, err)
			continue
		}
		messages = append(messages, &message)
	}

	return messages, total, nil
}

func (r *firestoreConversationRepository) MarkRead(ctx context.Context, conversationID, readerID string) error {
	query := r.client.Collection("conversations").Doc(conversationID).
		Collection("messages").Where("senderId", "!=", readerID)

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return errors.Internal("Failed to load messages to mark read", err)
	}

	for _, doc := range docs {
		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			continue
		}
		if !entity.CanTransition(message.Status, entity.StatusRead) {
			continue
		}
		if _, err := doc.Ref.Update(ctx, []firestore.Update{
			{Path: "status", Value: entity.StatusRead},
		}); err != nil {
			return errors.Internal("Failed to mark messages read", err)
		}
	}

	return nil
}
