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

// firestoreSessionRepository backs the durable chat-session resource. It is
// a separate collection from the realtime store: writes here are the
// system-of-record side of the dual write and never feed live subscriptions.
type firestoreSessionRepository struct {
	client *firestore.Client
}

func NewFirestoreSessionRepository(client *firestore.Client) repository.SessionRepository {
	return &firestoreSessionRepository{
		client: client,
	}
}

func (r *firestoreSessionRepository) Create(ctx context.Context, session *entity.Conversation) (*entity.Conversation, error) {
	docRef := r.client.Collection("chat_sessions").Doc(session.ID)

	doc, err := docRef.Get(ctx)
	if err == nil {
		var existing entity.Conversation
		if err := doc.DataTo(&existing); err != nil {
			return nil, errors.Internal("Failed to parse chat session data", err)
		}
		return &existing, nil
	}
	if status.Code(err) != codes.NotFound {
		return nil, errors.Internal("Failed to get chat session", err)
	}

	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now

	if _, err := docRef.Create(ctx, session); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return r.GetByID(ctx, session.ID)
		}
		return nil, errors.Internal("Failed to create chat session", err)
	}

	return session, nil
}

func (r *firestoreSessionRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	doc, err := r.client.Collection("chat_sessions").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Chat session", err)
		}
		return nil, errors.Internal("Failed to get chat session", err)
	}

	var session entity.Conversation
	if err := doc.DataTo(&session); err != nil {
		return nil, errors.Internal("Failed to parse chat session data", err)
	}

	return &session, nil
}

func (r *firestoreSessionRepository) ListByParticipant(ctx context.Context, participantID string, limit, offset int) ([]*entity.Conversation, int64, error) {
	query := r.client.Collection("chat_sessions").
		Where("participantIds", "array-contains", participantID).
		OrderBy("updatedAt", firestore.Desc)

	allDocs, err := query.Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while fetching chat sessions for participant %s: %v", participantID, err)
		return nil, 0, errors.Internal("Failed to fetch chat sessions", err)
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

	var sessions []*entity.Conversation
	for i := start; i < end; i++ {
		var session entity.Conversation
		if err := allDocs[i].DataTo(&session); err != nil {
			logger.Warn("Skipping unparsable chat session for participant %s: %v", participantID, err)
			continue
		}
		sessions = append(sessions, &session)
	}

	return sessions, total, nil
}

func (r *firestoreSessionRepository) AppendMessage(ctx context.Context, message *entity.Message) error {
	docRef := r.client.Collection("chat_sessions").Doc(message.ConversationID).
		Collection("messages").Doc(message.ID)

	// Idempotent by message ID: the client retries failed sends with the
	// same ID, and the last write for an ID wins.
	if _, err := docRef.Set(ctx, message); err != nil {
		return errors.Write("Couldn't record your message", err)
	}

	summary := entity.LastMessage{
		Content:  message.Content,
		SenderID: message.SenderID,
		Type:     message.Type,
		SentAt:   message.SentAt,
	}
	if summary.Content == "" && message.File != nil {
		summary.Content = message.File.URL
	}

	parentRef := r.client.Collection("chat_sessions").Doc(message.ConversationID)
	_, err := parentRef.Set(ctx, map[string]interface{}{
		"lastMessage": summary,
		"updatedAt":   firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		logger.Warn("Failed to update last-message summary for chat session %s: %v", message.ConversationID, err)
	}

	return nil
}

func (r *firestoreSessionRepository) Messages(ctx context.Context, sessionID string, limit, offset int) ([]*entity.Message, int64, error) {
	query := r.client.Collection("chat_sessions").Doc(sessionID).
		Collection("messages").OrderBy("sentAt", firestore.Asc)

	countDocs, err := query.Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while counting messages for chat session %s: %v", sessionID, err)
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
			logger.Error("Firestore error while iterating messages for chat session %s: %v", sessionID, err)
			return nil, 0, errors.Internal("Failed to iterate messages", err)
		}

		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			logger.Warn("Skipping unparsable message %s in chat session %s: %v", doc.Ref.ID, sessionID, err)
			continue
		}
		messages = append(messages, &message)
	}

	return messages, total, nil
}

func (r *firestoreSessionRepository) MarkRead(ctx context.Context, sessionID, readerID string) error {
	query := r.client.Collection("chat_sessions").Doc(sessionID).
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
