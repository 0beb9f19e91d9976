package usecase

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"habita/internal/domain/entity"
	"habita/internal/domain/repository"
	"habita/internal/infrastructure/ratelimit"
	"habita/pkg/errors"
)

// ChatUseCase serves the durable chat-session resource. It writes the
// durable store first and mirrors structural changes (session creation,
// read receipts) into the realtime store so live subscriptions converge.
type ChatUseCase struct {
	sessionRepo      repository.SessionRepository
	conversationRepo repository.ConversationRepository
	accountRepo      repository.AccountRepository
	rateLimiter      *ratelimit.RateLimiter
}

func NewChatUseCase(
	sessionRepo repository.SessionRepository,
	conversationRepo repository.ConversationRepository,
	accountRepo repository.AccountRepository,
) *ChatUseCase {
	rateLimiter := ratelimit.NewRateLimiter()
	rateLimiter.StartCleanupRoutine()

	return &ChatUseCase{
		sessionRepo:      sessionRepo,
		conversationRepo: conversationRepo,
		accountRepo:      accountRepo,
		rateLimiter:      rateLimiter,
	}
}

type EnsureSessionInput struct {
	CounterpartyID string `json:"counterparty_id" validate:"required"`
	InitialMessage string `json:"initial_message"`
}

type SendMessageInput struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Type     string `json:"type"`
	FileURL  string `json:"file_url"`
	FilePath string `json:"file_path"`
	SentAt   string `json:"timestamp"`
}

// EnsureSession opens (or returns) the session between the requester and a
// counterparty. The pair-derived id makes this naturally idempotent.
func (uc *ChatUseCase) EnsureSession(ctx context.Context, requesterID string, input EnsureSessionInput) (*entity.Conversation, error) {
	if allowed, waitTime := uc.rateLimiter.Allow(requesterID, "open_session"); !allowed {
		log.Printf("EnsureSession Rate Limited: Account %s must wait %v", requesterID, waitTime)
		return nil, errors.TooManyRequests("Too many new conversations, try again later")
	}

	if input.CounterpartyID == requesterID {
		log.Printf("EnsureSession Error: Account %s attempted to open a session with themselves", requesterID)
		return nil, errors.BadRequest("Cannot open a conversation with yourself", nil)
	}

	requester, err := uc.accountRepo.GetByID(ctx, requesterID)
	if err != nil {
		log.Printf("EnsureSession Error: Requester %s not found: %v", requesterID, err)
		return nil, err
	}
	counterparty, err := uc.accountRepo.GetByID(ctx, input.CounterpartyID)
	if err != nil {
		log.Printf("EnsureSession Error: Counterparty %s not found: %v", input.CounterpartyID, err)
		return nil, errors.NotFound("Counterparty", err)
	}

	session := &entity.Conversation{
		ID:             entity.ConversationID(requesterID, input.CounterpartyID),
		ParticipantIDs: []string{requester.ID, counterparty.ID},
		Participants: []entity.Participant{
			participantSnapshot(requester),
			participantSnapshot(counterparty),
		},
	}

	created, err := uc.sessionRepo.Create(ctx, session)
	if err != nil {
		log.Printf("EnsureSession Error: Failed to create session %s: %v", session.ID, err)
		return nil, err
	}

	// Mirror into the realtime store so subscriptions can attach. A copy is
	// passed because Ensure stamps timestamps on its argument.
	mirror := *created
	if _, err := uc.conversationRepo.Ensure(ctx, &mirror); err != nil {
		log.Printf("EnsureSession Warning: Failed to mirror session %s into realtime store: %v", created.ID, err)
	}

	if input.InitialMessage != "" {
		if _, err := uc.SendMessage(ctx, requesterID, created.ID, SendMessageInput{Content: input.InitialMessage}); err != nil {
			// The session exists either way; the client resends the greeting.
			log.Printf("EnsureSession Warning: Failed to send initial message for session %s: %v", created.ID, err)
		}
	}

	return created, nil
}

// SendMessage is the durable write path. The realtime echo is a separate,
// independently-failable write done by the caller; nothing here touches the
// realtime store.
func (uc *ChatUseCase) SendMessage(ctx context.Context, senderID, sessionID string, input SendMessageInput) (*entity.Message, error) {
	if allowed, waitTime := uc.rateLimiter.Allow(senderID, "send_message"); !allowed {
		log.Printf("SendMessage Rate Limited: Account %s must wait %v", senderID, waitTime)
		return nil, errors.TooManyRequests("Sending messages too fast, slow down")
	}

	session, err := uc.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		log.Printf("SendMessage Error: Session %s not found: %v", sessionID, err)
		return nil, err
	}
	if !session.HasParticipant(senderID) {
		log.Printf("SendMessage Error: Account %s is not a participant of session %s", senderID, sessionID)
		return nil, errors.Forbidden("You are not part of this conversation", nil)
	}

	message := &entity.Message{
		ID:             input.ID,
		ConversationID: sessionID,
		SenderID:       senderID,
		Content:        input.Content,
		Type:           input.Type,
		Status:         entity.StatusSent,
		SentAt:         time.Now(),
	}
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.Type == "" {
		message.Type = entity.MessageTypeText
	}
	if input.FileURL != "" {
		message.File = &entity.FileRef{URL: input.FileURL, Path: input.FilePath}
	}
	if input.SentAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, input.SentAt); err == nil {
			message.SentAt = ts
		}
	}

	if !message.HasPayload() {
		return nil, errors.BadRequest("Message needs text or an attachment", nil)
	}

	if err := uc.sessionRepo.AppendMessage(ctx, message); err != nil {
		log.Printf("SendMessage Error: Failed to append message %s to session %s: %v", message.ID, sessionID, err)
		return nil, err
	}

	return message, nil
}

func (uc *ChatUseCase) ListSessions(ctx context.Context, participantID string, limit, offset int) ([]*entity.Conversation, int64, error) {
	return uc.sessionRepo.ListByParticipant(ctx, participantID, limit, offset)
}

func (uc *ChatUseCase) GetSession(ctx context.Context, requesterID, sessionID string) (*entity.Conversation, error) {
	session, err := uc.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.HasParticipant(requesterID) {
		// Presented as absence, not as a permissions hint.
		return nil, errors.NotFound("Conversation", nil)
	}
	return session, nil
}

// SessionDetail is a session with its tail of recent messages embedded, the
// shape the conversation screen opens with before the live channel attaches.
type SessionDetail struct {
	*entity.Conversation
	RecentMessages []*entity.Message `json:"recent_messages"`
}

const recentMessageCount = 20

func (uc *ChatUseCase) GetSessionDetail(ctx context.Context, requesterID, sessionID string) (*SessionDetail, error) {
	session, err := uc.GetSession(ctx, requesterID, sessionID)
	if err != nil {
		return nil, err
	}

	messages, _, err := uc.sessionRepo.Messages(ctx, sessionID, 0, 0)
	if err != nil {
		log.Printf("GetSessionDetail Error: Failed to load messages for session %s: %v", sessionID, err)
		return nil, err
	}
	if len(messages) > recentMessageCount {
		messages = messages[len(messages)-recentMessageCount:]
	}
	if messages == nil {
		messages = []*entity.Message{}
	}

	return &SessionDetail{Conversation: session, RecentMessages: messages}, nil
}

func (uc *ChatUseCase) SessionMessages(ctx context.Context, requesterID, sessionID string, limit, offset int) ([]*entity.Message, int64, error) {
	if _, err := uc.GetSession(ctx, requesterID, sessionID); err != nil {
		return nil, 0, err
	}
	return uc.sessionRepo.Messages(ctx, sessionID, limit, offset)
}

// MarkRead flips the counterparty's messages to read in both stores.
func (uc *ChatUseCase) MarkRead(ctx context.Context, readerID, sessionID string) error {
	if _, err := uc.GetSession(ctx, readerID, sessionID); err != nil {
		return err
	}

	if err := uc.sessionRepo.MarkRead(ctx, sessionID, readerID); err != nil {
		log.Printf("MarkRead Error: Failed to mark session %s read for %s: %v", sessionID, readerID, err)
		return err
	}
	if err := uc.conversationRepo.MarkRead(ctx, sessionID, readerID); err != nil {
		// The realtime store lags; subscribers see the receipt on its next write.
		log.Printf("MarkRead Warning: Failed to mirror read receipt for %s into realtime store: %v", sessionID, err)
	}

	return nil
}

func participantSnapshot(account *entity.Account) entity.Participant {
	return entity.Participant{
		ID:        account.ID,
		Name:      account.Name,
		Email:     account.Email,
		AvatarURL: account.AvatarURL,
		Role:      account.Role,
	}
}
