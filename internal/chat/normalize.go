// Package chat implements the conversation synchronization engine: a pure
// mapper over the wire shapes the two backing services produce, a cancellable
// realtime subscription channel, a durable REST write path, a conversation
// roster synchronizer, and the per-client session controller that ties them
// together.
package chat

import (
	"time"

	"habita/internal/domain/entity"
	"habita/pkg/errors"
)

// SessionParticipant is one side of a REST chat-session document. Older
// session payloads spell the name display_name; the live chat-session API
// serializes it as name. Both are accepted.
type SessionParticipant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Role        string `json:"role"`
}

// SessionFileRef is the nested attachment reference the messages endpoint
// emits.
type SessionFileRef struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

// SessionMessage is a message as the REST backend represents it, either
// embedded in a session document or returned from the messages endpoint.
// The backend has carried two spellings over its history, sender/timestamp
// with flattened file fields and sender_id/sent_at with a nested file
// reference; both are accepted. Timestamps are loosely typed because both
// RFC3339 strings and epoch numbers have been emitted.
type SessionMessage struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"session_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Sender         string          `json:"sender,omitempty"`
	SenderID       string          `json:"sender_id,omitempty"`
	Content        string          `json:"content"`
	Type           string          `json:"type,omitempty"`
	FileURL        string          `json:"file_url,omitempty"`
	FilePath       string          `json:"file_path,omitempty"`
	File           *SessionFileRef `json:"file,omitempty"`
	Timestamp      interface{}     `json:"timestamp,omitempty"`
	SentAt         interface{}     `json:"sent_at,omitempty"`
	Status         string          `json:"status,omitempty"`
}

// SessionDocument is the REST chat-session shape: snake_case fields with an
// embedded message array, used as the cold-start and reconciliation source.
type SessionDocument struct {
	ID           string               `json:"id"`
	Participants []SessionParticipant `json:"participants"`
	LastMessage  *SessionMessage      `json:"last_message,omitempty"`
	CreatedAt    string               `json:"created_at"`
	UpdatedAt    string               `json:"updated_at"`
	Messages     []SessionMessage     `json:"messages,omitempty"`
}

// MessageFromSession normalizes a REST message into the internal shape.
// sessionID is the enclosing session when the document omits its own
// back-reference.
func MessageFromSession(doc SessionMessage, sessionID string) (entity.Message, error) {
	conversationID := doc.SessionID
	if conversationID == "" {
		conversationID = doc.ConversationID
	}
	if conversationID == "" {
		conversationID = sessionID
	}
	sender := doc.Sender
	if sender == "" {
		sender = doc.SenderID
	}

	if doc.ID == "" {
		return entity.Message{}, errors.Mapping("message is missing an id", nil)
	}
	if sender == "" {
		return entity.Message{}, errors.Mapping("message is missing a sender", nil)
	}
	if conversationID == "" {
		return entity.Message{}, errors.Mapping("message is missing a conversation id", nil)
	}

	msg := entity.Message{
		ID:             doc.ID,
		ConversationID: conversationID,
		SenderID:       sender,
		Content:        doc.Content,
		Type:           doc.Type,
		Status:         doc.Status,
	}
	if msg.Type == "" {
		msg.Type = entity.MessageTypeText
	}
	if msg.Status == "" {
		msg.Status = entity.StatusSent
	}
	if doc.FileURL != "" {
		msg.File = &entity.FileRef{URL: doc.FileURL, Path: doc.FilePath}
	} else if doc.File != nil && doc.File.URL != "" {
		msg.File = &entity.FileRef{URL: doc.File.URL, Path: doc.File.Path}
	}
	if ts, ok := coerceTime(doc.Timestamp); ok {
		msg.SentAt = ts
	} else if ts, ok := coerceTime(doc.SentAt); ok {
		msg.SentAt = ts
	}

	return msg, nil
}

// MessageFromRealtime normalizes a realtime message document. The store has
// carried two shapes over time, one with a nested file reference keyed by
// sentAt and one flattened with fileUrl/timestamp; both are accepted.
func MessageFromRealtime(conversationID string, data map[string]interface{}) (entity.Message, error) {
	id, _ := data["id"].(string)
	sender, _ := data["senderId"].(string)

	if convID, ok := data["conversationId"].(string); ok && convID != "" {
		conversationID = convID
	}

	if id == "" {
		return entity.Message{}, errors.Mapping("message is missing an id", nil)
	}
	if sender == "" {
		return entity.Message{}, errors.Mapping("message is missing a sender", nil)
	}
	if conversationID == "" {
		return entity.Message{}, errors.Mapping("message is missing a conversation id", nil)
	}

	msg := entity.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       sender,
	}
	msg.Content, _ = data["content"].(string)
	msg.Type, _ = data["type"].(string)
	msg.Status, _ = data["status"].(string)
	if msg.Type == "" {
		msg.Type = entity.MessageTypeText
	}
	if msg.Status == "" {
		msg.Status = entity.StatusSent
	}

	if file, ok := data["file"].(map[string]interface{}); ok {
		url, _ := file["url"].(string)
		path, _ := file["path"].(string)
		if url != "" {
			msg.File = &entity.FileRef{URL: url, Path: path}
		}
	} else if url, ok := data["fileUrl"].(string); ok && url != "" {
		path, _ := data["filePath"].(string)
		msg.File = &entity.FileRef{URL: url, Path: path}
	}

	if ts, ok := coerceTime(data["sentAt"]); ok {
		msg.SentAt = ts
	} else if ts, ok := coerceTime(data["timestamp"]); ok {
		msg.SentAt = ts
	}

	return msg, nil
}

// ConversationFromSession normalizes a REST session document.
func ConversationFromSession(doc SessionDocument) (entity.Conversation, error) {
	if doc.ID == "" {
		return entity.Conversation{}, errors.Mapping("session is missing an id", nil)
	}

	conv := entity.Conversation{ID: doc.ID}
	for _, p := range doc.Participants {
		name := p.DisplayName
		if name == "" {
			name = p.Name
		}
		conv.ParticipantIDs = append(conv.ParticipantIDs, p.ID)
		conv.Participants = append(conv.Participants, entity.Participant{
			ID:        p.ID,
			Name:      name,
			Email:     p.Email,
			AvatarURL: p.AvatarURL,
			Role:      p.Role,
		})
	}
	if ts, ok := coerceTime(doc.CreatedAt); ok {
		conv.CreatedAt = ts
	}
	if ts, ok := coerceTime(doc.UpdatedAt); ok {
		conv.UpdatedAt = ts
	}
	if doc.LastMessage != nil {
		last := entity.LastMessage{
			Content:  doc.LastMessage.Content,
			SenderID: doc.LastMessage.Sender,
			Type:     doc.LastMessage.Type,
		}
		if last.SenderID == "" {
			last.SenderID = doc.LastMessage.SenderID
		}
		if last.Type == "" {
			last.Type = entity.MessageTypeText
		}
		if ts, ok := coerceTime(doc.LastMessage.Timestamp); ok {
			last.SentAt = ts
		} else if ts, ok := coerceTime(doc.LastMessage.SentAt); ok {
			last.SentAt = ts
		}
		conv.LastMessage = &last
	}

	return conv, nil
}

// ConversationFromRealtime normalizes a realtime conversation document.
func ConversationFromRealtime(data map[string]interface{}) (entity.Conversation, error) {
	id, _ := data["id"].(string)
	if id == "" {
		return entity.Conversation{}, errors.Mapping("conversation is missing an id", nil)
	}

	conv := entity.Conversation{ID: id}

	if ids, ok := data["participantIds"].([]interface{}); ok {
		for _, v := range ids {
			if s, ok := v.(string); ok {
				conv.ParticipantIDs = append(conv.ParticipantIDs, s)
			}
		}
	}

	if parts, ok := data["participants"].([]interface{}); ok {
		for _, v := range parts {
			p, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			participant := entity.Participant{}
			participant.ID, _ = p["id"].(string)
			participant.Name, _ = p["name"].(string)
			participant.Email, _ = p["email"].(string)
			participant.AvatarURL, _ = p["avatarUrl"].(string)
			participant.Role, _ = p["role"].(string)
			conv.Participants = append(conv.Participants, participant)
		}
	}

	if ts, ok := coerceTime(data["createdAt"]); ok {
		conv.CreatedAt = ts
	}
	if ts, ok := coerceTime(data["updatedAt"]); ok {
		conv.UpdatedAt = ts
	}

	if lm, ok := data["lastMessage"].(map[string]interface{}); ok {
		last := entity.LastMessage{}
		last.Content, _ = lm["content"].(string)
		last.SenderID, _ = lm["senderId"].(string)
		last.Type, _ = lm["type"].(string)
		if last.Type == "" {
			last.Type = entity.MessageTypeText
		}
		if ts, ok := coerceTime(lm["sentAt"]); ok {
			last.SentAt = ts
		}
		conv.LastMessage = &last
	}

	return conv, nil
}

// coerceTime converts every timestamp representation the backends have
// produced into a time.Time: time.Time itself (the server-timestamp
// sentinel resolves to one), RFC3339 strings, and epoch seconds or
// milliseconds as int64 or float64.
func coerceTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		if t == "" {
			return time.Time{}, false
		}
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts, true
		}
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts, true
		}
		return time.Time{}, false
	case int64:
		return epochToTime(t), true
	case int:
		return epochToTime(int64(t)), true
	case float64:
		return epochToTime(int64(t)), true
	default:
		return time.Time{}, false
	}
}

func epochToTime(epoch int64) time.Time {
	// Anything past the year 33658 as seconds is epoch milliseconds.
	if epoch > 1e12 {
		return time.UnixMilli(epoch).UTC()
	}
	return time.Unix(epoch, 0).UTC()
}
