package entity

import "time"

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeVideo = "video"
)

const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"

	// StatusFailed is a local-only marker for an optimistic entry whose
	// write was rejected. It is never persisted to either store.
	StatusFailed = "failed"
)

// FileRef points at an uploaded attachment: the public URL plus the storage
// path needed for later housekeeping.
type FileRef struct {
	URL  string `json:"url" firestore:"url"`
	Path string `json:"path" firestore:"path"`
}

// Message is a single chat utterance. Content and sender are immutable once
// created; only the delivery status transitions, forward-only.
type Message struct {
	ID             string    `json:"id" firestore:"id"`
	ConversationID string    `json:"conversation_id" firestore:"conversationId"`
	SenderID       string    `json:"sender_id" firestore:"senderId"`
	Content        string    `json:"content" firestore:"content"`
	Type           string    `json:"type" firestore:"type"`
	File           *FileRef  `json:"file,omitempty" firestore:"file,omitempty"`
	SentAt         time.Time `json:"sent_at" firestore:"sentAt,serverTimestamp"`
	Status         string    `json:"status" firestore:"status"`
}

// HasPayload reports whether the message carries text or an attachment. At
// least one is required.
func (m *Message) HasPayload() bool {
	return m.Content != "" || m.File != nil
}

// CanTransition reports whether a delivery status change is allowed.
// sent -> delivered -> read, never backwards.
func CanTransition(from, to string) bool {
	rank := map[string]int{StatusSent: 0, StatusDelivered: 1, StatusRead: 2}
	f, okF := rank[from]
	t, okT := rank[to]
	return okF && okT && t > f
}
