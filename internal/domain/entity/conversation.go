package entity

import (
	"sort"
	"strings"
	"time"
)

// Participant is the identity snapshot attached to one side of a
// conversation. It is captured from the account record at conversation
// creation and never mutated afterward; a later rename of the account does
// not rewrite historical snapshots.
type Participant struct {
	ID        string `json:"id" firestore:"id"`
	Name      string `json:"name" firestore:"name"`
	Email     string `json:"email" firestore:"email"`
	AvatarURL string `json:"avatar_url,omitempty" firestore:"avatarUrl,omitempty"`
	Role      string `json:"role" firestore:"role"`
}

// LastMessage is the cached summary rendered in conversation lists without
// fetching full history.
type LastMessage struct {
	Content  string    `json:"content" firestore:"content"`
	SenderID string    `json:"sender_id" firestore:"senderId"`
	Type     string    `json:"type" firestore:"type"`
	SentAt   time.Time `json:"sent_at" firestore:"sentAt"`
}

// Conversation is the container for a two-party ordered message sequence.
type Conversation struct {
	ID             string        `json:"id" firestore:"id"`
	ParticipantIDs []string      `json:"participant_ids" firestore:"participantIds"`
	Participants   []Participant `json:"participants" firestore:"participants"`
	LastMessage    *LastMessage  `json:"last_message,omitempty" firestore:"lastMessage,omitempty"`
	CreatedAt      time.Time     `json:"created_at" firestore:"createdAt"`
	UpdatedAt      time.Time     `json:"updated_at" firestore:"updatedAt"`
}

// ConversationID derives the conversation id for a participant pair. The
// sorted join makes the id deterministic, so at most one conversation can
// exist per pair without a transactional uniqueness check.
func ConversationID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// HasParticipant reports whether id is one of the conversation's two sides.
func (c *Conversation) HasParticipant(id string) bool {
	for _, p := range c.ParticipantIDs {
		if p == id {
			return true
		}
	}
	return false
}

// Counterparty returns the participant snapshot that is not id.
func (c *Conversation) Counterparty(id string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.ID != id {
			return p, true
		}
	}
	return Participant{}, false
}
