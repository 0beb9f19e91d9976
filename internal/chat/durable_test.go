package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habita/internal/domain/entity"
	"habita/pkg/errors"
)

func TestRESTClientPersistMessage(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody persistMessageRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, WithAuthToken(func() string { return "token-123" }))

	err := client.PersistMessage(context.Background(), entity.Message{
		ID:             "m1",
		ConversationID: "alice_bob",
		SenderID:       "alice",
		Content:        "hello",
		Type:           entity.MessageTypeText,
		SentAt:         time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		File:           &entity.FileRef{URL: "https://cdn.example.com/sofa.jpg", Path: "attachments/sofa.jpg"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/chat-sessions/alice_bob/messages", gotPath)
	assert.Equal(t, "Bearer token-123", gotAuth)
	assert.Equal(t, "m1", gotBody.ID)
	assert.Equal(t, "alice", gotBody.Sender)
	assert.Equal(t, "https://cdn.example.com/sofa.jpg", gotBody.FileURL)
	assert.Equal(t, "2026-03-01T10:00:00Z", gotBody.Timestamp)
}

func TestRESTClientPersistMessageRejectsLoudly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewRESTClient(server.URL)
	err := client.PersistMessage(context.Background(), entity.Message{
		ID:             "m1",
		ConversationID: "alice_bob",
		SenderID:       "alice",
		Content:        "hello",
	})
	assert.True(t, errors.Is(err, "WRITE_ERROR"))
}

func TestRESTClientListSessions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "alice", r.URL.Query().Get("participant"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"total": 2,
				"items": []map[string]interface{}{
					{
						"id": "alice_bob",
						"participants": []map[string]interface{}{
							{"id": "alice", "display_name": "Alice", "role": "customer"},
							{"id": "bob", "display_name": "Bob's Interiors", "role": "merchant"},
						},
						"updated_at": "2026-03-01T10:00:00Z",
					},
					{
						// Malformed: no id. Dropped, not fatal.
						"participants": []map[string]interface{}{},
					},
				},
			},
		})
	}))
	defer server.Close()

	client := NewRESTClient(server.URL)
	sessions, total, err := client.ListSessions(context.Background(), "alice", 20, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(2), total)
	require.Len(t, sessions, 1)
	assert.Equal(t, "alice_bob", sessions[0].ID)
}
