package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"habita/internal/domain/entity"
	"habita/pkg/errors"
)

// DurableWriter persists an outbound message to the system of record used
// for audit and reporting. It owns only the durable copy; the realtime echo
// is the controller's responsibility, so a partial failure of either write
// stays visible instead of being hidden inside one combined call.
type DurableWriter interface {
	PersistMessage(ctx context.Context, message entity.Message) error
}

// SessionLister reads the durable chat-session resource, used as a
// cold-start source distinct from the live channel.
type SessionLister interface {
	ListSessions(ctx context.Context, participantID string, limit, offset int) ([]entity.Conversation, int64, error)
}

// RESTClient talks to the chat-session REST resource.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	authToken  func() string
}

type RESTOption func(*RESTClient)

// WithAuthToken supplies the bearer token attached to every request.
func WithAuthToken(token func() string) RESTOption {
	return func(c *RESTClient) { c.authToken = token }
}

func NewRESTClient(baseURL string, opts ...RESTOption) *RESTClient {
	c := &RESTClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type persistMessageRequest struct {
	ID       string `json:"id"`
	Sender   string `json:"sender"`
	Content  string `json:"content"`
	Type     string `json:"type"`
	FileURL  string `json:"file_url,omitempty"`
	FilePath string `json:"file_path,omitempty"`
	// Client clock; the backend assigns the authoritative timestamp.
	Timestamp string `json:"timestamp"`
}

func (c *RESTClient) PersistMessage(ctx context.Context, message entity.Message) error {
	body := persistMessageRequest{
		ID:        message.ID,
		Sender:    message.SenderID,
		Content:   message.Content,
		Type:      message.Type,
		Timestamp: message.SentAt.UTC().Format(time.RFC3339Nano),
	}
	if message.File != nil {
		body.FileURL = message.File.URL
		body.FilePath = message.File.Path
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Write("Couldn't send your message", err)
	}

	endpoint := fmt.Sprintf("%s/v1/chat-sessions/%s/messages", c.baseURL, url.PathEscape(message.ConversationID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Write("Couldn't send your message", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Write("Couldn't send your message", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Write("Couldn't send your message", fmt.Errorf("durable write returned %d: %s", resp.StatusCode, snippet))
	}
	return nil
}

type sessionListEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		Items []SessionDocument `json:"items"`
		Total int64             `json:"total"`
	} `json:"data"`
}

func (c *RESTClient) ListSessions(ctx context.Context, participantID string, limit, offset int) ([]entity.Conversation, int64, error) {
	endpoint := fmt.Sprintf("%s/v1/chat-sessions?participant=%s&limit=%s&offset=%s",
		c.baseURL,
		url.QueryEscape(participantID),
		strconv.Itoa(limit),
		strconv.Itoa(offset),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, errors.Internal("Couldn't load conversations", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, errors.Internal("Couldn't load conversations", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, errors.Internal("Couldn't load conversations", fmt.Errorf("session list returned %d", resp.StatusCode))
	}

	var envelope sessionListEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, 0, errors.Internal("Couldn't load conversations", err)
	}

	conversations := make([]entity.Conversation, 0, len(envelope.Data.Items))
	for _, item := range envelope.Data.Items {
		conv, err := ConversationFromSession(item)
		if err != nil {
			// Drop the malformed session, keep the rest of the page.
			continue
		}
		conversations = append(conversations, conv)
	}
	return conversations, envelope.Data.Total, nil
}

func (c *RESTClient) authorize(req *http.Request) {
	if c.authToken != nil {
		if token := c.authToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
}
