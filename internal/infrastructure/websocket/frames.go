package websocket

import (
	"encoding/json"

	"habita/internal/chat"
	"habita/internal/domain/entity"
	"habita/pkg/errors"
)

// ClientFrame is a command sent by the app over the socket.
type ClientFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	Content        string `json:"content,omitempty"`
	MessageType    string `json:"message_type,omitempty"`
	FileURL        string `json:"file_url,omitempty"`
	FilePath       string `json:"file_path,omitempty"`
}

const (
	FrameSelectConversation = "select_conversation"
	FrameCloseConversation  = "close_conversation"
	FrameSendMessage        = "send_message"
	FrameRetrySend          = "retry_send"
	FrameDiscardSend        = "discard_send"
	FrameRetryConnection    = "retry_connection"
	FramePing               = "ping"
)

// ConversationStateFrame mirrors a controller snapshot to the client.
type ConversationStateFrame struct {
	Type           string           `json:"type"`
	State          string           `json:"state"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Messages       []entity.Message `json:"messages"`
	Error          string           `json:"error,omitempty"`
}

// RosterStateFrame mirrors a roster snapshot to the client.
type RosterStateFrame struct {
	Type          string                `json:"type"`
	Conversations []entity.Conversation `json:"conversations"`
	Loaded        bool                  `json:"loaded"`
	Error         string                `json:"error,omitempty"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PongFrame struct {
	Type string `json:"type"`
}

func encodeConversationState(snap chat.Snapshot) []byte {
	frame := ConversationStateFrame{
		Type:           "conversation_state",
		State:          snap.State.String(),
		ConversationID: snap.ConversationID,
		Messages:       snap.Messages,
	}
	if frame.Messages == nil {
		frame.Messages = []entity.Message{}
	}
	if snap.Err != nil {
		frame.Error = snap.Err.Error()
	}
	raw, _ := json.Marshal(frame)
	return raw
}

func encodeRosterState(snap chat.RosterSnapshot) []byte {
	frame := RosterStateFrame{
		Type:          "roster_state",
		Conversations: snap.Conversations,
		Loaded:        snap.Loaded,
	}
	if frame.Conversations == nil {
		frame.Conversations = []entity.Conversation{}
	}
	if snap.Err != nil {
		frame.Error = snap.Err.Error()
	}
	raw, _ := json.Marshal(frame)
	return raw
}

func encodeError(err error) []byte {
	frame := ErrorFrame{Type: "error", Code: "INTERNAL_ERROR", Message: "Something went wrong"}
	if appErr, ok := err.(*errors.AppError); ok {
		frame.Code = appErr.Code
		frame.Message = appErr.Message
	}
	raw, _ := json.Marshal(frame)
	return raw
}

func encodePong() []byte {
	raw, _ := json.Marshal(PongFrame{Type: "pong"})
	return raw
}
