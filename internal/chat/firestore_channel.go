package chat

import (
	"context"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"habita/internal/domain/entity"
	"habita/pkg/errors"
	"habita/pkg/logger"
)

const openTimeout = 10 * time.Second

// FirestoreMessageChannel implements MessageChannel over a Firestore
// snapshot listener on the conversation's messages subcollection.
type FirestoreMessageChannel struct {
	client *firestore.Client
}

func NewFirestoreMessageChannel(client *firestore.Client) *FirestoreMessageChannel {
	return &FirestoreMessageChannel{client: client}
}

func (ch *FirestoreMessageChannel) Subscribe(ctx context.Context, conversationID string, onPush func([]entity.Message), onError func(error)) (CancelFunc, error) {
	if conversationID == "" {
		return nil, errors.BadRequest("conversation id is required", nil)
	}

	subCtx, cancelCtx := context.WithCancel(ctx)
	query := ch.client.Collection("conversations").Doc(conversationID).
		Collection("messages").OrderBy("sentAt", firestore.Asc)
	snaps := query.Snapshots(subCtx)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cancelCtx()
			snaps.Stop()
		})
	}

	firstPush := make(chan struct{})
	go watchOpenTimeout(subCtx, conversationID, firstPush, cancel, onError)

	go func() {
		opened := false
		for {
			snap, err := snaps.Next()
			if err != nil {
				if subCtx.Err() != nil || status.Code(err) == codes.Canceled {
					return
				}
				logger.Error("Message channel for conversation %s failed: %v", conversationID, err)
				onError(errors.Channel("Connection to the message stream was lost", err))
				return
			}

			messages := make([]entity.Message, 0)
			docs := snap.Documents
			for {
				doc, err := docs.Next()
				if err == iterator.Done {
					break
				}
				if err != nil {
					onError(errors.Channel("Couldn't read the message stream", err))
					return
				}
				msg, err := MessageFromRealtime(conversationID, doc.Data())
				if err != nil {
					// Drop the malformed document, keep the rest of the set.
					logger.Warn("Skipping malformed message %s in conversation %s: %v", doc.Ref.ID, conversationID, err)
					onError(err)
					continue
				}
				messages = append(messages, msg)
			}

			if !opened {
				opened = true
				close(firstPush)
			}
			onPush(messages)
		}
	}()

	return cancel, nil
}

// FirestoreConversationChannel implements ConversationChannel over a
// snapshot listener on the conversations the participant belongs to.
type FirestoreConversationChannel struct {
	client *firestore.Client
}

func NewFirestoreConversationChannel(client *firestore.Client) *FirestoreConversationChannel {
	return &FirestoreConversationChannel{client: client}
}

func (ch *FirestoreConversationChannel) Subscribe(ctx context.Context, participantID string, onPush func([]entity.Conversation), onError func(error)) (CancelFunc, error) {
	if participantID == "" {
		return nil, errors.BadRequest("participant id is required", nil)
	}

	subCtx, cancelCtx := context.WithCancel(ctx)
	query := ch.client.Collection("conversations").
		Where("participantIds", "array-contains", participantID).
		OrderBy("updatedAt", firestore.Desc)
	snaps := query.Snapshots(subCtx)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cancelCtx()
			snaps.Stop()
		})
	}

	firstPush := make(chan struct{})
	go watchOpenTimeout(subCtx, participantID, firstPush, cancel, onError)

	go func() {
		opened := false
		for {
			snap, err := snaps.Next()
			if err != nil {
				if subCtx.Err() != nil || status.Code(err) == codes.Canceled {
					return
				}
				logger.Error("Conversation channel for participant %s failed: %v", participantID, err)
				onError(errors.Channel("Connection to the conversation stream was lost", err))
				return
			}

			conversations := make([]entity.Conversation, 0)
			docs := snap.Documents
			for {
				doc, err := docs.Next()
				if err == iterator.Done {
					break
				}
				if err != nil {
					onError(errors.Channel("Couldn't read the conversation stream", err))
					return
				}
				conv, err := ConversationFromRealtime(doc.Data())
				if err != nil {
					logger.Warn("Skipping malformed conversation %s: %v", doc.Ref.ID, err)
					onError(err)
					continue
				}
				conversations = append(conversations, conv)
			}

			if !opened {
				opened = true
				close(firstPush)
			}
			onPush(conversations)
		}
	}()

	return cancel, nil
}

// watchOpenTimeout routes a channel that never produces its first snapshot
// into the error callback instead of letting the subscriber hang.
func watchOpenTimeout(ctx context.Context, scope string, firstPush <-chan struct{}, cancel CancelFunc, onError func(error)) {
	timer := time.NewTimer(openTimeout)
	defer timer.Stop()

	select {
	case <-firstPush:
	case <-ctx.Done():
	case <-timer.C:
		logger.Warn("Channel for %s did not open within %s", scope, openTimeout)
		cancel()
		onError(errors.Channel("Couldn't connect to the message stream", nil))
	}
}
