package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"habita/internal/domain/entity"
	"habita/pkg/errors"
	"habita/pkg/logger"
)

const writeTimeout = 10 * time.Second

// State is the controller's connection state for the active conversation.
type State int

const (
	// StateIdle: no conversation selected.
	StateIdle State = iota
	// StateLoading: subscription opening, first push not yet received.
	StateLoading
	// StateActive: receiving pushes; sending is allowed.
	StateActive
	// StateDisconnected: the channel failed; an explicit retry reopens it.
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Snapshot is the immutable view the controller publishes after every state
// change. Messages are deduplicated by id and ordered by timestamp.
type Snapshot struct {
	State          State
	ConversationID string
	Messages       []entity.Message
	Err            error
}

// SendInput is an outbound message: text, an attachment, or both. At least
// one is required.
type SendInput struct {
	Content string
	Type    string
	File    *entity.FileRef
}

// Controller owns the UI state for one client's active conversation. It
// opens at most one subscription at a time, tears the old one down before
// opening the next, applies optimistic local sends, and reconciles them with
// server pushes by id. All mutation happens through the controller's own
// callbacks; callers only observe published snapshots.
type Controller struct {
	channel  MessageChannel
	durable  DurableWriter
	echo     RealtimeEcho
	senderID string
	listener func(Snapshot)

	now   func() time.Time
	newID func() string

	mu             sync.Mutex
	state          State
	conversationID string
	epoch          uint64
	cancel         CancelFunc
	server         []entity.Message
	pending        map[string]entity.Message
	lastErr        error
	closed         bool
	pubSeq         uint64

	// pubMu serializes listener delivery; pubDelivered is guarded by it.
	pubMu        sync.Mutex
	pubDelivered uint64
}

type ControllerOption func(*Controller)

// WithClock overrides the client clock used for optimistic timestamps.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// WithIDGenerator overrides client-side message id generation.
func WithIDGenerator(newID func() string) ControllerOption {
	return func(c *Controller) { c.newID = newID }
}

// NewController creates a controller for senderID. listener receives
// published snapshots one at a time, newest state last; nil is allowed. The
// listener must not call back into the controller.
func NewController(senderID string, channel MessageChannel, durable DurableWriter, echo RealtimeEcho, listener func(Snapshot), opts ...ControllerOption) *Controller {
	c := &Controller{
		channel:  channel,
		durable:  durable,
		echo:     echo,
		senderID: senderID,
		listener: listener,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		state:    StateIdle,
		pending:  make(map[string]entity.Message),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Select switches the controller to conversationID. The previous
// subscription is torn down before the new one is opened, so the controller
// never holds two live channels at once. Callbacks from the old channel are
// tagged with a stale epoch and discarded.
func (c *Controller) Select(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.Internal("Chat is no longer available", nil)
	}
	if conversationID == "" {
		c.mu.Unlock()
		return errors.BadRequest("A conversation must be selected", nil)
	}

	cancel := c.takeCancelLocked()
	c.epoch++
	epoch := c.epoch
	c.conversationID = conversationID
	c.state = StateLoading
	c.server = nil
	c.pending = make(map[string]entity.Message)
	c.lastErr = nil
	c.mu.Unlock()

	// The old channel is fully torn down before the new one opens; the
	// controller never holds two live subscriptions.
	if cancel != nil {
		cancel()
	}
	c.publish()

	cancel, err := c.channel.Subscribe(ctx, conversationID,
		func(messages []entity.Message) { c.applyPush(epoch, messages) },
		func(err error) { c.applyError(epoch, err) },
	)
	if err != nil {
		c.mu.Lock()
		if c.epoch == epoch {
			c.state = StateDisconnected
			c.lastErr = err
		}
		c.mu.Unlock()
		c.publish()
		return err
	}

	c.mu.Lock()
	if c.epoch != epoch {
		// A newer Select or Close won the race; this channel is stale.
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.cancel = cancel
	c.mu.Unlock()
	return nil
}

// Deselect returns the controller to Idle, tearing down the open channel.
func (c *Controller) Deselect() {
	c.mu.Lock()
	cancel := c.takeCancelLocked()
	c.epoch++
	c.conversationID = ""
	c.state = StateIdle
	c.server = nil
	c.pending = make(map[string]entity.Message)
	c.lastErr = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.publish()
}

// Retry reopens the channel after a disconnect.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected || c.conversationID == "" {
		c.mu.Unlock()
		return errors.BadRequest("There is nothing to reconnect", nil)
	}
	conversationID := c.conversationID
	c.mu.Unlock()

	return c.Select(ctx, conversationID)
}

// Close tears everything down. Idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.takeCancelLocked()
	c.epoch++
	c.state = StateIdle
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Send appends an optimistic entry immediately, then performs the durable
// write and the realtime echo concurrently. If either write fails the entry
// is marked failed in place, never silently removed; RetrySend and
// DiscardSend act on it afterwards.
func (c *Controller) Send(ctx context.Context, input SendInput) (entity.Message, error) {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return entity.Message{}, errors.BadRequest("Messages can only be sent in an open conversation", nil)
	}

	msg := entity.Message{
		ID:             c.newID(),
		ConversationID: c.conversationID,
		SenderID:       c.senderID,
		Content:        input.Content,
		Type:           input.Type,
		File:           input.File,
		SentAt:         c.now(),
		Status:         entity.StatusSent,
	}
	if msg.Type == "" {
		msg.Type = entity.MessageTypeText
	}
	if !msg.HasPayload() {
		c.mu.Unlock()
		return entity.Message{}, errors.BadRequest("A message needs text or an attachment", nil)
	}

	c.pending[msg.ID] = msg
	c.mu.Unlock()

	c.publish()
	go c.performWrites(msg)
	return msg, nil
}

// RetrySend re-runs both writes for a failed optimistic entry.
func (c *Controller) RetrySend(id string) error {
	c.mu.Lock()
	msg, ok := c.pending[id]
	if !ok || msg.Status != entity.StatusFailed {
		c.mu.Unlock()
		return errors.NotFound("Failed message", nil)
	}
	msg.Status = entity.StatusSent
	c.pending[id] = msg
	c.mu.Unlock()

	c.publish()
	go c.performWrites(msg)
	return nil
}

// DiscardSend drops a failed optimistic entry.
func (c *Controller) DiscardSend(id string) error {
	c.mu.Lock()
	msg, ok := c.pending[id]
	if !ok || msg.Status != entity.StatusFailed {
		c.mu.Unlock()
		return errors.NotFound("Failed message", nil)
	}
	delete(c.pending, id)
	c.mu.Unlock()

	c.publish()
	return nil
}

// Snapshot returns the current published view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) performWrites(msg entity.Message) {
	wctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var wg sync.WaitGroup
	var durableErr, echoErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		durableErr = c.durable.PersistMessage(wctx, msg)
	}()
	go func() {
		defer wg.Done()
		echoErr = c.echo.AppendMessage(wctx, &msg)
	}()
	wg.Wait()

	if durableErr == nil && echoErr == nil {
		return
	}
	if durableErr != nil {
		logger.Error("Durable write for message %s failed: %v", msg.ID, durableErr)
	}
	if echoErr != nil {
		logger.Error("Realtime echo for message %s failed: %v", msg.ID, echoErr)
	}

	c.mu.Lock()
	pending, ok := c.pending[msg.ID]
	if !ok {
		// The conversation changed, or the echo already landed.
		c.mu.Unlock()
		return
	}
	pending.Status = entity.StatusFailed
	c.pending[msg.ID] = pending
	c.lastErr = errors.Write("Your message wasn't sent", firstErr(durableErr, echoErr))
	c.mu.Unlock()

	c.publish()
}

func (c *Controller) applyPush(epoch uint64, messages []entity.Message) {
	c.mu.Lock()
	if c.epoch != epoch {
		// Push from a subscription that was already torn down.
		c.mu.Unlock()
		return
	}

	c.state = StateActive
	c.server = dedupeByID(messages)
	for _, msg := range c.server {
		// The server echoed an optimistic entry; the server copy wins.
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()

	c.publish()
}

func (c *Controller) applyError(epoch uint64, err error) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}

	var cancel CancelFunc
	if errors.Is(err, "MAPPING_ERROR") {
		// One item was dropped; the channel and the rest of the list are
		// still good.
		c.lastErr = err
	} else {
		c.state = StateDisconnected
		c.lastErr = err
		cancel = c.takeCancelLocked()
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.publish()
}

// takeCancelLocked detaches the open subscription's cancel handle so the
// caller can run it outside the lock. At most one caller gets it.
func (c *Controller) takeCancelLocked() CancelFunc {
	cancel := c.cancel
	c.cancel = nil
	return cancel
}

func (c *Controller) snapshotLocked() Snapshot {
	merged := make([]entity.Message, 0, len(c.server)+len(c.pending))
	merged = append(merged, c.server...)
	for _, msg := range c.pending {
		merged = append(merged, msg)
	}
	sortMessages(merged)

	return Snapshot{
		State:          c.state,
		ConversationID: c.conversationID,
		Messages:       merged,
		Err:            c.lastErr,
	}
}

// publish delivers the current snapshot to the listener. Snapshots are
// sequenced under the state mutex and delivered under a separate mutex, so
// concurrent publishers (a failing write racing a channel push, say) cannot
// hand the listener an older snapshot after a newer one.
func (c *Controller) publish() {
	if c.listener == nil {
		return
	}
	c.mu.Lock()
	c.pubSeq++
	seq := c.pubSeq
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	if seq <= c.pubDelivered {
		// A newer snapshot already went out; this one is stale.
		return
	}
	c.pubDelivered = seq
	c.listener(snapshot)
}

// dedupeByID collapses duplicate ids, later-observed wins, and returns the
// set in timestamp order. Applying the same push twice, or seeing both the
// optimistic and echoed copy of one message, converges to one entry.
func dedupeByID(messages []entity.Message) []entity.Message {
	index := make(map[string]int, len(messages))
	deduped := make([]entity.Message, 0, len(messages))
	for _, msg := range messages {
		if i, ok := index[msg.ID]; ok {
			deduped[i] = msg
			continue
		}
		index[msg.ID] = len(deduped)
		deduped = append(deduped, msg)
	}
	sortMessages(deduped)
	return deduped
}

func sortMessages(messages []entity.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].SentAt.Equal(messages[j].SentAt) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].SentAt.Before(messages[j].SentAt)
	})
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
