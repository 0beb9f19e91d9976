package chat

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habita/internal/domain/entity"
	"habita/pkg/errors"
)

// fakeMessageChannel records subscribe/cancel ordering and hands the test
// direct control over pushes and errors.
type fakeMessageChannel struct {
	mu       sync.Mutex
	events   []string
	subs     []*fakeSubscription
	failOpen bool
}

type fakeSubscription struct {
	conversationID string
	onPush         func([]entity.Message)
	onError        func(error)
	canceled       int
}

func (f *fakeMessageChannel) Subscribe(ctx context.Context, conversationID string, onPush func([]entity.Message), onError func(error)) (CancelFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOpen {
		return nil, errors.Channel("Couldn't connect to the message stream", nil)
	}
	sub := &fakeSubscription{conversationID: conversationID, onPush: onPush, onError: onError}
	f.subs = append(f.subs, sub)
	f.events = append(f.events, "subscribe:"+conversationID)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub.canceled == 0 {
			f.events = append(f.events, "cancel:"+conversationID)
		}
		sub.canceled++
	}, nil
}

func (f *fakeMessageChannel) last() *fakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[len(f.subs)-1]
}

func (f *fakeMessageChannel) eventLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

type fakeDurable struct {
	mu        sync.Mutex
	persisted []entity.Message
	err       error
}

func (f *fakeDurable) PersistMessage(ctx context.Context, message entity.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.persisted = append(f.persisted, message)
	return nil
}

func (f *fakeDurable) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeDurable) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.persisted)
}

type fakeEcho struct {
	mu       sync.Mutex
	appended []entity.Message
	err      error
}

func (f *fakeEcho) AppendMessage(ctx context.Context, message *entity.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.appended = append(f.appended, *message)
	return nil
}

// snapshotRecorder collects every published snapshot.
type snapshotRecorder struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func (r *snapshotRecorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *snapshotRecorder) latest() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return Snapshot{}
	}
	return r.snapshots[len(r.snapshots)-1]
}

func msgAt(id, sender string, at time.Time) entity.Message {
	return entity.Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       sender,
		Content:        "content of " + id,
		Type:           entity.MessageTypeText,
		SentAt:         at,
		Status:         entity.StatusSent,
	}
}

func newTestController(t *testing.T) (*Controller, *fakeMessageChannel, *fakeDurable, *fakeEcho, *snapshotRecorder) {
	t.Helper()
	channel := &fakeMessageChannel{}
	durable := &fakeDurable{}
	echo := &fakeEcho{}
	rec := &snapshotRecorder{}

	seq := 0
	ctrl := NewController("alice", channel, durable, echo, rec.record,
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("local-%d", seq)
		}),
	)
	return ctrl, channel, durable, echo, rec
}

func TestFirstPushActivatesEvenWhenEmpty(t *testing.T) {
	ctrl, channel, _, _, _ := newTestController(t)
	defer ctrl.Close()

	require.NoError(t, ctrl.Select(context.Background(), "c1"))
	assert.Equal(t, StateLoading, ctrl.Snapshot().State)

	channel.last().onPush(nil)

	snap := ctrl.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	assert.Empty(t, snap.Messages)
}

func TestDedupeIdempotence(t *testing.T) {
	ctrl, channel, _, _, _ := newTestController(t)
	defer ctrl.Close()

	require.NoError(t, ctrl.Select(context.Background(), "c1"))

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m1 := msgAt("m1", "alice", base)
	m2 := msgAt("m2", "bob", base.Add(time.Minute))

	sub := channel.last()
	sub.onPush([]entity.Message{m1})
	sub.onPush([]entity.Message{m1, m1, m2})
	sub.onPush([]entity.Message{m1, m2})

	snap := ctrl.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "m1", snap.Messages[0].ID)
	assert.Equal(t, "m2", snap.Messages[1].ID)
}

func TestOrderFollowsTimestampsNotArrival(t *testing.T) {
	ctrl, channel, _, _, _ := newTestController(t)
	defer ctrl.Close()

	require.NoError(t, ctrl.Select(context.Background(), "c1"))

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	early := msgAt("early", "bob", base)
	late := msgAt("late", "alice", base.Add(time.Hour))

	// Arrival order is reversed relative to timestamps.
	channel.last().onPush([]entity.Message{late, early})

	snap := ctrl.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "early", snap.Messages[0].ID)
	assert.Equal(t, "late", snap.Messages[1].ID)
}

func TestSubscriptionExclusivityOnSwitch(t *testing.T) {
	ctrl, channel, _, _, _ := newTestController(t)
	defer ctrl.Close()

	require.NoError(t, ctrl.Select(context.Background(), "a"))
	require.NoError(t, ctrl.Select(context.Background(), "b"))

	assert.Equal(t, []string{"subscribe:a", "cancel:a", "subscribe:b"}, channel.eventLog())
}

func TestStalePushAfterSwitchIsDiscarded(t *testing.T) {
	ctrl, channel, _, _, _ := newTestController(t)
	defer ctrl.Close()

	require.NoError(t, ctrl.Select(context.Background(), "a"))
	oldSub := channel.last()

	require.NoError(t, ctrl.Select(context.Background(), "b"))
	channel.last().onPush(nil)

	// A late callback from the torn-down subscription must not leak into
	// the newly selected conversation.
	oldSub.onPush([]entity.Message{msgAt("ghost", "bob", time.Now())})

	snap := ctrl.Snapshot()
	assert.Equal(t, "b", snap.ConversationID)
	assert.Empty(t, snap.Messages)
}

func TestOptimisticSendAppearsImmediately(t *testing.T) {
	ctrl, channel, durable, echo, _ := newTestController(t)
	defer ctrl.Close()

	require.NoError(t, ctrl.Select(context.Background(), "c1"))
	channel.last().onPush(nil)

	sent, err := ctrl.Send(context.Background(), SendInput{Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSent, sent.Status)

	snap := ctrl.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, sent.ID, snap.Messages[0].ID)

	assert.Eventually(t, func() bool {
		return durable.count() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		echo.mu.Lock()
		defer echo.mu.Unlock()
		return len(echo.appended) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEchoOverlapConvergesToOneEntry(t *testing.T) {
	ctrl, channel, _, _, _ := newTestController(t)
	defer ctrl.Close()

	require.NoError(t, ctrl.Select(context.Background(), "c1"))
	sub := channel.last()
	sub.onPush(nil)

	sent, err := ctrl.Send(context.Background(), SendInput{Content: "hello"})
	require.NoError(t, err)

	// Server echoes the write back with its own timestamp.
	echoed := sent
	echoed.SentAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sub.onPush([]entity.Message{echoed})

	snap := ctrl.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, sent.ID, snap.Messages[0].ID)
	assert.Equal(t, echoed.SentAt, snap.Messages[0].SentAt)
}

func TestDurableFailureMarksOnlyThatMessageFailed(t *testing.T) {
	ctrl, channel, durable, _, _ := newTestController(t)
	defer ctrl.Close()

	require.NoError(t, ctrl.Select(context.Background(), "c1"))
	sub := channel.last()
	existing := msgAt("m1", "bob", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	sub.onPush([]entity.Message{existing})

	durable.setErr(errors.Write("Your message wasn't sent", nil))

	sent, err := ctrl.Send(context.Background(), SendInput{Content: "hello"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		for _, m := range ctrl.Snapshot().Messages {
			if m.ID == sent.ID && m.Status == entity.StatusFailed {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	snap := ctrl.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, entity.StatusSent, snap.Messages[0].Status, "other messages must be untouched")
}

func TestFailedSendRetrySucceedsWithoutDuplicate(t *testing.T) {
	ctrl, channel, durable, _, _ := newTestController(t)
	defer ctrl.Close()

	require.NoError(t, ctrl.Select(context.Background(), "c1"))
	sub := channel.last()
	sub.onPush(nil)

	durable.setErr(errors.Write("Your message wasn't sent", nil))
	sent, err := ctrl.Send(context.Background(), SendInput{Content: "hello"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		msgs := ctrl.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].Status == entity.StatusFailed
	}, time.Second, 5*time.Millisecond)

	// Back online.
	durable.setErr(nil)
	require.NoError(t, ctrl.RetrySend(sent.ID))

	assert.Eventually(t, func() bool {
		return durable.count() == 1
	}, time.Second, 5*time.Millisecond)

	// Echo arrives; still exactly one visible entry.
	sub.onPush([]entity.Message{sent})
	snap := ctrl.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, entity.StatusSent, snap.Messages[0].Status)
}

func TestDiscardFailedSendRemovesEntry(t *testing.T) {
	ctrl, channel, durable, _, _ := newTestController(t)
	defer ctrl.Close()

	require.NoError(t, ctrl.Select(context.Background(), "c1"))
	channel.last().onPush(nil)

	durable.setErr(errors.Write("Your message wasn't sent", nil))
	sent, err := ctrl.Send(context.Background(), SendInput{Content: "hello"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		msgs := ctrl.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].Status == entity.StatusFailed
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, ctrl.DiscardSend(sent.ID))
	assert.Empty(t, ctrl.Snapshot().Messages)

	// Discarding twice is an error, not a crash.
	assert.Error(t, ctrl.DiscardSend(sent.ID))
}

func TestConcurrentPublishersConvergeOnNewestSnapshot(t *testing.T) {
	ctrl, channel, durable, _, rec := newTestController(t)
	defer ctrl.Close()

	require.NoError(t, ctrl.Select(context.Background(), "c1"))
	sub := channel.last()
	sub.onPush(nil)

	// Failing sends publish from their write goroutines while pushes publish
	// from the channel callback; whichever frame is delivered last must be
	// the newest one, or the gateway keeps rendering stale state until the
	// next event.
	durable.setErr(errors.Write("Your message wasn't sent", nil))

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			sub.onPush([]entity.Message{msgAt(fmt.Sprintf("m%03d", i), "bob", base.Add(time.Duration(i)*time.Second))})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_, _ = ctrl.Send(context.Background(), SendInput{Content: "hello"})
		}
	}()
	wg.Wait()

	assert.Eventually(t, func() bool {
		return reflect.DeepEqual(rec.latest(), ctrl.Snapshot())
	}, time.Second, 5*time.Millisecond)
}

func TestChannelErrorDisconnectsAndRetryReopens(t *testing.T) {
	ctrl, channel, _, _, _ := newTestController(t)
	defer ctrl.Close()

	require.NoError(t, ctrl.Select(context.Background(), "c1"))
	sub := channel.last()
	sub.onPush(nil)

	sub.onError(errors.Channel("Connection to the message stream was lost", nil))
	assert.Equal(t, StateDisconnected, ctrl.Snapshot().State)

	require.NoError(t, ctrl.Retry(context.Background()))
	assert.Equal(t, StateLoading, ctrl.Snapshot().State)

	channel.last().onPush(nil)
	assert.Equal(t, StateActive, ctrl.Snapshot().State)
}

func TestMappingErrorSurfacesWithoutDisconnecting(t *testing.T) {
	ctrl, channel, _, _, _ := newTestController(t)
	defer ctrl.Close()

	require.NoError(t, ctrl.Select(context.Background(), "c1"))
	sub := channel.last()
	sub.onPush([]entity.Message{msgAt("m1", "bob", time.Now())})

	sub.onError(errors.Mapping("message is missing an id", nil))

	snap := ctrl.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	assert.True(t, errors.Is(snap.Err, "MAPPING_ERROR"))
	assert.Len(t, snap.Messages, 1)
}

func TestSendOutsideActiveConversationIsRejected(t *testing.T) {
	ctrl, _, _, _, _ := newTestController(t)
	defer ctrl.Close()

	_, err := ctrl.Send(context.Background(), SendInput{Content: "hello"})
	assert.True(t, errors.Is(err, "BAD_REQUEST"))
}

func TestSendRequiresTextOrAttachment(t *testing.T) {
	ctrl, channel, _, _, _ := newTestController(t)
	defer ctrl.Close()

	require.NoError(t, ctrl.Select(context.Background(), "c1"))
	channel.last().onPush(nil)

	_, err := ctrl.Send(context.Background(), SendInput{})
	assert.True(t, errors.Is(err, "BAD_REQUEST"))

	_, err = ctrl.Send(context.Background(), SendInput{
		Type: entity.MessageTypeImage,
		File: &entity.FileRef{URL: "https://cdn.example.com/room.jpg", Path: "attachments/room.jpg"},
	})
	assert.NoError(t, err)
}

func TestSubscribeFailureLandsInDisconnected(t *testing.T) {
	ctrl, channel, _, _, _ := newTestController(t)
	defer ctrl.Close()

	channel.failOpen = true
	err := ctrl.Select(context.Background(), "c1")
	assert.Error(t, err)
	assert.Equal(t, StateDisconnected, ctrl.Snapshot().State)
}

func TestCloseCancelsExactlyOnce(t *testing.T) {
	ctrl, channel, _, _, _ := newTestController(t)

	require.NoError(t, ctrl.Select(context.Background(), "c1"))
	ctrl.Close()
	ctrl.Close()

	assert.Equal(t, []string{"subscribe:c1", "cancel:c1"}, channel.eventLog())
	assert.Error(t, ctrl.Select(context.Background(), "c2"))
}
