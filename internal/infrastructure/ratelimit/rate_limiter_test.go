package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucketExhaustion(t *testing.T) {
	bucket := NewTokenBucket(3, 1, time.Minute)

	for i := 0; i < 3; i++ {
		allowed, _ := bucket.Allow()
		assert.True(t, allowed)
	}

	allowed, wait := bucket.Allow()
	assert.False(t, allowed)
	assert.Greater(t, wait, time.Duration(0))
}

func TestTokenBucketRefill(t *testing.T) {
	bucket := NewTokenBucket(1, 1, 10*time.Millisecond)

	allowed, _ := bucket.Allow()
	assert.True(t, allowed)

	allowed, _ = bucket.Allow()
	assert.False(t, allowed)

	time.Sleep(15 * time.Millisecond)

	allowed, _ = bucket.Allow()
	assert.True(t, allowed)
}

func TestRateLimiterIsolatesUsersAndActions(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < 20; i++ {
		allowed, _ := rl.Allow("alice", "send_message")
		assert.True(t, allowed)
	}
	allowed, _ := rl.Allow("alice", "send_message")
	assert.False(t, allowed)

	// Other users and other actions keep their own buckets.
	allowed, _ = rl.Allow("bob", "send_message")
	assert.True(t, allowed)
	allowed, _ = rl.Allow("alice", "open_session")
	assert.True(t, allowed)
}

func TestRateLimiterStatus(t *testing.T) {
	rl := NewRateLimiter()

	tokens, max := rl.GetStatus("carol", "send_message")
	assert.Equal(t, 0, tokens)
	assert.Equal(t, 0, max)

	rl.Allow("carol", "send_message")

	tokens, max = rl.GetStatus("carol", "send_message")
	assert.Equal(t, 19, tokens)
	assert.Equal(t, 20, max)
}
