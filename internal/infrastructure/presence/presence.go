package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store keeps per-account presence in Redis so any instance can answer
// "is the counterparty online". Connections register with a TTL and
// refresh it on heartbeat; a crashed instance's entries simply expire.
//
// Keys:
//
//	presence:conn:<accountID>  set of connection IDs
//	presence:info:<accountID>  json {status,last_seen}
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

type Info struct {
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen"`
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &Store{client: client, ttl: ttl}
}

func connKey(accountID string) string { return fmt.Sprintf("presence:conn:%s", accountID) }
func infoKey(accountID string) string { return fmt.Sprintf("presence:info:%s", accountID) }

func (s *Store) Connect(ctx context.Context, accountID, connectionID string) error {
	if err := s.client.SAdd(ctx, connKey(accountID), connectionID).Err(); err != nil {
		return err
	}
	if err := s.client.Expire(ctx, connKey(accountID), s.ttl).Err(); err != nil {
		return err
	}
	return s.setInfo(ctx, accountID, "online", s.ttl)
}

// Heartbeat extends the TTL on an existing connection's presence.
func (s *Store) Heartbeat(ctx context.Context, accountID string) error {
	if err := s.client.Expire(ctx, connKey(accountID), s.ttl).Err(); err != nil {
		return err
	}
	return s.setInfo(ctx, accountID, "online", s.ttl)
}

func (s *Store) Disconnect(ctx context.Context, accountID, connectionID string) error {
	if err := s.client.SRem(ctx, connKey(accountID), connectionID).Err(); err != nil {
		return err
	}

	remaining, err := s.client.SCard(ctx, connKey(accountID)).Result()
	if err != nil {
		return err
	}
	if remaining == 0 {
		// Offline info is kept without TTL so last_seen survives.
		return s.setInfo(ctx, accountID, "offline", 0)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, accountID string) (*Info, error) {
	raw, err := s.client.Get(ctx, infoKey(accountID)).Bytes()
	if err == redis.Nil {
		return &Info{Status: "offline"}, nil
	}
	if err != nil {
		return nil, err
	}

	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *Store) setInfo(ctx context.Context, accountID, status string, ttl time.Duration) error {
	raw, err := json.Marshal(Info{Status: status, LastSeen: time.Now().Unix()})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, infoKey(accountID), raw, ttl).Err()
}
