package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jrsteele09/storefront-auth/internal/errors"
	"github.com/jrsteele09/storefront-auth/token/refresh"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "rt:"
	usedPrefix    = "rt:used:"
	familyPrefix  = "rt:family:"
	userPrefix    = "rt:user:"
	revokedPrefix = "rt:revoked:"
)

var _ refresh.Store = (*Store)(nil)

// Store implements refresh.Store on Redis. Records expire with their token;
// consumed and revoked markers are kept for the retention window so replays
// are still recognised.
type Store struct {
	client    *redis.Client
	retention time.Duration
	nowFunc   func() time.Time
}

type Option func(*Store)

// WithRetention sets how long consumed and revoked markers are remembered.
// It should be at least the refresh token TTL.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		s.retention = d
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		s.nowFunc = now
	}
}

func New(client *redis.Client, options ...Option) *Store {
	s := &Store{client: client}
	for _, opt := range options {
		opt(s)
	}
	if s.retention <= 0 {
		s.retention = 7 * 24 * time.Hour
	}
	if s.nowFunc == nil {
		s.nowFunc = time.Now
	}
	return s
}

func (s *Store) Save(ctx context.Context, record *refresh.Record) error {
	ttl := record.ExpiresAt.Sub(s.nowFunc())
	if ttl <= 0 {
		return fmt.Errorf("refresh record for family %s already expired", record.FamilyID)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal refresh record: %w", err)
	}

	userKey := userPrefix + record.Identity.ID
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keyPrefix+record.Hash, data, ttl)
		pipe.Set(ctx, familyPrefix+record.FamilyID, record.Hash, ttl)
		pipe.SAdd(ctx, userKey, record.FamilyID)
		pipe.Expire(ctx, userKey, s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save refresh record: %w", err)
	}
	return nil
}

// consumeScript takes the record and leaves a used marker holding it in one
// step, so a concurrent replay always sees one or the other.
var consumeScript = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if data then
	redis.call('DEL', KEYS[1])
	redis.call('SET', KEYS[2], data, 'PX', ARGV[1])
	return {'fresh', data}
end
local used = redis.call('GET', KEYS[2])
if used then
	return {'used', used}
end
return {'missing'}
`)

func (s *Store) Consume(ctx context.Context, hash string) (*refresh.Record, error) {
	keys := []string{keyPrefix + hash, usedPrefix + hash}
	res, err := consumeScript.Run(ctx, s.client, keys, s.retention.Milliseconds()).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("redis consume refresh record: %w", err)
	}
	if len(res) < 2 {
		return nil, errors.Wrapf(errors.ErrNotFound, "refresh record")
	}

	var record refresh.Record
	if err := json.Unmarshal([]byte(res[1]), &record); err != nil {
		return nil, fmt.Errorf("unmarshal refresh record: %w", err)
	}
	if res[0] == "used" {
		return &refresh.Record{Hash: hash, FamilyID: record.FamilyID}, errors.ErrRefreshReused
	}
	return &record, nil
}

func (s *Store) RevokeFamily(ctx context.Context, familyID string) error {
	hash, err := s.client.Get(ctx, familyPrefix+familyID).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("redis get family: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, revokedPrefix+familyID, 1, s.retention)
		pipe.Del(ctx, familyPrefix+familyID)
		if hash != "" {
			pipe.Del(ctx, keyPrefix+hash)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis revoke family: %w", err)
	}
	return nil
}

func (s *Store) RevokeUser(ctx context.Context, userID string) error {
	families, err := s.client.SMembers(ctx, userPrefix+userID).Result()
	if err != nil {
		return fmt.Errorf("redis list families: %w", err)
	}
	for _, familyID := range families {
		if err := s.RevokeFamily(ctx, familyID); err != nil {
			return err
		}
	}
	if err := s.client.Del(ctx, userPrefix+userID).Err(); err != nil {
		return fmt.Errorf("redis del user families: %w", err)
	}
	return nil
}

func (s *Store) FamilyRevoked(ctx context.Context, familyID string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedPrefix+familyID).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists revoked: %w", err)
	}
	return n > 0, nil
}
