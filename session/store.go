package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisUnavailable wraps any Redis failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrNotFound is returned for unknown or expired entries.
	ErrNotFound = errors.New("session: entry not found")
)

// Config names the key prefixes used by a Store.
type Config struct {
	Prefix          string
	BlacklistPrefix string
}

// Store is the Redis-backed refresh entry and revocation store.
type Store struct {
	redis  redis.UniversalClient
	config Config
}

// NewStore returns a Store using cfg's prefixes ("rt" and "abl" by default).
func NewStore(redisClient redis.UniversalClient, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = "rt"
	}
	if cfg.BlacklistPrefix == "" {
		cfg.BlacklistPrefix = "abl"
	}
	return &Store{
		redis:  redisClient,
		config: cfg,
	}
}

func (s *Store) key(id string) string {
	return s.config.Prefix + ":" + id
}

func (s *Store) userKey(userID string) string {
	return s.config.Prefix + "u:" + userID
}

func (s *Store) blacklistKey(jti string) string {
	return s.config.BlacklistPrefix + ":" + jti
}

// saveScript writes the entry, adds it to the user index and extends the
// index TTL to at least the entry TTL. The index TTL never shrinks, so an
// entry saved with a short remaining lifetime cannot expire the index
// while longer-lived entries still need it.
const saveScript = `
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
local ttl = tonumber(ARGV[2])
if redis.call("PTTL", KEYS[2]) < ttl then
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`

var saveLua = redis.NewScript(saveScript)

// Save writes the entry and indexes it under its user.
//
//	Performance: 1 EVALSHA round trip.
func (s *Store) Save(ctx context.Context, e *Entry, ttl time.Duration) error {
	if e.ID == "" || e.UserID == "" {
		return errors.New("session: entry requires id and user id")
	}
	if ttl < time.Millisecond {
		return errors.New("session: ttl must be positive")
	}
	data, err := Encode(e)
	if err != nil {
		return err
	}

	keys := []string{s.key(e.ID), s.userKey(e.UserID)}
	if err := saveLua.Run(ctx, s.redis, keys, data, ttl.Milliseconds(), e.ID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get returns the entry with the given id. Entries past their absolute
// expiry are removed and reported as ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	e, err := Decode(data)
	if err != nil {
		return nil, err
	}
	e.ID = id

	if e.Expired(time.Now()) {
		if err := s.Delete(ctx, e.UserID, id); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return e, nil
}

// Touch rewrites an existing entry (typically its LastActiveAt) without
// changing its TTL. It never recreates an entry deleted concurrently.
func (s *Store) Touch(ctx context.Context, e *Entry) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}

	err = s.redis.SetArgs(ctx, s.key(e.ID), data, redis.SetArgs{
		Mode:    "XX",
		KeepTTL: true,
	}).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Delete removes one entry and its index membership. Deleting a missing
// entry is not an error.
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(id))
		if userID != "" {
			pipe.SRem(ctx, s.userKey(userID), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForUser removes every entry indexed under the user and returns
// how many index members were cleared.
//
// Only the members read by SMEMBERS are removed from the index, so an entry
// saved concurrently keeps its membership and stays revocable by the next
// call. Repeated calls are harmless.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)

	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids))
	members := make([]any, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.key(id))
		members = append(members, id)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, userKey, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return len(ids), nil
}

// ListForUser returns the user's live entries. Index members whose entry
// has expired are pruned as a side effect.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Entry, error) {
	userKey := s.userKey(userID)

	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return []*Entry{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	now := time.Now()
	entries := make([]*Entry, 0, len(ids))
	var stale []any
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				stale = append(stale, ids[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}

		e, decErr := Decode(data)
		if decErr != nil {
			return nil, decErr
		}
		e.ID = ids[i]
		if e.Expired(now) {
			continue
		}
		entries = append(entries, e)
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, userKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return entries, nil
}

// Blacklist revokes an access token id for ttl. Non-positive ttl is a no-op
// because the token has already expired.
func (s *Store) Blacklist(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, s.blacklistKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// IsBlacklisted reports whether the access token id has been revoked.
func (s *Store) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.blacklistKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// Ping measures a Redis round trip.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
