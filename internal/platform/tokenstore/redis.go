package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "pacs:viewer_token:"

// RedisStore keeps records as JSON values whose TTL matches the token expiry.
// A per-study set indexes jtis for RevokeStudy.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: defaultKeyPrefix, now: time.Now}
}

func (s *RedisStore) tokenKey(id string) string      { return s.prefix + id }
func (s *RedisStore) studyKey(studyID string) string { return s.prefix + "study:" + studyID }

func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("save viewer token %s: already expired", rec.ID)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal viewer token: %w", err)
	}

	// The study index must outlive its longest token. Stale members left
	// behind by expired tokens are harmless: DEL on a missing key counts zero.
	indexTTL, err := s.rdb.PTTL(ctx, s.studyKey(rec.StudyID)).Result()
	if err != nil {
		return fmt.Errorf("read study index ttl: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.tokenKey(rec.ID), data, ttl)
	pipe.SAdd(ctx, s.studyKey(rec.StudyID), rec.ID)
	if ttl > indexTTL {
		pipe.Expire(ctx, s.studyKey(rec.StudyID), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save viewer token %s: %w", rec.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.rdb.Get(ctx, s.tokenKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get viewer token %s: %w", id, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode viewer token %s: %w", id, err)
	}
	if rec.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.tokenKey(id))
	pipe.SRem(ctx, s.studyKey(rec.StudyID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete viewer token %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) RevokeStudy(ctx context.Context, studyID string) (int, error) {
	jtis, err := s.rdb.SMembers(ctx, s.studyKey(studyID)).Result()
	if err != nil {
		return 0, fmt.Errorf("list viewer tokens for study %s: %w", studyID, err)
	}
	if len(jtis) == 0 {
		return 0, nil
	}

	keys := make([]string, len(jtis))
	for i, jti := range jtis {
		keys[i] = s.tokenKey(jti)
	}

	pipe := s.rdb.TxPipeline()
	deleted := pipe.Del(ctx, keys...)
	pipe.Del(ctx, s.studyKey(studyID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("revoke viewer tokens for study %s: %w", studyID, err)
	}
	return int(deleted.Val()), nil
}

// Ping backs the readiness check when redis is configured.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
