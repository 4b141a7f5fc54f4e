package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/radiweb/pacs-gateway/internal/platform/tokenstore"
)

func newRedisStore(t *testing.T) *tokenstore.RedisStore {
	t.Helper()
	rdb, err := tokenstore.NewRedisClient(context.Background(), globalEnv.RedisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	if err := rdb.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	store := tokenstore.NewRedisStore(rdb)
	t.Cleanup(func() { store.Close() })
	return store
}

func newRecord(studyID string, ttl time.Duration) tokenstore.Record {
	now := time.Now().UTC().Truncate(time.Second)
	return tokenstore.Record{
		ID:        uuid.NewString(),
		StudyID:   studyID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestRedisStore_SaveGetDelete(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	rec := newRecord("study-1", time.Hour)
	if err := store.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.StudyID != "study-1" || !got.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Errorf("unexpected record %+v", got)
	}

	if err := store.Delete(ctx, rec.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, rec.ID); !errors.Is(err, tokenstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, rec.ID); !errors.Is(err, tokenstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestRedisStore_Expiry(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	rec := newRecord("study-1", 2*time.Second)
	if err := store.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}
	time.Sleep(3 * time.Second)
	if _, err := store.Get(ctx, rec.ID); !errors.Is(err, tokenstore.ErrNotFound) {
		t.Errorf("expected expired token to be gone, got %v", err)
	}
}

func TestRedisStore_RevokeStudy(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	a := newRecord("study-1", time.Hour)
	b := newRecord("study-1", time.Hour)
	other := newRecord("study-2", time.Hour)
	for _, r := range []tokenstore.Record{a, b, other} {
		if err := store.Save(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	n, err := store.RevokeStudy(ctx, "study-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("revoked %d, want 2", n)
	}
	for _, r := range []tokenstore.Record{a, b} {
		if _, err := store.Get(ctx, r.ID); !errors.Is(err, tokenstore.ErrNotFound) {
			t.Errorf("%s still valid after revoke", r.ID)
		}
	}
	if _, err := store.Get(ctx, other.ID); err != nil {
		t.Errorf("token of another study was revoked: %v", err)
	}

	if n, err := store.RevokeStudy(ctx, "study-1"); err != nil || n != 0 {
		t.Errorf("second revoke = %d, %v", n, err)
	}
}

func TestRedisStore_Ping(t *testing.T) {
	store := newRedisStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}
