package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newSessionStoreTest(t *testing.T) (*Store, *redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(rdb, "as")
	return store, rdb, func() {
		rdb.Close()
		mr.Close()
	}
}

func testSession() *Session {
	now := time.Now()
	return &Session{
		Handle:       "h-1",
		UserID:       "u-1",
		RecipeUserID: "r-1",
		TenantID:     "public",
		Payload:      map[string]any{"st-mfa": map[string]any{"c": map[string]any{}, "v": true}},
		CreatedAt:    now.Unix(),
		ExpiresAt:    now.Add(time.Hour).Unix(),
	}
}

func TestDeleteSessionIdempotentAndIndex(t *testing.T) {
	store, rdb, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	sess := testSession()

	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save session: %v", err)
	}
	existed, err := store.Delete(ctx, sess.Handle)
	if err != nil || !existed {
		t.Fatalf("first delete: existed=%v err=%v", existed, err)
	}
	existed, err = store.Delete(ctx, sess.Handle)
	if err != nil || existed {
		t.Fatalf("second delete: existed=%v err=%v", existed, err)
	}

	for _, key := range []string{store.userKey(sess.UserID), store.recipeUserKey(sess.RecipeUserID)} {
		members, err := rdb.SMembers(ctx, key).Result()
		if err != nil {
			t.Fatalf("smembers %s: %v", key, err)
		}
		if len(members) != 0 {
			t.Fatalf("expected no members in %s, got %v", key, members)
		}
	}

	if _, err := store.Get(ctx, sess.Handle); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestDeleteAllForRecipeUserLeavesOtherLoginMethods(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	a := testSession()
	b := testSession()
	b.Handle = "h-2"
	c := testSession()
	c.Handle = "h-3"
	c.RecipeUserID = "r-2"
	for _, s := range []*Session{a, b, c} {
		if err := store.Save(ctx, s, time.Hour); err != nil {
			t.Fatalf("save %s: %v", s.Handle, err)
		}
	}

	revoked, err := store.DeleteAllForRecipeUser(ctx, "r-1")
	if err != nil {
		t.Fatalf("delete all for recipe user: %v", err)
	}
	if len(revoked) != 2 {
		t.Fatalf("expected 2 revoked sessions, got %v", revoked)
	}

	if _, err := store.Get(ctx, "h-3"); err != nil {
		t.Fatalf("session of other login method must survive: %v", err)
	}
	handles, err := store.Handles(ctx, "u-1")
	if err != nil {
		t.Fatalf("handles: %v", err)
	}
	if len(handles) != 1 || handles[0] != "h-3" {
		t.Fatalf("expected only h-3 indexed for user, got %v", handles)
	}

	if err := store.RevokeAllForRecipeUser(ctx, "r-1"); err != nil {
		t.Fatalf("second revoke must be a no-op: %v", err)
	}

	revoked, err = store.DeleteAllForUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("delete all for user: %v", err)
	}
	if len(revoked) != 1 {
		t.Fatalf("expected 1 revoked session, got %v", revoked)
	}
}

func TestGetExpiredSessionIsRemoved(t *testing.T) {
	store, rdb, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	sess := testSession()
	sess.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := store.Get(ctx, sess.Handle); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found for expired session, got %v", err)
	}
	if n, _ := rdb.Exists(ctx, store.key(sess.Handle)).Result(); n != 0 {
		t.Fatal("expired session blob must be deleted")
	}
}

func TestUpdatePayloadKeepsTTL(t *testing.T) {
	store, rdb, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	sess := testSession()
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	updated, err := store.UpdatePayload(ctx, sess.Handle, func(p map[string]any) map[string]any {
		p["custom"] = "value"
		return p
	})
	if err != nil {
		t.Fatalf("update payload: %v", err)
	}
	if updated.Payload["custom"] != "value" {
		t.Fatalf("payload not updated: %#v", updated.Payload)
	}
	if _, ok := updated.Payload["st-mfa"]; !ok {
		t.Fatalf("existing claims must be preserved: %#v", updated.Payload)
	}

	ttl, err := rdb.PTTL(ctx, store.key(sess.Handle)).Result()
	if err != nil {
		t.Fatalf("pttl: %v", err)
	}
	if ttl <= 0 {
		t.Fatalf("expected ttl to be kept, got %v", ttl)
	}

	got, err := store.Get(ctx, sess.Handle)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Payload["custom"] != "value" {
		t.Fatalf("stored payload not updated: %#v", got.Payload)
	}

	if _, err := store.UpdatePayload(ctx, "missing", func(p map[string]any) map[string]any { return p }); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found for missing handle, got %v", err)
	}
}

func TestReassignUserMovesSessionsAndIndex(t *testing.T) {
	store, rdb, cleanup := newSessionStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	sess := testSession()
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	moved, err := store.ReassignUser(ctx, "u-1", "r-1")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if len(moved) != 1 || moved[0] != "h-1" {
		t.Fatalf("moved = %v", moved)
	}

	got, err := store.Get(ctx, "h-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != "r-1" || got.RecipeUserID != "r-1" {
		t.Fatalf("unexpected owner: %+v", got)
	}
	if ttl := rdb.TTL(ctx, "as:s:h-1").Val(); ttl <= 0 {
		t.Fatalf("ttl lost: %v", ttl)
	}
	if old, _ := store.Handles(ctx, "u-1"); len(old) != 0 {
		t.Fatalf("old index kept: %v", old)
	}
	if now, _ := store.Handles(ctx, "r-1"); len(now) != 1 {
		t.Fatalf("new index = %v", now)
	}

	revoked, err := store.DeleteAllForUser(ctx, "r-1")
	if err != nil || len(revoked) != 1 {
		t.Fatalf("revoke under new id: %v %v", revoked, err)
	}
}
