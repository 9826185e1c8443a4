package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"redline/engine/internal/autosave"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

func TestPublishAndGetState(t *testing.T) {
	store, _ := setupTestRedis(t)
	defer store.Close()
	ctx := context.Background()

	savedAt := time.Now().Add(-time.Minute).Truncate(time.Second)
	status := autosave.Status{
		State:             autosave.StateError,
		LastSavedAt:       savedAt,
		HasUnsavedChanges: true,
		LastError:         "disk full",
	}
	if err := store.PublishState(ctx, "doc-1", status); err != nil {
		t.Fatalf("PublishState() error = %v", err)
	}

	state, err := store.GetState(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.DocumentID != "doc-1" {
		t.Fatalf("DocumentID = %q", state.DocumentID)
	}
	if state.SaveState != string(autosave.StateError) {
		t.Fatalf("SaveState = %q, want %q", state.SaveState, autosave.StateError)
	}
	if !state.HasUnsavedChanges || state.LastError != "disk full" {
		t.Fatalf("state = %+v", state)
	}
	if !state.LastSavedAt.Equal(savedAt) {
		t.Fatalf("LastSavedAt = %v, want %v", state.LastSavedAt, savedAt)
	}
	if state.PublishedAt.IsZero() {
		t.Fatal("PublishedAt not stamped")
	}
}

func TestPublishOverwritesPreviousState(t *testing.T) {
	store, _ := setupTestRedis(t)
	defer store.Close()
	ctx := context.Background()

	if err := store.PublishState(ctx, "doc-1", autosave.Status{State: autosave.StateSaving}); err != nil {
		t.Fatalf("PublishState() error = %v", err)
	}
	if err := store.PublishState(ctx, "doc-1", autosave.Status{State: autosave.StateIdle}); err != nil {
		t.Fatalf("PublishState() error = %v", err)
	}

	state, err := store.GetState(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.SaveState != string(autosave.StateIdle) {
		t.Fatalf("SaveState = %q, want idle", state.SaveState)
	}
}

func TestGetStateMissingDocument(t *testing.T) {
	store, _ := setupTestRedis(t)
	defer store.Close()

	if _, err := store.GetState(context.Background(), "doc-unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetState() error = %v, want ErrNotFound", err)
	}
}

func TestClearState(t *testing.T) {
	store, _ := setupTestRedis(t)
	defer store.Close()
	ctx := context.Background()

	if err := store.PublishState(ctx, "doc-1", autosave.Status{State: autosave.StateIdle}); err != nil {
		t.Fatalf("PublishState() error = %v", err)
	}
	if err := store.ClearState(ctx, "doc-1"); err != nil {
		t.Fatalf("ClearState() error = %v", err)
	}
	if _, err := store.GetState(ctx, "doc-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetState() after clear error = %v, want ErrNotFound", err)
	}

	// Clearing an absent key is not an error.
	if err := store.ClearState(ctx, "doc-1"); err != nil {
		t.Fatalf("ClearState() on absent key error = %v", err)
	}
}

func TestStateExpires(t *testing.T) {
	store, mr := setupTestRedis(t)
	defer store.Close()
	ctx := context.Background()

	if err := store.PublishState(ctx, "doc-1", autosave.Status{State: autosave.StateIdle}); err != nil {
		t.Fatalf("PublishState() error = %v", err)
	}

	mr.FastForward(25 * time.Hour)

	if _, err := store.GetState(ctx, "doc-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetState() after TTL error = %v, want ErrNotFound", err)
	}
}
