// Package session publishes per-document editing-session state to Redis
// so companion processes (UI shells, status dashboards) can read save
// liveness without holding the document open.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"redline/engine/internal/autosave"
)

// ErrNotFound is returned when no session state exists for a document.
var ErrNotFound = errors.New("session state not found")

// State mirrors the scheduler's observable status for out-of-process
// readers.
type State struct {
	DocumentID        string    `json:"document_id"`
	SaveState         string    `json:"save_state"`
	LastSavedAt       time.Time `json:"last_saved_at"`
	HasUnsavedChanges bool      `json:"has_unsaved_changes"`
	LastError         string    `json:"last_error,omitempty"`
	PublishedAt       time.Time `json:"published_at"`
}

// RedisStore implements session state storage using Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: "session:",
		ttl:    24 * time.Hour,
	}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "session:",
		ttl:    24 * time.Hour,
	}
}

func (s *RedisStore) key(documentID string) string {
	return s.prefix + documentID
}

// PublishState stores the scheduler status for a document. Stale entries
// expire on their own if the publisher dies.
func (s *RedisStore) PublishState(ctx context.Context, documentID string, status autosave.Status) error {
	state := State{
		DocumentID:        documentID,
		SaveState:         string(status.State),
		LastSavedAt:       status.LastSavedAt,
		HasUnsavedChanges: status.HasUnsavedChanges,
		LastError:         status.LastError,
		PublishedAt:       time.Now(),
	}
	jsonData, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(documentID), jsonData, s.ttl).Err(); err != nil {
		return fmt.Errorf("publish session state: %w", err)
	}
	return nil
}

// GetState retrieves the published state for a document.
func (s *RedisStore) GetState(ctx context.Context, documentID string) (State, error) {
	jsonData, err := s.client.Get(ctx, s.key(documentID)).Result()
	if err == redis.Nil {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("lookup session state: %w", err)
	}

	var state State
	if err := json.Unmarshal([]byte(jsonData), &state); err != nil {
		return State{}, fmt.Errorf("unmarshal session state: %w", err)
	}
	return state, nil
}

// ClearState removes a document's published state, used when the
// document is closed cleanly.
func (s *RedisStore) ClearState(ctx context.Context, documentID string) error {
	if err := s.client.Del(ctx, s.key(documentID)).Err(); err != nil {
		return fmt.Errorf("clear session state: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
