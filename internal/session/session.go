// Package session keeps per-login wizard state outside the database.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Student wizard stages.
const (
	StageSelect = 1
	StageUpload = 2
	StageReview = 3
	StageChat   = 4
)

// WizardState is the student's position in the select, upload, review and
// chat flow for one browser session.
type WizardState struct {
	ActiveAssignmentID    primitive.ObjectID `json:"activeAssignmentId"`
	ActiveAssignmentTitle string             `json:"activeAssignmentTitle,omitempty"`
	Stage                 int                `json:"stage"`
}

// HasActiveAssignment reports whether an assignment was selected.
func (s WizardState) HasActiveAssignment() bool {
	return !s.ActiveAssignmentID.IsZero()
}

// Store persists WizardState by session id. Load returns a zero state for
// unknown ids.
type Store interface {
	Load(ctx context.Context, sid string) (WizardState, error)
	Save(ctx context.Context, sid string, state WizardState) error
	Delete(ctx context.Context, sid string) error
}

func key(sid string) string {
	return fmt.Sprintf("session:%s", sid)
}

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore stores each state as JSON with a sliding ttl.
func NewRedisStore(client *redis.Client, ttl time.Duration) Store {
	return &redisStore{client: client, ttl: ttl}
}

func (s *redisStore) Load(ctx context.Context, sid string) (WizardState, error) {
	value, err := s.client.Get(ctx, key(sid)).Result()
	if errors.Is(err, redis.Nil) {
		return WizardState{}, nil
	}
	if err != nil {
		return WizardState{}, fmt.Errorf("load session: %w", err)
	}
	var state WizardState
	if err := json.Unmarshal([]byte(value), &state); err != nil {
		return WizardState{}, fmt.Errorf("decode session: %w", err)
	}
	return state, nil
}

func (s *redisStore) Save(ctx context.Context, sid string, state WizardState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key(sid), data, s.ttl).Err()
}

func (s *redisStore) Delete(ctx context.Context, sid string) error {
	return s.client.Del(ctx, key(sid)).Err()
}

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]WizardState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]WizardState)}
}

func (m *MemoryStore) Load(_ context.Context, sid string) (WizardState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[key(sid)], nil
}

func (m *MemoryStore) Save(_ context.Context, sid string, state WizardState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[key(sid)] = state
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, key(sid))
	return nil
}
