package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"pulseboard/internal/models"
)

// WebhookStore handles persistence of webhook registrations to disk.
type WebhookStore struct {
	mu    sync.RWMutex
	path  string
	hooks map[string]models.Webhook
}

// NewWebhookStore creates a store and loads existing registrations if present.
func NewWebhookStore(path string) (*WebhookStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure data directory: %w", err)
	}

	s := &WebhookStore{path: path, hooks: make(map[string]models.Webhook)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Put inserts or replaces a webhook and persists the store.
func (s *WebhookStore) Put(hook models.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hooks[hook.ID] = hook
	return s.persistLocked()
}

// Get returns the webhook with the given id.
func (s *WebhookStore) Get(id string) (models.Webhook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hook, ok := s.hooks[id]
	return hook, ok
}

// Delete removes a webhook and persists the store. It reports whether the
// webhook existed.
func (s *WebhookStore) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.hooks[id]; !ok {
		return false, nil
	}
	delete(s.hooks, id)
	return true, s.persistLocked()
}

// List returns all webhooks ordered by creation time, oldest first.
func (s *WebhookStore) List() []models.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Webhook, 0, len(s.hooks))
	for _, hook := range s.hooks {
		out = append(out, hook)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *WebhookStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read webhooks: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var hooks []models.Webhook
	if err := json.Unmarshal(data, &hooks); err != nil {
		return fmt.Errorf("parse webhooks: %w", err)
	}
	for _, hook := range hooks {
		s.hooks[hook.ID] = hook
	}
	return nil
}

func (s *WebhookStore) persistLocked() error {
	hooks := make([]models.Webhook, 0, len(s.hooks))
	for _, hook := range s.hooks {
		hooks = append(hooks, hook)
	}
	sort.Slice(hooks, func(i, j int) bool { return hooks[i].ID < hooks[j].ID })

	bytes, err := json.MarshalIndent(hooks, "", "  ")
	if err != nil {
		return fmt.Errorf("encode webhooks: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, bytes, 0o644); err != nil {
		return fmt.Errorf("write temp webhooks: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace webhooks file: %w", err)
	}
	return nil
}
