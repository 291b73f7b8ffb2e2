// Package webhooks manages webhook registrations and delivers matching
// upstream events to them.
package webhooks

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulseboard/internal/models"
	"pulseboard/internal/notify"
	"pulseboard/internal/query"
	"pulseboard/internal/storage"
)

// QueryKey is the cache key invalidated by webhook mutations.
const QueryKey = "webhooks"

// ErrNotFound is returned when a webhook id does not exist.
var ErrNotFound = errors.New("webhook not found")

// Service owns webhook CRUD: validation, id assignment, persistence, cache
// invalidation, and mutation notifications.
type Service struct {
	store    *storage.WebhookStore
	validate *validator.Validate
	cache    *query.Cache
	center   *notify.Center
	log      *zap.Logger

	mu         sync.RWMutex
	deliveries map[string]models.DeliveryResult
}

// NewService wires the webhook service.
func NewService(store *storage.WebhookStore, cache *query.Cache, center *notify.Center, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:      store,
		validate:   validator.New(),
		cache:      cache,
		center:     center,
		log:        log,
		deliveries: make(map[string]models.DeliveryResult),
	}
}

// List returns all registrations, oldest first.
func (s *Service) List() []models.Webhook {
	return s.store.List()
}

// Get returns one registration.
func (s *Service) Get(id string) (models.Webhook, error) {
	hook, ok := s.store.Get(id)
	if !ok {
		return models.Webhook{}, ErrNotFound
	}
	return hook, nil
}

// Create validates and persists a new registration.
func (s *Service) Create(hook models.Webhook) (models.Webhook, error) {
	hook.ID = uuid.NewString()
	now := time.Now().UTC()
	hook.CreatedAt = now
	hook.UpdatedAt = now

	if err := s.validate.Struct(hook); err != nil {
		return models.Webhook{}, fmt.Errorf("validate webhook: %w", err)
	}
	if err := s.store.Put(hook); err != nil {
		return models.Webhook{}, err
	}

	s.afterMutation("Webhook created", hook.Name)
	return hook, nil
}

// Update replaces a registration's mutable fields.
func (s *Service) Update(id string, hook models.Webhook) (models.Webhook, error) {
	current, ok := s.store.Get(id)
	if !ok {
		return models.Webhook{}, ErrNotFound
	}

	hook.ID = current.ID
	hook.CreatedAt = current.CreatedAt
	hook.UpdatedAt = time.Now().UTC()

	if err := s.validate.Struct(hook); err != nil {
		return models.Webhook{}, fmt.Errorf("validate webhook: %w", err)
	}
	if err := s.store.Put(hook); err != nil {
		return models.Webhook{}, err
	}

	s.afterMutation("Webhook updated", hook.Name)
	return hook, nil
}

// Delete removes a registration.
func (s *Service) Delete(id string) error {
	existed, err := s.store.Delete(id)
	if err != nil {
		return err
	}
	if !existed {
		return ErrNotFound
	}

	s.mu.Lock()
	delete(s.deliveries, id)
	s.mu.Unlock()

	s.afterMutation("Webhook deleted", id)
	return nil
}

// RecordDelivery stores the most recent delivery outcome for a webhook.
func (s *Service) RecordDelivery(result models.DeliveryResult) {
	s.mu.Lock()
	s.deliveries[result.WebhookID] = result
	s.mu.Unlock()
}

// LastDelivery returns the most recent delivery outcome, if any.
func (s *Service) LastDelivery(id string) (models.DeliveryResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.deliveries[id]
	return result, ok
}

func (s *Service) afterMutation(title, subject string) {
	s.cache.Invalidate(QueryKey)
	s.center.Publish(models.Notification{
		Level:   "info",
		Title:   title,
		Message: subject,
	})
	s.log.Info(title, zap.String("webhook", subject))
}
