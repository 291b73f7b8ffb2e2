package webhooks

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseboard/internal/models"
	"pulseboard/internal/notify"
	"pulseboard/internal/query"
	"pulseboard/internal/storage"
)

func newTestService(t *testing.T) (*Service, *query.Cache, <-chan models.Notification) {
	t.Helper()

	store, err := storage.NewWebhookStore(filepath.Join(t.TempDir(), "webhooks.json"))
	require.NoError(t, err)

	cache := query.NewCache(0)
	center := notify.NewCenter(nil)
	notifs, cancel := center.Subscribe()
	t.Cleanup(cancel)

	return NewService(store, cache, center, nil), cache, notifs
}

func TestServiceCreateAssignsIDAndNotifies(t *testing.T) {
	svc, cache, notifs := newTestService(t)

	seedCache(t, cache)

	created, err := svc.Create(models.Webhook{
		Name:   "deploy alerts",
		URL:    "https://example.com/hook",
		Topic:  "jobs.",
		Active: true,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	assert.Zero(t, cache.Len(), "mutation invalidates the webhooks query")
	assert.Equal(t, "Webhook created", (<-notifs).Title)
}

func TestServiceCreateRejectsInvalidInput(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(models.Webhook{Name: "", URL: "https://example.com"})
	assert.Error(t, err, "name is required")

	_, err = svc.Create(models.Webhook{Name: "x", URL: "not a url"})
	assert.Error(t, err, "url must be valid")
}

func TestServiceUpdatePreservesIdentity(t *testing.T) {
	svc, _, _ := newTestService(t)

	created, err := svc.Create(models.Webhook{Name: "a", URL: "https://a.example.com"})
	require.NoError(t, err)

	updated, err := svc.Update(created.ID, models.Webhook{
		ID:   "attempted-override",
		Name: "renamed",
		URL:  "https://b.example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.Equal(t, "renamed", updated.Name)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt) || updated.UpdatedAt.Equal(updated.CreatedAt))
}

func TestServiceUpdateUnknownID(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Update("missing", models.Webhook{Name: "x", URL: "https://x.example.com"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceDelete(t *testing.T) {
	svc, _, _ := newTestService(t)

	created, err := svc.Create(models.Webhook{Name: "a", URL: "https://a.example.com"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(created.ID))
	assert.ErrorIs(t, svc.Delete(created.ID), ErrNotFound)

	_, err = svc.Get(created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func seedCache(t *testing.T, cache *query.Cache) {
	t.Helper()
	_, err := cache.Get(QueryKey, func() (any, error) { return nil, nil })
	require.NoError(t, err)
}
