package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseboard/internal/models"
)

func TestWebhookStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webhooks.json")

	store, err := NewWebhookStore(path)
	require.NoError(t, err)

	hook := models.Webhook{
		ID:        "wh-1",
		Name:      "deploys",
		URL:       "https://example.com/hook",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Put(hook))

	// A fresh store must load the persisted registration.
	reloaded, err := NewWebhookStore(path)
	require.NoError(t, err)

	got, ok := reloaded.Get("wh-1")
	require.True(t, ok)
	assert.Equal(t, "deploys", got.Name)
	assert.Equal(t, "https://example.com/hook", got.URL)
}

func TestWebhookStoreDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webhooks.json")
	store, err := NewWebhookStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Put(models.Webhook{ID: "wh-1", Name: "a", URL: "https://a"}))

	existed, err := store.Delete("wh-1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = store.Delete("wh-1")
	require.NoError(t, err)
	assert.False(t, existed)

	_, ok := store.Get("wh-1")
	assert.False(t, ok)
}

func TestWebhookStoreListOrderedByCreation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webhooks.json")
	store, err := NewWebhookStore(path)
	require.NoError(t, err)

	base := time.Now().UTC()
	require.NoError(t, store.Put(models.Webhook{ID: "b", Name: "newer", URL: "https://b", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, store.Put(models.Webhook{ID: "a", Name: "older", URL: "https://a", CreatedAt: base}))

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, "older", list[0].Name)
	assert.Equal(t, "newer", list[1].Name)
}

func TestWebhookStoreMissingFile(t *testing.T) {
	store, err := NewWebhookStore(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, store.List())
}
