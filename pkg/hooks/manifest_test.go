package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureyeoman/secureyeoman/pkg/database"
)

func newTestDiscovery(t *testing.T, dir string) (*Discovery, *Store, *Engine) {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewStore(context.Background(), db)
	require.NoError(t, err)
	engine := NewEngine()
	disc, err := NewDiscovery(store, engine, dir)
	require.NoError(t, err)
	return disc, store, engine
}

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestDiscoverRegistersManifestHooks(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "notifier.yaml", `
name: notifier
version: 1.2.0
description: posts task updates
hooks:
  - point: task.completed
    priority: 5
  - point: task.failed
    semantics: observe
`)

	disc, store, engine := newTestDiscovery(t, dir)
	exts, err := disc.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, exts, 1)
	assert.Equal(t, "notifier", exts[0].Name)
	assert.Equal(t, "1.2.0", exts[0].Version)

	assert.Equal(t, 1, engine.HookCount(PointTaskCompleted))
	assert.Equal(t, 1, engine.HookCount(PointTaskFailed))

	persisted, err := store.ListHooks(context.Background())
	require.NoError(t, err)
	assert.Len(t, persisted, 2)
}

func TestDiscoverSkipsInvalidManifests(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "bad-version.yaml", `
name: bad-version
version: not-semver
`)
	writeManifest(t, dir, "bad-point.yaml", `
name: bad-point
version: 1.0.0
hooks:
  - point: nonsense.hook
`)
	writeManifest(t, dir, "missing-name.yaml", `
version: 1.0.0
`)
	writeManifest(t, dir, "good.yaml", `
name: good
version: 0.1.0
`)

	disc, store, _ := newTestDiscovery(t, dir)
	exts, err := disc.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, exts, 1)
	assert.Equal(t, "good", exts[0].Name)

	all, err := store.ListExtensions(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRediscoverUpdatesInPlace(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "notifier.yaml", `
name: notifier
version: 1.0.0
hooks:
  - point: task.completed
`)

	disc, store, engine := newTestDiscovery(t, dir)
	first, err := disc.Discover(context.Background())
	require.NoError(t, err)

	writeManifest(t, dir, "notifier.yaml", `
name: notifier
version: 1.1.0
hooks:
  - point: task.failed
`)
	second, err := disc.Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first[0].ID, second[0].ID, "same extension keeps its id")
	assert.Equal(t, "1.1.0", second[0].Version)
	assert.Equal(t, 0, engine.HookCount(PointTaskCompleted), "old hook slot cleared")
	assert.Equal(t, 1, engine.HookCount(PointTaskFailed))

	exts, err := store.ListExtensions(context.Background())
	require.NoError(t, err)
	assert.Len(t, exts, 1)
}

func TestLoadPersistedMaterializesPlaceholders(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "notifier.yaml", `
name: notifier
version: 1.0.0
hooks:
  - point: message.inbound
    priority: 3
`)

	disc, store, _ := newTestDiscovery(t, dir)
	_, err := disc.Discover(context.Background())
	require.NoError(t, err)

	// Fresh engine, as after a restart.
	engine2 := NewEngine()
	disc2, err := NewDiscovery(store, engine2, dir)
	require.NoError(t, err)
	require.NoError(t, disc2.LoadPersisted(context.Background()))
	assert.Equal(t, 1, engine2.HookCount(PointMessageInbound))

	// Code registration claims the slot without duplicating it.
	exts, err := store.ListExtensions(context.Background())
	require.NoError(t, err)
	_, err = engine2.RegisterHook(PointMessageInbound, func(context.Context, HookContext) (HandlerOutput, error) {
		return HandlerOutput{}, nil
	}, RegisterOptions{Priority: 3, ExtensionID: exts[0].ID})
	require.NoError(t, err)
	assert.Equal(t, 1, engine2.HookCount(PointMessageInbound))
}
