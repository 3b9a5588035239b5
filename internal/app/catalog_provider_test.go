package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cdsmcp/internal/domain"
	"cdsmcp/internal/infra/backend/sqlite"
	"cdsmcp/internal/infra/telemetry"
)

const shopModel = `{"definitions": {
  "CatalogService": {"kind": "service"},
  "CatalogService.Books": {
    "kind": "entity",
    "@mcp.wrap": {"tools": true, "modes": ["query", "get"]},
    "elements": {
      "ID": {"type": "cds.Integer", "key": true},
      "title": {"type": "cds.String"}
    }
  }
}}`

const shopModelWithAuthors = `{"definitions": {
  "CatalogService": {"kind": "service"},
  "CatalogService.Books": {
    "kind": "entity",
    "@mcp.wrap": {"tools": true, "modes": ["query", "get"]},
    "elements": {
      "ID": {"type": "cds.Integer", "key": true},
      "title": {"type": "cds.String"}
    }
  },
  "CatalogService.Authors": {
    "kind": "entity",
    "@mcp.resource": [],
    "elements": {
      "ID": {"type": "cds.Integer", "key": true},
      "name": {"type": "cds.String"}
    }
  }
}}`

type catalogBuilds struct {
	telemetry.NoopMetrics
	mu       sync.Mutex
	ok       int
	rejected int
}

func (c *catalogBuilds) ObserveCatalogBuild(_ domain.CatalogSummary, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.rejected++
		return
	}
	c.ok++
}

func (c *catalogBuilds) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ok, c.rejected
}

func writeModel(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func testConfig(modelPath string) domain.Config {
	return domain.Config{
		Name:      "bookshop",
		ModelPath: modelPath,
		Database:  ":memory:",
		HTTP: domain.HTTPConfig{
			Addr:         "127.0.0.1:0",
			Path:         domain.DefaultHTTPPath,
			MaxBodyBytes: domain.DefaultMaxBodyBytes,
		},
		Auth:  domain.AuthConfig{Mode: domain.AuthModeNone},
		Query: domain.QueryConfig{DefaultTop: 10, MaxTop: 50},
	}
}

func newTestProvider(t *testing.T, cfg domain.Config, metrics domain.Metrics) (*CatalogProvider, error) {
	t.Helper()
	backend, err := sqlite.New(sqlite.Options{DSN: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	exec := NewExecutor(backend, NewTranslator(cfg), zap.NewNop())
	provider, err := NewCatalogProvider(context.Background(), CatalogProviderOptions{
		Builder:    NewCatalogBuilder(cfg, zap.NewNop()),
		Backend:    backend,
		NewServer:  NewServerFactory(cfg, exec, metrics, zap.NewNop()),
		Metrics:    metrics,
		WatchModel: cfg.WatchModel,
	})
	if provider != nil {
		provider.debounce = 20 * time.Millisecond
	}
	return provider, err
}

func TestCatalogProvider_Bootstrap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	writeModel(t, path, shopModel)
	metrics := &catalogBuilds{}

	provider, err := newTestProvider(t, testConfig(path), metrics)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), provider.Revision())
	require.NotNil(t, provider.Server())
	assert.Same(t, provider.Catalog(), provider.Server().Catalog())
	assert.Equal(t, []string{"CatalogService_Books_query", "CatalogService_Books_get"}, provider.Catalog().ToolNames())

	ok, rejected := metrics.counts()
	assert.Equal(t, 1, ok)
	assert.Zero(t, rejected)
}

func TestCatalogProvider_BootstrapFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	writeModel(t, path, `{"definitions": [`)

	provider, err := newTestProvider(t, testConfig(path), &catalogBuilds{})
	require.Error(t, err)
	assert.Nil(t, provider)
	assert.Equal(t, domain.CodeConfiguration, mustCode(t, err))
}

func TestCatalogProvider_BootstrapMissingModelPath(t *testing.T) {
	_, err := newTestProvider(t, testConfig(""), &catalogBuilds{})
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestCatalogProvider_ReloadSwapsServer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	writeModel(t, path, shopModel)
	provider, err := newTestProvider(t, testConfig(path), &catalogBuilds{})
	require.NoError(t, err)

	before := provider.Server()
	writeModel(t, path, shopModelWithAuthors)
	require.NoError(t, provider.Reload(context.Background()))

	assert.Equal(t, uint64(2), provider.Revision())
	assert.NotSame(t, before, provider.Server())
	require.Len(t, provider.Catalog().Resources, 1)
	assert.Equal(t, "odata://CatalogService/Authors", provider.Catalog().Resources[0].URI)
	// The previous server keeps serving its own catalog.
	assert.Empty(t, before.Catalog().Resources)
}

func TestCatalogProvider_UnchangedReloadKeepsRevision(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	writeModel(t, path, shopModel)
	provider, err := newTestProvider(t, testConfig(path), &catalogBuilds{})
	require.NoError(t, err)

	before := provider.Server()
	require.NoError(t, provider.Reload(context.Background()))
	assert.Equal(t, uint64(1), provider.Revision())
	assert.Same(t, before, provider.Server())
}

func TestCatalogProvider_RejectedReloadKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	writeModel(t, path, shopModel)
	metrics := &catalogBuilds{}
	provider, err := newTestProvider(t, testConfig(path), metrics)
	require.NoError(t, err)

	before := provider.Server()
	writeModel(t, path, `not json at all: [`)
	require.Error(t, provider.Reload(context.Background()))

	assert.Equal(t, uint64(1), provider.Revision())
	assert.Same(t, before, provider.Server())
	ok, rejected := metrics.counts()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
}

func TestCatalogProvider_WatchDeliversUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	writeModel(t, path, shopModel)
	provider, err := newTestProvider(t, testConfig(path), &catalogBuilds{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := provider.Watch(ctx)

	writeModel(t, path, shopModelWithAuthors)
	require.NoError(t, provider.Reload(ctx))

	select {
	case update := <-updates:
		assert.Equal(t, uint64(2), update.Revision)
		assert.Equal(t, domain.CatalogUpdateSourceManual, update.Source)
		assert.Equal(t, 1, update.Summary.Resources)
	case <-time.After(time.Second):
		t.Fatal("no catalog update delivered")
	}
}

func TestCatalogProvider_FileWatcherReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	writeModel(t, path, shopModel)
	cfg := testConfig(path)
	cfg.WatchModel = true
	provider, err := newTestProvider(t, cfg, &catalogBuilds{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	provider.Start(ctx)

	require.Eventually(t, func() bool {
		// Rewrite until the watcher is registered and picks it up.
		_ = os.WriteFile(path, []byte(shopModelWithAuthors), 0o644)
		return provider.Revision() >= 2
	}, 5*time.Second, 100*time.Millisecond)
	assert.Len(t, provider.Catalog().Resources, 1)
}

func TestShouldReloadForEvent(t *testing.T) {
	modelPath := filepath.Join("srv", "model.json")
	cases := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{name: "write", event: fsnotify.Event{Name: modelPath, Op: fsnotify.Write}, want: true},
		{name: "create", event: fsnotify.Event{Name: modelPath, Op: fsnotify.Create}, want: true},
		{name: "rename", event: fsnotify.Event{Name: modelPath, Op: fsnotify.Rename}, want: true},
		{name: "chmod", event: fsnotify.Event{Name: modelPath, Op: fsnotify.Chmod}, want: false},
		{name: "sibling", event: fsnotify.Event{Name: filepath.Join("srv", "config.yaml"), Op: fsnotify.Write}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, shouldReloadForEvent(modelPath, tc.event))
		})
	}
}

func mustCode(t *testing.T, err error) domain.ErrorCode {
	t.Helper()
	code, ok := domain.CodeFrom(err)
	require.True(t, ok, "expected a domain error, got %v", err)
	return code
}
