package app

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestApplication_ServeEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	writeModel(t, path, shopModelWithAuthors)

	ready := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, cleanup, err := InitializeApplication(ctx, ServeConfig{
		Config:  testConfig(path),
		OnReady: func(addr string) { ready <- addr },
	}, LoggingConfig{Logger: zap.NewNop()})
	require.NoError(t, err)
	defer cleanup()
	require.Len(t, application.Catalog().Tools, 2)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- application.Serve(ctx, listener) }()

	var addr string
	select {
	case addr = <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("application did not start")
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "0.1.0"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: "http://" + addr + "/mcp"}, nil)
	require.NoError(t, err)

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"CatalogService_Books_query", "CatalogService_Books_get"}, names)

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "CatalogService_Books_query",
		Arguments: map[string]any{"return": "count"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, 1, application.Sessions().Count())
	require.NoError(t, session.Close())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("application did not shut down")
	}
	assert.Zero(t, application.Sessions().Count())
}

func TestInitializeApplication_RejectsBadAuth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	writeModel(t, path, shopModel)
	cfg := testConfig(path)
	cfg.Auth.Mode = "oauth"

	_, _, err := InitializeApplication(context.Background(), ServeConfig{Config: cfg}, LoggingConfig{})
	require.Error(t, err)
}

func TestServerVersion(t *testing.T) {
	previous := Version
	t.Cleanup(func() { Version = previous })

	Version = "dev"
	assert.Equal(t, "1.2.0", ServerVersion("1.2"))
	assert.Equal(t, "2.0.0-rc.1", ServerVersion("v2.0.0-rc.1"))
	assert.Equal(t, "nightly", ServerVersion("nightly"))
	assert.Equal(t, "0.1.0", ServerVersion(""))

	Version = "v3.4.5"
	assert.Equal(t, "3.4.5", ServerVersion(""))
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	writeModel(t, path, shopModelWithAuthors)
	writeModel(t, filepath.Join(dir, "CatalogService-Authors.csv"), "ID,name\n1,Emily Brontë\n")

	cfg := testConfig(path)
	cfg.DataDir = dir
	catalog, err := Validate(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, catalog.Tools, 2)
	assert.Len(t, catalog.Resources, 1)
}

func TestValidate_BadSeedData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	writeModel(t, path, shopModelWithAuthors)
	writeModel(t, filepath.Join(dir, "CatalogService-Authors.csv"), "ID,name\nnot-a-number,Emily\n")

	cfg := testConfig(path)
	cfg.DataDir = dir
	_, err := Validate(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}
