package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cdsmcp/internal/domain"
	"cdsmcp/internal/infra/auth"
	"cdsmcp/internal/infra/backend/sqlite"
	"cdsmcp/internal/infra/capability"
	"cdsmcp/internal/infra/mcpserver"
	"cdsmcp/internal/infra/model"
	"cdsmcp/internal/infra/query"
	"cdsmcp/internal/infra/session"
)

const catalogCSN = `{"definitions": {
  "CatalogService": {"kind": "service"},
  "CatalogService.Books": {
    "kind": "entity",
    "@mcp.wrap": {"tools": true, "modes": ["query", "create"]},
    "elements": {
      "ID": {"type": "cds.Integer", "key": true},
      "title": {"type": "cds.String"}
    }
  }
}}`

const initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"raw","version":"0.0.1"}}}`

var secret = []byte("dispatch-test-secret")

func newServer(t *testing.T) *mcpserver.Server {
	t.Helper()
	defs, err := model.NewLoader(zap.NewNop()).Decode([]byte(catalogCSN))
	require.NoError(t, err)
	catalog, err := capability.NewBuilder(zap.NewNop(), capability.Options{}).Build(model.NewWalker(nil).Walk(defs), domain.WrapDefaults{})
	require.NoError(t, err)

	backend, err := sqlite.New(sqlite.Options{DSN: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	entities := make([]*domain.EntityModel, 0, len(catalog.Entities))
	for _, entity := range catalog.Entities {
		entities = append(entities, entity)
	}
	require.NoError(t, backend.Prepare(context.Background(), entities))

	exec := query.NewExecutor(backend, query.NewTranslator(query.Options{}), zap.NewNop())
	return mcpserver.New(catalog, exec, mcpserver.Options{Name: "bookshop"})
}

func newHandler(t *testing.T, authn auth.Authenticator, opts Options) (*Handler, *session.Manager) {
	t.Helper()
	server := newServer(t)
	sessions := session.NewManager(session.ServerSourceFunc(func() *mcpserver.Server { return server }), session.Options{})
	t.Cleanup(sessions.CloseAll)
	return New(sessions, authn, opts), sessions
}

func post(t *testing.T, url, sessionID, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set(domain.SessionIDHeader, sessionID)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.NotNil(t, env.Error)
	return env
}

func TestHandler_Health(t *testing.T) {
	verifier := auth.NewJWTVerifier(secret)
	h, _ := newHandler(t, auth.NewBearer(verifier), Options{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"UP"}`, rec.Body.String())
}

func TestHandler_EndToEndWithStreamableClient(t *testing.T) {
	h, sessions := newHandler(t, nil, Options{})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "0.1.0"}, nil)
	cs, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: srv.URL + "/mcp"}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, sessions.Count())

	tools, err := cs.ListTools(ctx, &mcp.ListToolsParams{})
	require.NoError(t, err)
	require.Len(t, tools.Tools, 2)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "CatalogService_Books_create",
		Arguments: map[string]any{"ID": 1, "title": "Emma"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)

	require.NoError(t, cs.Close())
	require.Eventually(t, func() bool { return sessions.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_ConcurrentCallsOnOneSession(t *testing.T) {
	h, _ := newHandler(t, nil, Options{})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "0.1.0"}, nil)
	cs, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: srv.URL + "/mcp"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := cs.CallTool(ctx, &mcp.CallToolParams{
				Name:      "CatalogService_Books_create",
				Arguments: map[string]any{"ID": i + 1, "title": "book"},
			})
			if err == nil && res.IsError {
				err = assert.AnError
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "CatalogService_Books_query",
		Arguments: map[string]any{"return": "count"},
	})
	require.NoError(t, err)
	text := res.Content[0].(*mcp.TextContent).Text
	assert.JSONEq(t, `{"count":8}`, text)
}

func TestHandler_InitializeIgnoresForcedSessionID(t *testing.T) {
	h, sessions := newHandler(t, nil, Options{})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	resp := post(t, srv.URL+"/mcp", "forced-session-id", "", initializeBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	minted := resp.Header.Get(domain.SessionIDHeader)
	assert.NotEmpty(t, minted)
	assert.NotEqual(t, "forced-session-id", minted)

	_, err := sessions.Lookup("forced-session-id")
	require.ErrorIs(t, err, domain.ErrNoValidSession)
	_, err = sessions.Lookup(minted)
	require.NoError(t, err)
}

func TestHandler_UnknownOrMissingSession(t *testing.T) {
	h, _ := newHandler(t, nil, Options{})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	body := `{"jsonrpc":"2.0","id":7,"method":"tools/list"}`

	for _, sessionID := range []string{"", "unknown-session", "%%%"} {
		resp := post(t, srv.URL+"/mcp", sessionID, "", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, sessionID)
		env := decodeEnvelope(t, resp)
		assert.Equal(t, domain.ErrCodeApplication, env.Error.Code)
		assert.Equal(t, "Bad Request: No valid session ID provided", env.Error.Message)
		assert.EqualValues(t, 7, env.ID)
	}
}

func TestHandler_MalformedBody(t *testing.T) {
	h, _ := newHandler(t, nil, Options{})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	resp := post(t, srv.URL+"/mcp", "", "", `{"jsonrpc":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	assert.Equal(t, domain.ErrCodeParseError, env.Error.Code)
	assert.Nil(t, env.ID)
}

func TestHandler_BodyTooLarge(t *testing.T) {
	h, _ := newHandler(t, nil, Options{MaxBodyBytes: 64})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	resp := post(t, srv.URL+"/mcp", "", "", initializeBody)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	assert.Equal(t, domain.ErrCodeInvalidRequest, env.Error.Code)
}

func TestHandler_AuthRunsBeforeSessionResolution(t *testing.T) {
	verifier := auth.NewJWTVerifier(secret)
	h, sessions := newHandler(t, auth.NewBearer(verifier), Options{})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	resp := post(t, srv.URL+"/mcp", "unknown-session", "", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	assert.Equal(t, domain.ErrCodeApplication, env.Error.Code)
	assert.Equal(t, "Unauthorized", env.Error.Message)

	resp = post(t, srv.URL+"/mcp", "", "not-a-token", initializeBody)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, sessions.Count())
}

func TestHandler_SessionOwnership(t *testing.T) {
	verifier := auth.NewJWTVerifier(secret)
	h, _ := newHandler(t, auth.NewBearer(verifier), Options{})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	alice, err := verifier.Generate("alice", time.Hour)
	require.NoError(t, err)
	bob, err := verifier.Generate("bob", time.Hour)
	require.NoError(t, err)

	resp := post(t, srv.URL+"/mcp", "", alice, initializeBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := resp.Header.Get(domain.SessionIDHeader)
	_, _ = io.Copy(io.Discard, resp.Body)

	resp = post(t, srv.URL+"/mcp", id, bob, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	assert.Equal(t, "Forbidden", env.Error.Message)
}

func TestHandler_DeleteClosesSession(t *testing.T) {
	h, sessions := newHandler(t, nil, Options{})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	resp := post(t, srv.URL+"/mcp", "", "", initializeBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := resp.Header.Get(domain.SessionIDHeader)
	_, _ = io.Copy(io.Discard, resp.Body)

	del := func() *http.Response {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/mcp", nil)
		require.NoError(t, err)
		req.Header.Set(domain.SessionIDHeader, id)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}
	assert.Equal(t, http.StatusNoContent, del().StatusCode)
	assert.Equal(t, 0, sessions.Count())
	assert.Equal(t, http.StatusBadRequest, del().StatusCode)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h, _ := newHandler(t, nil, Options{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/mcp", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, POST, DELETE", rec.Header().Get("Allow"))
}

func TestRecoverHandler(t *testing.T) {
	h, _ := newHandler(t, nil, Options{})

	t.Run("before commit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.recoverHandler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		})).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		var env errorEnvelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		assert.Equal(t, domain.ErrCodeInternal, env.Error.Code)
		assert.Equal(t, "Internal error", env.Error.Message)
	})

	t.Run("streaming", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.recoverHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("event: message\ndata: {}\n\n"))
			panic("boom")
		})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"code":-32603`)
		assert.True(t, strings.HasSuffix(rec.Body.String(), "\n\n"))
	})
}

func TestHandler_FailedInitializeLeavesNoSession(t *testing.T) {
	h, sessions := newHandler(t, nil, Options{})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cases := []struct {
		name string
		body string
		code int64
	}{
		{
			name: "notification",
			body: `{"jsonrpc":"2.0","method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"raw","version":"0.0.1"}}}`,
			code: domain.ErrCodeInvalidRequest,
		},
		{
			name: "string params",
			body: `{"jsonrpc":"2.0","id":3,"method":"initialize","params":"garbage"}`,
			code: domain.ErrCodeInvalidParams,
		},
		{
			name: "missing params",
			body: `{"jsonrpc":"2.0","id":4,"method":"initialize"}`,
			code: domain.ErrCodeInvalidParams,
		},
		{
			name: "mistyped params",
			body: `{"jsonrpc":"2.0","id":5,"method":"initialize","params":{"protocolVersion":2025}}`,
			code: domain.ErrCodeInvalidParams,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := post(t, srv.URL+"/mcp", "", "", tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Empty(t, resp.Header.Get(domain.SessionIDHeader))
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			env := decodeEnvelope(t, resp)
			assert.Equal(t, tc.code, env.Error.Code)
		})
	}
	assert.Zero(t, sessions.Count())
}

func TestHandler_SuccessfulInitializeActivatesSession(t *testing.T) {
	h, sessions := newHandler(t, nil, Options{})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	resp := post(t, srv.URL+"/mcp", "", "", initializeBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := resp.Header.Get(domain.SessionIDHeader)
	require.NotEmpty(t, id)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"serverInfo"`)

	sess, err := sessions.Lookup(id)
	require.NoError(t, err)
	assert.Equal(t, session.StateActive, sess.State())
	assert.True(t, sess.Initialized())
}

func TestHandler_MalformedBodyOnLiveSession(t *testing.T) {
	h, _ := newHandler(t, nil, Options{})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	resp := post(t, srv.URL+"/mcp", "", "", initializeBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := resp.Header.Get(domain.SessionIDHeader)
	require.NotEmpty(t, id)

	cases := []struct {
		body string
		code int64
	}{
		{body: `{"jsonrpc":`, code: domain.ErrCodeParseError},
		{body: `[1,2]`, code: domain.ErrCodeInvalidRequest},
		{body: `{"hello":"world"}`, code: domain.ErrCodeInvalidRequest},
	}
	for _, tc := range cases {
		resp := post(t, srv.URL+"/mcp", id, "", tc.body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, tc.body)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"), tc.body)
		env := decodeEnvelope(t, resp)
		assert.Equal(t, tc.code, env.Error.Code, tc.body)
	}

	// A malformed body with an unknown session still reports the session.
	resp = post(t, srv.URL+"/mcp", "unknown-session", "", `{"jsonrpc":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, domain.ErrCodeApplication, decodeEnvelope(t, resp).Error.Code)
}

func TestHandler_TransportRejectionsAreEnvelopes(t *testing.T) {
	h, _ := newHandler(t, nil, Options{})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	resp := post(t, srv.URL+"/mcp", "", "", initializeBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := resp.Header.Get(domain.SessionIDHeader)

	resp = post(t, srv.URL+"/mcp", id, "", `{"jsonrpc":"2.0","id":9,"method":"books/burn","params":{}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	env := decodeEnvelope(t, resp)
	assert.Equal(t, domain.ErrCodeMethodNotFound, env.Error.Code)
	assert.EqualValues(t, 9, env.ID)

	resp = post(t, srv.URL+"/mcp", id, "", `{"jsonrpc":"2.0","method":"tools/list"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, domain.ErrCodeInvalidRequest, decodeEnvelope(t, resp).Error.Code)
}
