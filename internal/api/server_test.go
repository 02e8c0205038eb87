package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/veronica/internal/actions"
	"github.com/nugget/veronica/internal/agent"
	"github.com/nugget/veronica/internal/connwatch"
	"github.com/nugget/veronica/internal/devices"
	"github.com/nugget/veronica/internal/history"
	"github.com/nugget/veronica/internal/llm"
	"github.com/nugget/veronica/internal/store"
)

type testServer struct {
	api    *Server
	srv    *httptest.Server
	loop   *agent.Loop
	client *llm.ScriptedClient
	hub    *devices.Hub
}

func newTestServer(t *testing.T, steps ...llm.Step) *testServer {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	st, err := store.Open(filepath.Join(t.TempDir(), "api_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	hub := devices.NewHub("Successfully connected !", logger)
	reg, err := actions.NewRegistry(actions.Deps{
		Memories: st,
		Todos:    st,
		Devices:  hub,
	}, actions.WithLogger(logger))
	require.NoError(t, err)

	sessions, err := agent.NewSessions(10)
	require.NoError(t, err)
	client := llm.NewScriptedClient(steps...)
	loop := agent.NewLoop(logger, client, reg, sessions, "system", 0)

	s := NewServer("", 0, loop, logger)
	s.SetStore(st)
	s.SetDevices("/ws", hub)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testServer{api: s, srv: srv, loop: loop, client: client, hub: hub}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*http.Response, string) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestChat_CreateTodo(t *testing.T) {
	ts := newTestServer(t,
		llm.Call("create_todo", `{"task":"buy milk"}`),
		llm.Text("Added buy milk!"),
	)

	resp, body := ts.do(t, http.MethodPost, "/", `{"message":"add buy milk to my todos"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.True(t, strings.HasPrefix(resp.Header.Get("X-Request-Id"), "r_"))

	var reply history.Reply
	require.NoError(t, json.Unmarshal([]byte(body), &reply))
	assert.Equal(t, history.Reply{Role: history.RoleAssistant, Content: "Added buy milk!"}, reply)

	resp, body = ts.do(t, http.MethodGet, "/todo", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"task":"buy milk"`)
}

func TestChat_ExpressionReply(t *testing.T) {
	ts := newTestServer(t,
		llm.Call("reply_with_expression", `{"content":"Hey!","animationName":"Greet"}`),
	)

	_, body := ts.do(t, http.MethodPost, "/", `{"message":"hi"}`)
	assert.JSONEq(t, `{"role":"assistant","content":"Hey!","animation":"Greet"}`, body)
}

func TestChat_MessageFromQuery(t *testing.T) {
	ts := newTestServer(t, llm.Text("hello back"))

	resp, body := ts.do(t, http.MethodPost, "/?message=hello", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Contains(t, body, "hello back")
}

func TestChat_Errors(t *testing.T) {
	tests := []struct {
		name   string
		steps  []llm.Step
		body   string
		status int
	}{
		{name: "empty message", body: `{"message":"  "}`, status: http.StatusBadRequest},
		{name: "bad json", body: `{"message":`, status: http.StatusBadRequest},
		{
			name:   "provider down",
			steps:  []llm.Step{llm.Fail(errors.New("dial tcp: refused")), llm.Fail(errors.New("dial tcp: refused"))},
			body:   `{"message":"hi"}`,
			status: http.StatusBadGateway,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.steps...)
			resp, body := ts.do(t, http.MethodPost, "/", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, body)
			assert.Contains(t, body, `"error"`)
		})
	}
}

func TestSimpleChat(t *testing.T) {
	ts := newTestServer(t, llm.Text("It is sunny."))

	resp, body := ts.do(t, http.MethodPost, "/v1/chat", `{"message":"weather?","conversation_id":"kitchen"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	var got SimpleChatResponse
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, "It is sunny.", got.Response)
	assert.Equal(t, "kitchen", got.ConversationID)
	assert.Equal(t, 1, got.Iterations)

	turns, err := ts.loop.History(context.Background(), "kitchen")
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestClear(t *testing.T) {
	ts := newTestServer(t, llm.Text("hi"))
	ts.do(t, http.MethodPost, "/", `{"message":"hello"}`)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		resp, body := ts.do(t, method, "/clear", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Memory Cleared", body)
	}

	_, body := ts.do(t, http.MethodGet, "/v1/session/history", "")
	assert.JSONEq(t, `{"turns":[]}`, body)
}

func TestClear_SupersededIsConflict(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(agent.ErrSuperseded)
	req := httptest.NewRequest(http.MethodGet, "/clear", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	ts.api.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "superseded")
}

func TestChat_FormEncodedBody(t *testing.T) {
	ts := newTestServer(t, llm.Text("Hi there!"))

	resp, err := http.PostForm(ts.srv.URL+"/", url.Values{
		"message":         {"hello"},
		"conversation_id": {"hallway"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var reply history.Reply
	require.NoError(t, json.Unmarshal(body, &reply))
	assert.Equal(t, "Hi there!", reply.Content)

	turns, err := ts.loop.History(context.Background(), "hallway")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, history.User("hello"), turns[0])
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	_, body := ts.do(t, http.MethodGet, "/ping", "")
	assert.Equal(t, "Pong!", body)

	resp, body := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status":"healthy"`)

	_, body = ts.do(t, http.MethodGet, "/version", "")
	assert.Contains(t, body, `"go_version"`)

	_, body = ts.do(t, http.MethodGet, "/", "")
	assert.Contains(t, body, `"name":"Veronica"`)
}

func TestDeviceWebsocketThroughMiddleware(t *testing.T) {
	ts := newTestServer(t,
		llm.Call("device_action", `{"action":"shutdown"}`),
		llm.Text("Shutting down your laptop."),
	)

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, greeting, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "Successfully connected !", string(greeting))
	require.Eventually(t, func() bool { return ts.hub.Count() == 1 }, 5*time.Second, 5*time.Millisecond)

	resp, body := ts.do(t, http.MethodPost, "/", `{"message":"shut down my laptop"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	_, action, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "shutdown", string(action))
}

func TestHealth_ReportsWatchedServices(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	sessions, err := agent.NewSessions(2)
	require.NoError(t, err)
	reg, err := actions.NewRegistry(actions.Deps{})
	require.NoError(t, err)
	loop := agent.NewLoop(logger, llm.NewScriptedClient(), reg, sessions, "", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watch := connwatch.NewManager(logger)
	w := watch.Watch(ctx, "openai", func(context.Context) error { return errors.New("no route to host") }, connwatch.Schedule{})
	require.Eventually(t, func() bool { return w.Status().Failures > 0 }, 5*time.Second, 5*time.Millisecond)

	s := NewServer("", 0, loop, logger)
	s.SetConnWatch(watch)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body struct {
		Services map[string]connwatch.Status `json:"services"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body.Services, "openai")
	assert.False(t, body.Services["openai"].Ready)
	assert.Equal(t, "no route to host", body.Services["openai"].LastError)
}
