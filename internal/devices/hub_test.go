package devices

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObserver struct {
	id     string
	err    error
	mu     sync.Mutex
	got    []string
	onSend func()
}

func (f *fakeObserver) ID() string { return f.id }

func (f *fakeObserver) Send(_ context.Context, action string) error {
	if f.onSend != nil {
		f.onSend()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, action)
	return f.err
}

func TestBroadcast_CountsDeliveries(t *testing.T) {
	h := NewHub("", nil)
	a := &fakeObserver{id: "a"}
	b := &fakeObserver{id: "b", err: errors.New("gone")}
	h.Add(a)
	h.Add(b)

	ack, err := h.Broadcast(context.Background(), ActionShutdown)
	require.NoError(t, err)
	assert.Equal(t, Ack{Message: "success", Delivered: 1, Failed: 1}, ack)
	assert.Equal(t, []string{"shutdown"}, a.got)
}

func TestBroadcast_NoObservers(t *testing.T) {
	ack, err := NewHub("", nil).Broadcast(context.Background(), ActionTurnOn)
	require.NoError(t, err)
	assert.Equal(t, "success", ack.Message)
	assert.Zero(t, ack.Delivered)
}

func TestBroadcast_EmptyAction(t *testing.T) {
	_, err := NewHub("", nil).Broadcast(context.Background(), "")
	require.ErrorIs(t, err, ErrEmptyAction)
}

func TestBroadcast_DisconnectDuringBroadcast(t *testing.T) {
	h := NewHub("", nil)
	a := &fakeObserver{id: "a"}
	b := &fakeObserver{id: "b"}
	// Each observer removes the other mid-broadcast.
	a.onSend = func() { h.Remove("b") }
	b.onSend = func() { h.Remove("a") }
	h.Add(a)
	h.Add(b)

	ack, err := h.Broadcast(context.Background(), ActionShutdown)
	require.NoError(t, err)
	assert.Equal(t, 2, ack.Delivered)
	assert.Equal(t, 0, h.Count())
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestServeHTTP_GreetingEchoAndBroadcast(t *testing.T) {
	h := NewHub("Successfully connected !", nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	assert.Equal(t, "Successfully connected !", readText(t, conn))
	require.Eventually(t, func() bool { return h.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	assert.Equal(t, "ping", readText(t, conn))

	ack, err := h.Broadcast(context.Background(), ActionTurnOn)
	require.NoError(t, err)
	assert.Equal(t, 1, ack.Delivered)
	assert.Equal(t, "turnon", readText(t, conn))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return h.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
