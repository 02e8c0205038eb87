package music

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/veronica/internal/config"
)

func newSession(t *testing.T) (*Client, *[]map[string]string) {
	t.Helper()
	var seen []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/next", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		seen = append(seen, body)
		json.NewEncoder(w).Encode(map[string]string{"song": "Clair de Lune", "artist": "Debussy"})
	}))
	t.Cleanup(srv.Close)
	return New(config.MusicConfig{URL: srv.URL}, nil), &seen
}

func TestClient_Commands(t *testing.T) {
	c, seen := newSession(t)
	ctx := context.Background()

	got, err := c.Control(ctx, ActionPause)
	require.NoError(t, err)
	assert.JSONEq(t, `{"song":"Clair de Lune","artist":"Debussy"}`, string(got))

	_, err = c.RandomSong(ctx, "jazz")
	require.NoError(t, err)
	_, err = c.SearchSong(ctx, "clair de lune")
	require.NoError(t, err)

	assert.Equal(t, []map[string]string{
		{"action": "pause"},
		{"action": "randomSong", "genre": "jazz"},
		{"action": "searchSong", "query": "clair de lune"},
	}, *seen)
}

func TestClient_NotConfigured(t *testing.T) {
	_, err := New(config.MusicConfig{}, nil).Control(context.Background(), ActionNext)
	require.ErrorIs(t, err, ErrNotConfigured)
}
