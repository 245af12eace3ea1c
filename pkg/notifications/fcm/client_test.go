package fcm_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/opshub/pkg/notifications"
	"github.com/dmitrymomot/opshub/pkg/notifications/fcm"
)

type request struct {
	RegistrationIDs []string          `json:"registration_ids"`
	Notification    map[string]string `json:"notification"`
	Data            map[string]string `json:"data"`
}

func newServer(t *testing.T, handler func(w http.ResponseWriter, req request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key=secret", r.Header.Get("Authorization"))
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Send(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, req request) {
		calls.Add(1)
		assert.Equal(t, "Hola", req.Notification["title"])
		assert.Equal(t, "n-1", req.Data["notification_id"])
		type res struct {
			MessageID string `json:"message_id,omitempty"`
			Error     string `json:"error,omitempty"`
		}
		results := make([]res, 0, len(req.RegistrationIDs))
		for _, tok := range req.RegistrationIDs {
			if tok == "bad" {
				results = append(results, res{Error: notifications.PushErrNotRegistered})
				continue
			}
			results = append(results, res{MessageID: "m-" + tok})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"multicast_id": 77, "results": results})
	})

	client, err := fcm.New(fcm.Config{Endpoint: srv.URL, ServerKey: "secret", Timeout: time.Second, BatchSize: 2})
	require.NoError(t, err)

	resp, err := client.Send(context.Background(), notifications.PushMessage{
		Tokens: []string{"a", "bad", "c"},
		Title:  "Hola",
		Body:   "mundo",
		Data:   map[string]string{"notification_id": "n-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "three tokens in batches of two")
	assert.Equal(t, "77", resp.ProviderID)
	assert.Equal(t, []notifications.TokenResult{
		{Token: "a", MessageID: "m-a"},
		{Token: "bad", Error: notifications.PushErrNotRegistered},
		{Token: "c", MessageID: "m-c"},
	}, resp.Results)
}

func TestClient_SendErrors(t *testing.T) {
	t.Parallel()

	t.Run("http error", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, _ request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
		client, err := fcm.New(fcm.Config{Endpoint: srv.URL, ServerKey: "secret", Timeout: time.Second})
		require.NoError(t, err)
		_, err = client.Send(context.Background(), notifications.PushMessage{Tokens: []string{"a"}})
		require.ErrorIs(t, err, fcm.ErrUnexpectedStatus)
	})

	t.Run("result mismatch", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, _ request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"multicast_id":1,"results":[]}`)
		})
		client, err := fcm.New(fcm.Config{Endpoint: srv.URL, ServerKey: "secret", Timeout: time.Second})
		require.NoError(t, err)
		_, err = client.Send(context.Background(), notifications.PushMessage{Tokens: []string{"a"}})
		require.ErrorIs(t, err, fcm.ErrResultMismatch)
	})

	t.Run("later batch fails", func(t *testing.T) {
		var calls atomic.Int32
		srv := newServer(t, func(w http.ResponseWriter, req request) {
			if calls.Add(1) > 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			results := make([]map[string]string, 0, len(req.RegistrationIDs))
			for _, tok := range req.RegistrationIDs {
				results = append(results, map[string]string{"message_id": "m-" + tok})
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"multicast_id": 5, "results": results})
		})
		client, err := fcm.New(fcm.Config{Endpoint: srv.URL, ServerKey: "secret", Timeout: time.Second, BatchSize: 2})
		require.NoError(t, err)

		resp, err := client.Send(context.Background(), notifications.PushMessage{Tokens: []string{"a", "b", "c", "d", "e"}})
		require.ErrorIs(t, err, fcm.ErrUnexpectedStatus)
		assert.Equal(t, "5", resp.ProviderID)
		assert.Equal(t, []notifications.TokenResult{
			{Token: "a", MessageID: "m-a"},
			{Token: "b", MessageID: "m-b"},
			{Token: "c", Error: notifications.PushErrUnavailable},
			{Token: "d", Error: notifications.PushErrUnavailable},
			{Token: "e", Error: notifications.PushErrUnavailable},
		}, resp.Results)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := fcm.New(fcm.Config{})
		require.ErrorIs(t, err, fcm.ErrMissingServerKey)
	})
}

func TestDevTransport(t *testing.T) {
	t.Parallel()
	tr := fcm.NewDevTransport(slog.New(slog.NewTextHandler(io.Discard, nil)))

	resp, err := tr.Send(context.Background(), notifications.PushMessage{Tokens: []string{"a", "b"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		assert.True(t, r.OK())
	}
}
