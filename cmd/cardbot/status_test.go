package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchStatus(t *testing.T) {
	t.Run("decodes status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/token/status", r.URL.Path)
			_, _ = w.Write([]byte(`{"initialized":true,"expires_at":"2026-01-02T11:30:00Z","remaining_seconds":5400,"nearly_expired":false,"refresh_count":3,"failed_refreshes":1}`))
		}))
		defer server.Close()

		status, err := fetchStatus(context.Background(), strings.TrimPrefix(server.URL, "http://"))
		require.NoError(t, err)
		assert.True(t, status.Initialized)
		assert.Equal(t, 3, status.RefreshCount)
		assert.Equal(t, 1, status.FailedRefreshes)
		assert.InDelta(t, 5400, status.RemainingSeconds, 0.001)
	})

	t.Run("non 200", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer server.Close()

		_, err := fetchStatus(context.Background(), strings.TrimPrefix(server.URL, "http://"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status server returned 500")
	})

	t.Run("bad json", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}))
		defer server.Close()

		_, err := fetchStatus(context.Background(), strings.TrimPrefix(server.URL, "http://"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode status")
	})

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		addr := strings.TrimPrefix(server.URL, "http://")
		server.Close()

		_, err := fetchStatus(context.Background(), addr)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to reach cardbot")
	})
}
