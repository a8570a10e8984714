package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vx-labs/perch/broker"
	"go.uber.org/zap"
)

func TestAdminRouter(t *testing.T) {
	config := broker.DefaultConfig()
	config.DataDir = t.TempDir()
	b, err := broker.Open(context.Background(), config)
	require.NoError(t, err)
	defer b.Close()
	router := newAdminRouter(b, zap.NewNop())

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("should report health", func(t *testing.T) {
		require.Equal(t, http.StatusOK, do(http.MethodGet, "/health", "").Code)
	})
	t.Run("should create streams, topics and groups", func(t *testing.T) {
		require.Equal(t, http.StatusCreated, do(http.MethodPost, "/streams", `{"id": 1, "name": "events"}`).Code)
		require.Equal(t, http.StatusConflict, do(http.MethodPost, "/streams", `{"id": 1, "name": "events"}`).Code)
		require.Equal(t, http.StatusCreated, do(http.MethodPost, "/streams/1/topics", `{"id": 2, "name": "orders", "partitions": 2}`).Code)
		require.Equal(t, http.StatusNotFound, do(http.MethodPost, "/streams/9/topics", `{"id": 2, "name": "orders", "partitions": 2}`).Code)
		require.Equal(t, http.StatusCreated, do(http.MethodPost, "/streams/1/topics/2/groups", `{"id": 3, "name": "billing"}`).Code)
	})
	t.Run("should describe streams", func(t *testing.T) {
		rec := do(http.MethodGet, "/streams", "")
		require.Equal(t, http.StatusOK, rec.Code)
		out := []broker.StreamDescription{}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
		require.Len(t, out, 1)
		require.Len(t, out[0].Topics, 1)
		require.Len(t, out[0].Topics[0].Partitions, 2)
		require.Len(t, out[0].Topics[0].Groups, 1)
	})
	t.Run("should delete groups", func(t *testing.T) {
		require.Equal(t, http.StatusNoContent, do(http.MethodDelete, "/streams/1/topics/2/groups/3", "").Code)
		require.Equal(t, http.StatusNotFound, do(http.MethodDelete, "/streams/1/topics/2/groups/3", "").Code)
	})
	t.Run("should refuse malformed requests", func(t *testing.T) {
		require.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/streams", `{`).Code)
		require.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/streams/abc/topics", `{}`).Code)
	})
	t.Run("should expose metrics", func(t *testing.T) {
		rec := do(http.MethodGet, "/metrics", "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "perch_connected_clients")
	})
}
