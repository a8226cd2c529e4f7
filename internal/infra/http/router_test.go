package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/groups/pkg/logger"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func ok() Pinger { return pingerFunc(func(context.Context) error { return nil }) }

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	router := NewRouter(logger.NewNop(), NewHealthHandler())

	rec := serve(t, router, PathHealth)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestReady(t *testing.T) {
	t.Run("all dependencies up", func(t *testing.T) {
		router := NewRouter(logger.NewNop(), NewHealthHandler(
			WithCheck("database", ok()),
			WithCheck("redis", ok()),
		))

		rec := serve(t, router, PathReady)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp ReadyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ready", resp.Status)
		assert.Equal(t, "ok", resp.Checks["database"].Status)
		assert.Equal(t, "ok", resp.Checks["redis"].Status)
	})

	t.Run("one dependency down", func(t *testing.T) {
		router := NewRouter(logger.NewNop(), NewHealthHandler(
			WithCheck("database", ok()),
			WithCheck("redis", pingerFunc(func(context.Context) error { return errors.New("connection refused") })),
		))

		rec := serve(t, router, PathReady)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var resp ReadyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "not_ready", resp.Status)
		assert.Equal(t, "connection refused", resp.Checks["redis"].Error)
	})
}

func TestMetrics(t *testing.T) {
	router := NewRouter(logger.NewNop(), NewHealthHandler())

	rec := serve(t, router, PathMetrics)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRecovery(t *testing.T) {
	h := Recovery(logger.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := serve(t, h, "/")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
