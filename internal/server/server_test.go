package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/spoolscan/internal/keyderiv"
	"github.com/dyluth/spoolscan/internal/publish"
	"github.com/dyluth/spoolscan/internal/scan"
	"github.com/dyluth/spoolscan/internal/testutil"
	"github.com/dyluth/spoolscan/pkg/spooltag"
)

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	s, err := New(scan.Config{Deadline: 2 * time.Second}, opts...)
	require.NoError(t, err)
	return s
}

func newTestStore(t *testing.T) (*publish.Publisher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	p, err := publish.NewPublisher(&redis.Options{
		Addr:        mr.Addr(),
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, mr
}

func do(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(scan.Config{Concurrency: "queue"})
	assert.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	t.Run("healthy without a store", func(t *testing.T) {
		w := do(t, newTestServer(t), http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		response := decodeBody[HealthResponse](t, w)
		assert.Equal(t, "healthy", response.Status)
		assert.Equal(t, "disabled", response.Redis)
	})

	t.Run("healthy with reachable redis", func(t *testing.T) {
		store, _ := newTestStore(t)
		w := do(t, newTestServer(t, WithStore(store)), http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "connected", decodeBody[HealthResponse](t, w).Redis)
	})

	t.Run("unhealthy when redis unavailable", func(t *testing.T) {
		store, mr := newTestStore(t)
		mr.Close()

		w := do(t, newTestServer(t, WithStore(store)), http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		response := decodeBody[HealthResponse](t, w)
		assert.Equal(t, "unhealthy", response.Status)
		assert.Equal(t, "disconnected", response.Redis)
		assert.NotEmpty(t, response.Error)
	})

	t.Run("method not allowed", func(t *testing.T) {
		w := do(t, newTestServer(t), http.MethodPost, "/healthz", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestKeys(t *testing.T) {
	s := newTestServer(t)

	t.Run("derives sixteen keys", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/keys/5a3c910e", nil)
		require.Equal(t, http.StatusOK, w.Code)

		response := decodeBody[KeysResponse](t, w)
		assert.Equal(t, "5A3C910E", response.UID)
		require.Len(t, response.Keys, 16)

		expected := keyderiv.DeriveKeys(testutil.BambuUID)
		for i, k := range expected {
			assert.Equal(t, k.String(), response.Keys[i])
		}
	})

	t.Run("rejects bad uids", func(t *testing.T) {
		for _, uid := range []string{"zz", "0102", "0102030405"} {
			w := do(t, s, http.MethodGet, "/keys/"+uid, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, uid)
			assert.NotEmpty(t, decodeBody[errorResponse](t, w).Error)
		}
	})
}

func TestDecode(t *testing.T) {
	t.Run("bambu dump", func(t *testing.T) {
		w := do(t, newTestServer(t), http.MethodPost, "/decode", testutil.BambuDump())
		require.Equal(t, http.StatusOK, w.Code)

		res := decodeBody[spooltag.ScanResult](t, w)
		require.Equal(t, spooltag.ResultSuccess, res.Kind, res.Message)
		assert.Equal(t, spooltag.FormatBambu, res.Record.Format)
		assert.Equal(t, "PLA", res.Record.MaterialType)
		assert.Equal(t, "5A3C910E", res.TagUID)
		assert.Equal(t, spooltag.StateCompleted, res.FinalState)
	})

	t.Run("uid override changes derived keys", func(t *testing.T) {
		w := do(t, newTestServer(t), http.MethodPost, "/decode?uid=01020304", testutil.BambuDump())
		require.Equal(t, http.StatusOK, w.Code)

		res := decodeBody[spooltag.ScanResult](t, w)
		assert.Equal(t, spooltag.ResultAuthenticationFailed, res.Kind)
		assert.Equal(t, "01020304", res.TagUID)
	})

	t.Run("blank dump is an invalid tag", func(t *testing.T) {
		w := do(t, newTestServer(t), http.MethodPost, "/decode", testutil.Dump(testutil.Blocks{}, nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, spooltag.ResultInvalidTag, decodeBody[spooltag.ScanResult](t, w).Kind)
	})

	t.Run("short body", func(t *testing.T) {
		w := do(t, newTestServer(t), http.MethodPost, "/decode", make([]byte, 100))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeBody[errorResponse](t, w).Error, "dump must be 1024 bytes")
	})

	t.Run("oversized body", func(t *testing.T) {
		w := do(t, newTestServer(t), http.MethodPost, "/decode", make([]byte, 2048))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("bad uid override", func(t *testing.T) {
		w := do(t, newTestServer(t), http.MethodPost, "/decode?uid=xyz", testutil.BambuDump())
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDecode_PublishesAndServesLatest(t *testing.T) {
	store, _ := newTestStore(t)
	s := newTestServer(t, WithStore(store))

	w := do(t, s, http.MethodPost, "/decode", testutil.BambuDump())
	require.Equal(t, http.StatusOK, w.Code)

	latest, err := store.Latest(context.Background(), "5A3C910E")
	require.NoError(t, err)
	assert.Equal(t, spooltag.ResultSuccess, latest.Kind)

	w = do(t, s, http.MethodGet, "/tags/5a3c910e", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeBody[spooltag.ScanResult](t, w)
	assert.Equal(t, "PLA Basic", res.Record.MaterialName)

	w = do(t, s, http.MethodGet, "/tags/01020304", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLatest_WithoutStore(t *testing.T) {
	w := do(t, newTestServer(t), http.MethodGet, "/tags/5a3c910e", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decodeBody[errorResponse](t, w).Error, "not configured")
}

func TestStartShutdown(t *testing.T) {
	s := newTestServer(t)
	assert.NoError(t, s.Shutdown(context.Background()), "shutdown before start is a no-op")

	require.NoError(t, s.Start("127.0.0.1:0"))
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	other := newTestServer(t)
	assert.Error(t, other.Start(s.Addr()), "address already in use")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}
