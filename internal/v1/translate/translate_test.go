package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProvider(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req providerRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(providerResponse{
			TranslatedText: fmt.Sprintf("[%s] %s", req.Target, req.Text),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTranslateCachesResults(t *testing.T) {
	var calls atomic.Int64
	srv := newProvider(t, &calls)
	svc := NewService(true, srv.URL, 1000, nil)
	ctx := context.Background()

	got, err := svc.Translate(ctx, "hello", "en", "es")
	require.NoError(t, err)
	assert.Equal(t, "[es] hello", got)
	assert.Equal(t, int64(1), calls.Load())

	// Memory tier serves the repeat.
	got, err = svc.Translate(ctx, "hello", "en", "es")
	require.NoError(t, err)
	assert.Equal(t, "[es] hello", got)
	assert.Equal(t, int64(1), calls.Load())

	// Different target misses.
	_, err = svc.Translate(ctx, "hello", "en", "fr")
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestRedisTierSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	var calls atomic.Int64
	srv := newProvider(t, &calls)
	ctx := context.Background()

	a := NewService(true, srv.URL, 1000, rdb)
	_, err := a.Translate(ctx, "hello", "en", "es")
	require.NoError(t, err)
	require.Equal(t, int64(1), calls.Load())

	// A second instance with a cold memory tier hits Redis, not the provider.
	b := NewService(true, srv.URL, 1000, rdb)
	got, err := b.Translate(ctx, "hello", "en", "es")
	require.NoError(t, err)
	assert.Equal(t, "[es] hello", got)
	assert.Equal(t, int64(1), calls.Load())
}

func TestDisabledAndTooLong(t *testing.T) {
	svc := NewService(false, "", 5, nil)
	_, err := svc.Translate(context.Background(), "hi", "en", "es")
	assert.ErrorIs(t, err, ErrDisabled)

	var calls atomic.Int64
	srv := newProvider(t, &calls)
	svc = NewService(true, srv.URL, 5, nil)
	_, err = svc.Translate(context.Background(), "this is too long", "en", "es")
	assert.ErrorIs(t, err, ErrTooLong)
	assert.Zero(t, calls.Load())
}

func TestFanOutDropsFailedTargets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req providerRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Target == "de" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(providerResponse{TranslatedText: "[" + req.Target + "]"})
	}))
	defer srv.Close()

	svc := NewService(true, srv.URL, 1000, nil)
	out := svc.FanOut(context.Background(), "hello", "en", []string{"es", "de", "en", ""})
	assert.Equal(t, map[string]string{"es": "[es]"}, out)
}

func TestMemoryCacheEviction(t *testing.T) {
	c := newMemoryCache(2)
	c.put("a", "1")
	c.put("b", "2")
	c.put("c", "3")
	assert.Equal(t, 2, c.len())

	_, ok := c.get("a")
	assert.False(t, ok)
	v, ok := c.get("c")
	assert.True(t, ok)
	assert.Equal(t, "3", v)

	// Touch "c", insert "d": "b" is now the eviction victim.
	c.put("d", "4")
	_, ok = c.get("b")
	assert.False(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
}
