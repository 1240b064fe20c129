package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closeLimiter(t *testing.T, m *MemoryLimiter) {
	t.Helper()
	if err := m.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
}

func TestMemoryLimiterBurstDoesNotBlock(t *testing.T) {
	m := NewMemoryLimiter(1, 5)
	defer closeLimiter(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Wait(ctx, "k1"), "request %d within burst", i)
	}
}

func TestMemoryLimiterBlocksAfterBurst(t *testing.T) {
	m := NewMemoryLimiter(0.5, 1) // one token every two seconds
	defer closeLimiter(t, m)

	require.NoError(t, m.Wait(context.Background(), "k1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, m.Wait(ctx, "k1"), "second request must wait past the deadline")
}

func TestMemoryLimiterIndependentKeys(t *testing.T) {
	m := NewMemoryLimiter(0.5, 1)
	defer closeLimiter(t, m)

	require.NoError(t, m.Wait(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, m.Wait(ctx, "b"), "key b has its own bucket")
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	m := NewMemoryLimiter(1000, 50)
	defer closeLimiter(t, m)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				if err := m.Wait(context.Background(), "shared"); err == nil {
					ok.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(50), ok.Load())
}

func TestMemoryLimiterEvictStale(t *testing.T) {
	m := NewMemoryLimiter(10, 5)
	defer closeLimiter(t, m)

	_ = m.Wait(context.Background(), "stale")
	_ = m.Wait(context.Background(), "recent")

	m.mu.Lock()
	m.entries["stale"].lastAccess = time.Now().Add(-15 * time.Minute)
	m.mu.Unlock()

	m.evictStale()

	m.mu.Lock()
	_, staleExists := m.entries["stale"]
	_, recentExists := m.entries["recent"]
	m.mu.Unlock()

	assert.False(t, staleExists)
	assert.True(t, recentExists)
}

func TestRouteKeyCollapsesIDs(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/workbench/runs/42/artifacts", nil)
	assert.Equal(t, "GET /workbench/runs/:id/artifacts", RouteKey(r))
}

func TestTransportWaitsOnLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := NewMemoryLimiter(0.5, 1)
	defer closeLimiter(t, m)
	client := &http.Client{Transport: Transport(m, nil, srv.Client().Transport)}

	resp, err := client.Get(srv.URL + "/workbench/runs/1")
	require.NoError(t, err)
	_ = resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/workbench/runs/2", nil)
	_, err = client.Do(req)
	assert.Error(t, err, "second status poll is throttled")
}

func TestNoopLimiter(t *testing.T) {
	var l Limiter = NoopLimiter{}
	assert.NoError(t, l.Wait(context.Background(), "x"))
	assert.NoError(t, l.Close())
}
