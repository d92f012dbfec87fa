package ingest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerSubmitRunsAllBatchesToCompletion(t *testing.T) {
	registry := NewRegistry(0)
	etl := &FileETL{Fetcher: fakeFetcher{}, Parser: fakeParser{}, Loader: fakeLoader{}}
	newRunner := func() *BatchRunner { return NewBatchRunner(etl, 3) }
	manager := NewManager(registry, newRunner, 2)

	urls := make([]string, 25)
	for i := range urls {
		urls[i] = "u"
	}
	master := manager.Submit(urls, 10)
	require.Equal(t, 3, master.TotalBatches)

	waitForTerminal(t, registry, master.ID)

	final, ok := registry.Snapshot(master.ID, false)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 25, final.Progress.URLsSucceeded)
	assert.Equal(t, 0, final.Progress.URLsFailed)
}

func TestManagerRespectsGlobalConcurrencyCap(t *testing.T) {
	registry := NewRegistry(0)

	var inFlight int64
	var maxSeen int64
	trackingRunner := func() *BatchRunner {
		etl := &FileETL{
			Fetcher: trackingBatchFetcher{inFlight: &inFlight, maxSeen: &maxSeen},
			Parser:  fakeParser{},
			Loader:  fakeLoader{},
		}
		return NewBatchRunner(etl, 1)
	}
	manager := NewManager(registry, trackingRunner, 2)

	urls := make([]string, 6)
	for i := range urls {
		urls[i] = "u"
	}
	master := manager.Submit(urls, 1)
	require.Equal(t, 6, master.TotalBatches)

	waitForTerminal(t, registry, master.ID)

	assert.LessOrEqual(t, atomic.LoadInt64(&maxSeen), int64(2))
}

func TestManagerMarksMasterFailedWhenEveryBatchFails(t *testing.T) {
	registry := NewRegistry(0)
	// Per-file failures leave a batch completed; only a panic escaping C5
	// marks it failed, so every batch's runner construction panics here.
	newRunner := func() *BatchRunner { panic("runner unavailable") }
	manager := NewManager(registry, newRunner, 2)

	master := manager.Submit([]string{"u", "u"}, 1)
	waitForTerminal(t, registry, master.ID)

	final, ok := registry.Snapshot(master.ID, false)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, final.Status)
}

type trackingBatchFetcher struct {
	inFlight *int64
	maxSeen  *int64
}

func (f trackingBatchFetcher) Fetch(ctx context.Context, url string) (FetchResult, error) {
	n := atomic.AddInt64(f.inFlight, 1)
	for {
		cur := atomic.LoadInt64(f.maxSeen)
		if n <= cur || atomic.CompareAndSwapInt64(f.maxSeen, cur, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	atomic.AddInt64(f.inFlight, -1)
	return FetchResult{Path: "/tmp/x", Bytes: 1}, nil
}

func waitForTerminal(t *testing.T, registry *Registry, masterID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if registry.IsMasterTerminal(masterID) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("master job never reached a terminal state")
}
