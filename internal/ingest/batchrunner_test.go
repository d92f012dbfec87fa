package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeFetcher struct {
	fail map[string]bool
}

func (f fakeFetcher) Fetch(ctx context.Context, url string) (FetchResult, error) {
	if f.fail[url] {
		return FetchResult{}, &FetchError{URL: url, Err: fmt.Errorf("404")}
	}
	return FetchResult{Path: "/tmp/does-not-matter/" + url, Bytes: 10}, nil
}

type fakeParser struct{}

func (fakeParser) ParseFile(ctx context.Context, path string) (ParseResult, error) {
	return ParseResult{Rows: []Row{{SamplingPointID: "x"}}}, nil
}

type fakeLoader struct{}

func (fakeLoader) LoadRows(ctx context.Context, rows []Row) (int, error) {
	return len(rows), nil
}

// concurrencyTrackingFetcher records the maximum number of Fetch calls
// observed in flight at once, to assert the K-bound holds.
type concurrencyTrackingFetcher struct {
	inFlight int64
	maxSeen  int64
}

func (f *concurrencyTrackingFetcher) Fetch(ctx context.Context, url string) (FetchResult, error) {
	n := atomic.AddInt64(&f.inFlight, 1)
	for {
		cur := atomic.LoadInt64(&f.maxSeen)
		if n <= cur || atomic.CompareAndSwapInt64(&f.maxSeen, cur, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt64(&f.inFlight, -1)
	return FetchResult{Path: "/tmp/x", Bytes: 1}, nil
}

func TestBatchRunnerMixedSuccessAndFailure(t *testing.T) {
	fetcher := fakeFetcher{fail: map[string]bool{
		"u4": true, "u5": true, "u6": true,
	}}
	etl := &FileETL{Fetcher: fetcher, Parser: fakeParser{}, Loader: fakeLoader{}}
	runner := NewBatchRunner(etl, 3)

	urls := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8", "u9", "u10"}
	result := runner.Run(context.Background(), urls)

	assert.Equal(t, 7, result.FilesSucceeded)
	assert.Equal(t, 3, result.FilesFailed)
	assert.Len(t, result.PerFileErrors, 3)
}

func TestBatchRunnerRespectsConcurrencyCap(t *testing.T) {
	fetcher := &concurrencyTrackingFetcher{}
	etl := &FileETL{Fetcher: fetcher, Parser: fakeParser{}, Loader: fakeLoader{}}
	runner := NewBatchRunner(etl, 3)

	urls := make([]string, 20)
	for i := range urls {
		urls[i] = fmt.Sprintf("u%d", i)
	}

	result := runner.Run(context.Background(), urls)

	assert.Equal(t, 20, result.FilesSucceeded)
	assert.LessOrEqual(t, atomic.LoadInt64(&fetcher.maxSeen), int64(3))
}
