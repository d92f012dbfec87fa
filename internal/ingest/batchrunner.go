package ingest

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/semaphore"

	"discomap/internal/metrics"
)

// BatchResult aggregates the outcome of running one batch's URLs under the
// file-level concurrency cap K.
type BatchResult struct {
	FilesSucceeded  int
	FilesFailed     int
	TotalRowsWritten int
	PerFileErrors   []string
}

// BatchRunner executes a fixed-size group of URLs with bounded file-level
// concurrency (C5). Per-file failures never abort the batch: each FileETL
// invocation returns independently and is counted, not propagated.
type BatchRunner struct {
	ETL *FileETL
	K   int
}

// NewBatchRunner builds a BatchRunner with file concurrency cap k.
func NewBatchRunner(etl *FileETL, k int) *BatchRunner {
	if k <= 0 {
		k = 3
	}
	return &BatchRunner{ETL: etl, K: k}
}

// Run executes urls under the K-bounded semaphore, aggregating counters.
// ctx cancellation is honored at the next safe suspension point: an
// in-flight FileETL finishes its current loader batch before exiting, and
// URLs not yet started never begin.
func (r *BatchRunner) Run(ctx context.Context, urls []string) BatchResult {
	var result BatchResult
	var mu sync.Mutex
	var wg sync.WaitGroup

	sem := semaphore.NewWeighted(int64(r.K))

	for i, url := range urls {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled: remaining URLs never start.
			mu.Lock()
			for _, skipped := range urls[i:] {
				result.FilesFailed++
				result.PerFileErrors = append(result.PerFileErrors, fmt.Sprintf("%s: %v", skipped, ctx.Err()))
			}
			mu.Unlock()
			break
		}

		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			defer sem.Release(1)
			defer func() {
				if rec := recover(); rec != nil {
					mu.Lock()
					result.FilesFailed++
					result.PerFileErrors = append(result.PerFileErrors, fmt.Sprintf("%s: panic: %v", url, rec))
					mu.Unlock()
				}
			}()

			metrics.FilesInFlight.Inc()
			defer metrics.FilesInFlight.Dec()
			fr := r.ETL.Run(ctx, url)

			mu.Lock()
			defer mu.Unlock()
			if fr.Error != nil {
				result.FilesFailed++
				result.PerFileErrors = append(result.PerFileErrors, fmt.Sprintf("%s: %v", url, fr.Error))
				log.Printf("❌ file %s failed: %v", url, fr.Error)
				return
			}
			result.FilesSucceeded++
			result.TotalRowsWritten += fr.RowsWritten
		}(url)
	}

	wg.Wait()
	return result
}
