package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/semaphore"

	"discomap/internal/metrics"
)

// Manager is the entry point from the request layer (C6). It partitions a
// submission's URL list into batches via the registry, then schedules
// batch execution under a global concurrency cap G. Submission returns
// immediately; all blocking happens inside the semaphore-gated scheduling
// loop started in a background goroutine.
type Manager struct {
	Registry *Registry
	NewRunner func() *BatchRunner
	G        int64
}

// NewManager builds a Manager with global batch concurrency cap g.
func NewManager(registry *Registry, newRunner func() *BatchRunner, g int) *Manager {
	if g <= 0 {
		g = 3
	}
	return &Manager{Registry: registry, NewRunner: newRunner, G: int64(g)}
}

// Submit creates a master job for urls (partitioned into batches of
// batchSize) and kicks off background processing. It returns immediately.
func (m *Manager) Submit(urls []string, batchSize int) *MasterJob {
	master := m.Registry.CreateMaster(urls, batchSize)
	log.Printf("🚀 master job %s created - %d URLs divided into %d batches", master.ID, master.TotalURLs, master.TotalBatches)
	go m.run(master)
	return master
}

func (m *Manager) run(master *MasterJob) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Registry.SetCancelFunc(master.ID, cancel)

	m.Registry.MarkMasterStarted(master.ID)
	log.Printf("🎯 starting master job %s", master.ID)

	sem := semaphore.NewWeighted(m.G)
	done := make(chan struct{}, len(master.Batches))

	for _, batch := range master.Batches {
		batch := batch
		if m.Registry.IsCancelled(master.ID) {
			done <- struct{}{}
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			done <- struct{}{}
			continue
		}

		go func() {
			defer func() { done <- struct{}{} }()
			defer sem.Release(1)
			m.runBatch(ctx, master, batch)
		}()
	}

	for range master.Batches {
		<-done
	}

	m.Registry.MarkMasterCompleted(master.ID)
	view, _ := m.Registry.Snapshot(master.ID, false)
	log.Printf("✅ master job %s completed - batches %d/%d completed, urls %d/%d succeeded",
		master.ID, view.Progress.BatchesCompleted, master.TotalBatches, view.Progress.URLsSucceeded, master.TotalURLs)
}

// runBatch executes one batch's C5 invocation under a panic-safe wrapper;
// an unhandled panic marks the batch failed instead of crashing the
// scheduling loop, matching spec.md §7's "exception escaping C5" rule.
func (m *Manager) runBatch(ctx context.Context, master *MasterJob, batch *BatchJob) {
	m.Registry.MarkStarted(master.ID, batch.ID)
	log.Printf("📦 batch %s starting - %d URLs", batch.ID, len(batch.URLs))

	metrics.BatchesInFlight.Inc()
	defer metrics.BatchesInFlight.Dec()

	start := time.Now()
	var result BatchResult
	var runErr error

	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("panic in batch %s: %v", batch.ID, r)
				log.Printf("❌ batch %s panicked: %v", batch.ID, r)
			}
		}()
		runner := m.NewRunner()
		result = runner.Run(ctx, batch.URLs)
	}()

	metrics.BatchDuration.Observe(time.Since(start).Seconds())
	m.Registry.UpdateBatch(master.ID, batch.ID, result.FilesSucceeded, result.FilesFailed, result.TotalRowsWritten, result.PerFileErrors, runErr)

	if runErr != nil {
		log.Printf("❌ batch %s failed: %v", batch.ID, runErr)
		return
	}
	log.Printf("✅ batch %s completed in %s - %d succeeded, %d failed",
		batch.ID, time.Since(start).Round(time.Millisecond), result.FilesSucceeded, result.FilesFailed)
}
