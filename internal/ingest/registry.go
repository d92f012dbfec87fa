package ingest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of one batch job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// BatchJob is one child unit of a master job.
type BatchJob struct {
	ID          string
	MasterID    string
	URLs        []string
	Status      JobStatus
	Succeeded   int
	Failed      int
	RowsWritten int
	Error       string
	PerFileErrs []string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// MasterJob is the top-level record of one ingestion submission (§3).
// Status and progress are never stored on the struct: Status() and
// Progress() recompute them from Batches on every read.
type MasterJob struct {
	ID          string
	CreatedAt   time.Time
	TotalURLs   int
	BatchSize   int
	TotalBatches int
	Batches     []*BatchJob
	StartedAt   *time.Time
	CompletedAt *time.Time
	Cancelled   bool
}

// Progress is the derived progress snapshot for one master job.
type Progress struct {
	BatchesCompleted int
	BatchesFailed    int
	BatchesRunning   int
	BatchesPending   int
	URLsSucceeded    int
	URLsFailed       int
	CompletionPct    float64
}

// Status computes the master job's status as a pure function of its
// batches, per §3: completed iff every batch is completed; failed iff
// every batch is failed; otherwise running if any batch is running or at
// least one has reached a terminal state; otherwise pending.
//
// Status, Progress, and IsTerminal read BatchJob fields the manager
// mutates concurrently (MarkStarted/UpdateBatch); callers outside this
// file must never invoke them directly on a *MasterJob handed back by
// Get/List. Use Registry.Snapshot/SnapshotList/IsMasterTerminal instead,
// which compute these under r.mu.
func (m *MasterJob) Status() JobStatus {
	if len(m.Batches) == 0 {
		return StatusPending
	}

	allCompleted := true
	allFailed := true
	anyRunning := false
	anyTerminal := false

	for _, b := range m.Batches {
		if b.Status != StatusCompleted {
			allCompleted = false
		}
		if b.Status != StatusFailed {
			allFailed = false
		}
		if b.Status == StatusRunning {
			anyRunning = true
		}
		if b.Status == StatusCompleted || b.Status == StatusFailed {
			anyTerminal = true
		}
	}

	switch {
	case allCompleted:
		return StatusCompleted
	case allFailed:
		return StatusFailed
	case anyRunning || anyTerminal:
		return StatusRunning
	default:
		return StatusPending
	}
}

// Progress computes derived progress counters from the batch list.
func (m *MasterJob) Progress() Progress {
	var p Progress
	for _, b := range m.Batches {
		switch b.Status {
		case StatusCompleted:
			p.BatchesCompleted++
		case StatusFailed:
			p.BatchesFailed++
		case StatusRunning:
			p.BatchesRunning++
		case StatusPending:
			p.BatchesPending++
		}
		p.URLsSucceeded += b.Succeeded
		p.URLsFailed += b.Failed
	}
	if m.TotalBatches > 0 {
		p.CompletionPct = float64(p.BatchesCompleted) / float64(m.TotalBatches) * 100
	}
	return p
}

// IsTerminal reports whether the master job has reached completed/failed.
func (m *MasterJob) IsTerminal() bool {
	s := m.Status()
	return s == StatusCompleted || s == StatusFailed
}

// BatchView is an immutable, point-in-time snapshot of one batch job,
// safe to read without the registry lock.
type BatchView struct {
	ID          string
	Status      JobStatus
	URLCount    int
	Succeeded   int
	Failed      int
	RowsWritten int
	Errors      []string
}

// MasterView is an immutable, point-in-time snapshot of one master job,
// including its derived Status/Progress, safe to read without the
// registry lock.
type MasterView struct {
	MasterID     string
	Status       JobStatus
	TotalURLs    int
	TotalBatches int
	Progress     Progress
	Batches      []BatchView
}

// snapshotMaster must only be called while holding r.mu.
func snapshotMaster(m *MasterJob, includeBatches bool) MasterView {
	view := MasterView{
		MasterID:     m.ID,
		Status:       m.Status(),
		TotalURLs:    m.TotalURLs,
		TotalBatches: m.TotalBatches,
		Progress:     m.Progress(),
	}
	if includeBatches {
		for _, b := range m.Batches {
			view.Batches = append(view.Batches, BatchView{
				ID:          b.ID,
				Status:      b.Status,
				URLCount:    len(b.URLs),
				Succeeded:   b.Succeeded,
				Failed:      b.Failed,
				RowsWritten: b.RowsWritten,
				Errors:      append([]string(nil), b.PerFileErrs...),
			})
		}
	}
	return view
}

// Registry is the process-wide, mutex-guarded store of master and batch
// jobs (C7). The mutex is never held across I/O; it only ever guards map
// and slice mutation, plus the Status/Progress derivation that reads
// those same fields.
type Registry struct {
	mu          sync.Mutex
	masters     map[string]*MasterJob
	order       []string // insertion order, most-recent-last
	maxHistory  int
	cancelFuncs map[string]context.CancelFunc
}

// NewRegistry builds an empty job registry. maxHistory of 0 means
// unbounded history.
func NewRegistry(maxHistory int) *Registry {
	return &Registry{
		masters:     make(map[string]*MasterJob),
		maxHistory:  maxHistory,
		cancelFuncs: make(map[string]context.CancelFunc),
	}
}

// CreateMaster partitions urls into batches of batchSize and stores a new
// master job in the pending state.
func (r *Registry) CreateMaster(urls []string, batchSize int) *MasterJob {
	if batchSize <= 0 {
		batchSize = 50
	}

	masterID := uuid.NewString()

	var batches []*BatchJob
	for start := 0; start < len(urls); start += batchSize {
		end := start + batchSize
		if end > len(urls) {
			end = len(urls)
		}
		batches = append(batches, &BatchJob{
			ID:       uuid.NewString(),
			MasterID: masterID,
			URLs:     urls[start:end],
			Status:   StatusPending,
		})
	}

	master := &MasterJob{
		ID:           masterID,
		CreatedAt:    time.Now().UTC(),
		TotalURLs:    len(urls),
		BatchSize:    batchSize,
		TotalBatches: len(batches),
		Batches:      batches,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.masters[masterID] = master
	r.order = append(r.order, masterID)
	if r.maxHistory > 0 && len(r.order) > r.maxHistory {
		evict := r.order[0]
		r.order = r.order[1:]
		delete(r.masters, evict)
		delete(r.cancelFuncs, evict)
	}
	return master
}

// Get returns the master job for id, or nil if unknown. The returned
// pointer's BatchJob fields are mutated concurrently by the manager;
// callers must not read Status/Progress/IsTerminal from it directly —
// use Snapshot/SnapshotList/IsMasterTerminal instead.
func (r *Registry) Get(id string) *MasterJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.masters[id]
}

// List returns up to limit master jobs, most-recently-created first. See
// Get's caveat: do not call Status/Progress/IsTerminal on these directly.
func (r *Registry) List(limit int) []*MasterJob {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*MasterJob, 0, len(r.masters))
	for _, m := range r.masters {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Snapshot returns a lock-safe, point-in-time view of one master job with
// its Status/Progress computed under r.mu, or ok=false if masterID is
// unknown.
func (r *Registry) Snapshot(masterID string, includeBatches bool) (view MasterView, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, found := r.masters[masterID]
	if !found {
		return MasterView{}, false
	}
	return snapshotMaster(m, includeBatches), true
}

// SnapshotList returns lock-safe views of up to limit master jobs,
// most-recently-created first, Status/Progress included but batch detail
// omitted (matching List's existing summary shape).
func (r *Registry) SnapshotList(limit int) []MasterView {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*MasterJob, 0, len(r.masters))
	for _, m := range r.masters {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	views := make([]MasterView, 0, len(out))
	for _, m := range out {
		views = append(views, snapshotMaster(m, false))
	}
	return views
}

// IsMasterTerminal reports, under r.mu, whether masterID's derived
// status is completed or failed.
func (r *Registry) IsMasterTerminal(masterID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.masters[masterID]
	return ok && m.IsTerminal()
}

// MarkStarted flips a batch to running and stamps its start time.
func (r *Registry) MarkStarted(masterID, batchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.findBatch(masterID, batchID)
	if b == nil {
		return
	}
	now := time.Now().UTC()
	b.Status = StatusRunning
	b.StartedAt = &now
}

// UpdateBatch records the outcome of one completed batch run.
func (r *Registry) UpdateBatch(masterID, batchID string, succeeded, failed, rowsWritten int, perFileErrs []string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.findBatch(masterID, batchID)
	if b == nil {
		return
	}
	now := time.Now().UTC()
	b.Succeeded = succeeded
	b.Failed = failed
	b.RowsWritten = rowsWritten
	b.PerFileErrs = perFileErrs
	b.CompletedAt = &now
	if err != nil {
		b.Status = StatusFailed
		b.Error = err.Error()
		return
	}
	b.Status = StatusCompleted
}

// MarkMasterStarted/MarkMasterCompleted stamp the master job's own
// timestamps; they do not affect the derived status.
func (r *Registry) MarkMasterStarted(masterID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.masters[masterID]; ok && m.StartedAt == nil {
		now := time.Now().UTC()
		m.StartedAt = &now
	}
}

func (r *Registry) MarkMasterCompleted(masterID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.masters[masterID]; ok && m.CompletedAt == nil {
		now := time.Now().UTC()
		m.CompletedAt = &now
	}
}

// SetCancelFunc registers the cancel function for masterID's run context,
// so a later Cancel call can abort in-flight C5/C4 work rather than only
// suppressing not-yet-dispatched batches. If masterID was already marked
// cancelled before the scheduling goroutine reached this call (Cancel
// raced Submit's startup), cancel fires immediately.
func (r *Registry) SetCancelFunc(masterID string, cancel context.CancelFunc) {
	r.mu.Lock()
	alreadyCancelled := false
	if m, ok := r.masters[masterID]; ok {
		alreadyCancelled = m.Cancelled
	}
	r.cancelFuncs[masterID] = cancel
	r.mu.Unlock()

	if alreadyCancelled {
		cancel()
	}
}

// Cancel marks a master job cancelled if it is not already terminal, and
// fires its run context's cancel function so in-flight batch/file work
// observes ctx cancellation at its next suspension point instead of
// running to completion.
func (r *Registry) Cancel(masterID string) (*MasterJob, error) {
	r.mu.Lock()
	m, ok := r.masters[masterID]
	if !ok {
		r.mu.Unlock()
		return nil, &NotFoundError{MasterID: masterID}
	}
	if m.IsTerminal() {
		r.mu.Unlock()
		return nil, &ConflictError{MasterID: masterID, Status: string(m.Status())}
	}
	m.Cancelled = true
	cancel := r.cancelFuncs[masterID]
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return m, nil
}

// IsCancelled reports whether masterID has been cancelled.
func (r *Registry) IsCancelled(masterID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.masters[masterID]
	return ok && m.Cancelled
}

func (r *Registry) findBatch(masterID, batchID string) *BatchJob {
	m, ok := r.masters[masterID]
	if !ok {
		return nil
	}
	for _, b := range m.Batches {
		if b.ID == batchID {
			return b
		}
	}
	return nil
}
