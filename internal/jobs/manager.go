package jobs

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/nwestra/loopmix/internal/assets"
	"github.com/nwestra/loopmix/internal/logger"
	"github.com/nwestra/loopmix/internal/plan"
	"github.com/nwestra/loopmix/internal/runs"

	"github.com/google/uuid"
)

// Store defines the persistence interface the manager needs.
// This interface is implemented by internal/store.SQLiteStore.
type Store interface {
	CreateJob(job *Job) (int64, error)
	SaveJob(job *Job) error
	GetJob(id int64) (*Job, error)
	ListJobs(limit int) ([]*Job, error)
	ClaimQueued(id int64, startedAt time.Time) (bool, error)
	DeleteJob(id int64) error
	AddFile(rec *assets.Record) error
	DeleteFile(jobID int64, class assets.Class, filename string) (string, error)
	GetFiles(jobID int64, class assets.Class) ([]assets.Record, error)
	FileCounts(jobID int64) (map[assets.Class]int, error)
	AddUpload(up *Upload) (int64, error)
	ListUploads(jobID int64) ([]Upload, error)
	CleanupOlderThan(cutoff time.Time) ([]*Job, error)
}

// Canceller aborts the in-flight render of a running job.
// Implemented by the WorkerPool.
type Canceller interface {
	CancelJob(id int64) bool
}

// Manager owns the job lifecycle. All status transitions go through it so
// that every change is persisted before subscribers hear about it.
type Manager struct {
	mu       sync.RWMutex
	jobs     map[int64]*Job
	store    Store
	runsRoot string

	canceller Canceller

	// Subscribers for job events
	subsMu      sync.RWMutex
	subscribers map[chan JobEvent]struct{}
}

// NewManager creates a manager backed by a persistent store. Existing jobs
// are loaded into the in-memory cache; the store should already have had
// interrupted jobs failed.
func NewManager(st Store, runsRoot string) (*Manager, error) {
	m := &Manager{
		jobs:        make(map[int64]*Job),
		store:       st,
		runsRoot:    runsRoot,
		subscribers: make(map[chan JobEvent]struct{}),
	}

	existing, err := st.ListJobs(0)
	if err != nil {
		return nil, fmt.Errorf("load jobs from store: %w", err)
	}
	for _, job := range existing {
		m.jobs[job.ID] = job
	}

	return m, nil
}

// SetCanceller wires in the worker pool. Must be called before Cancel is
// used; kept separate because the pool is constructed after the manager.
func (m *Manager) SetCanceller(c Canceller) {
	m.mu.Lock()
	m.canceller = c
	m.mu.Unlock()
}

// persist saves a job to the store. Called with lock held.
func (m *Manager) persist(job *Job) {
	if err := m.store.SaveJob(job); err != nil {
		logger.Warn("Failed to persist job", "job_id", job.ID, "error", err)
	}
}

// Prepare creates a new job in the preparing state with its own run
// directory. The config is stored as given; it is validated at Start.
func (m *Manager) Prepare(cfg plan.Config) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := &Job{
		RunID:     "pending-" + uuid.NewString(),
		Status:    StatusPreparing,
		Config:    cfg,
		CreatedAt: time.Now(),
	}

	id, err := m.store.CreateJob(job)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	job.ID = id

	dir, err := runs.Allocate(m.runsRoot, id)
	if err != nil {
		if derr := m.store.DeleteJob(id); derr != nil {
			logger.Warn("Failed to remove job after run allocation failure", "job_id", id, "error", derr)
		}
		return nil, fmt.Errorf("allocate run directory: %w", err)
	}
	job.RunID = dir.ID
	job.RunDir = dir.Root
	m.persist(job)

	m.jobs[id] = job
	m.broadcast(JobEvent{Type: "update", Job: job.Copy()})

	logger.Info("Job prepared", "job_id", id, "run_id", job.RunID)
	return job.Copy(), nil
}

// AddAsset stores an uploaded file in the job's run directory and records
// it. Only allowed while the job is preparing. Re-uploading a filename
// replaces the earlier file.
func (m *Manager) AddAsset(id int64, class assets.Class, filename string, src io.Reader) (*assets.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, jobNotFoundError(id)
	}
	if job.Status != StatusPreparing {
		return nil, wrongStateError(id, job.Status, "add assets to")
	}

	name := assets.SanitizeFilename(filename)
	if !assets.Allowed(class, name) {
		return nil, fmt.Errorf("file type not allowed for %s: %s", class, filename)
	}

	dir := runs.Open(job.RunID, job.RunDir)
	path := dir.AssetPath(class, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create asset file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write asset file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write asset file: %w", err)
	}

	rec := &assets.Record{
		JobID:      id,
		Class:      class,
		Filename:   name,
		Path:       path,
		UploadedAt: time.Now(),
	}
	if err := m.store.AddFile(rec); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("record asset: %w", err)
	}

	return rec, nil
}

// RemoveAsset deletes one uploaded file and its record. Only allowed while
// the job is preparing.
func (m *Manager) RemoveAsset(id int64, class assets.Class, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}
	if job.Status != StatusPreparing {
		return wrongStateError(id, job.Status, "remove assets from")
	}

	path, err := m.store.DeleteFile(id, class, assets.SanitizeFilename(filename))
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("%w: %s/%s", ErrFileNotFound, class, filename)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove asset file", "job_id", id, "path", path, "error", err)
	}
	return nil
}

// ListAssets returns a job's recorded assets for one class.
func (m *Manager) ListAssets(id int64, class assets.Class) ([]assets.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.jobs[id]; !ok {
		return nil, jobNotFoundError(id)
	}
	return m.store.GetFiles(id, class)
}

// AssetCounts returns per-class asset counts for a job.
func (m *Manager) AssetCounts(id int64) (map[assets.Class]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.jobs[id]; !ok {
		return nil, jobNotFoundError(id)
	}
	return m.store.FileCounts(id)
}

// Start freezes the job's config and moves it to the queue. The config is
// validated first; on validation failure the job stays preparing.
func (m *Manager) Start(id int64, cfg *plan.Config) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, jobNotFoundError(id)
	}
	if job.Status != StatusPreparing {
		return nil, wrongStateError(id, job.Status, "start")
	}

	if cfg != nil {
		job.Config = *cfg
	}
	if err := job.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid build config: %w", err)
	}

	job.Status = StatusQueued
	m.persist(job)
	m.broadcast(JobEvent{Type: "update", Job: job.Copy()})

	logger.Info("Job queued", "job_id", id)
	return job.Copy(), nil
}

// Cancel aborts a running job's render. The terminal transition happens on
// the worker once the render unwinds.
func (m *Manager) Cancel(id int64) error {
	m.mu.RLock()
	job, ok := m.jobs[id]
	var status Status
	if ok {
		status = job.Status
	}
	canceller := m.canceller
	m.mu.RUnlock()

	if !ok {
		return jobNotFoundError(id)
	}
	if status != StatusRunning {
		return wrongStateError(id, status, "cancel")
	}
	if canceller == nil {
		return fmt.Errorf("cancel job %d: no worker pool attached", id)
	}
	// A false return means the worker already finished; whatever terminal
	// status it wrote stands.
	canceller.CancelJob(id)
	return nil
}

// Get returns a copy of a job by ID.
func (m *Manager) Get(id int64) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, jobNotFoundError(id)
	}
	return job.Copy(), nil
}

// List returns jobs newest-first. A limit <= 0 returns all jobs.
func (m *Manager) List(limit int) []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		list = append(list, job.Copy())
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}

// Delete removes a terminal job, its records, and its run directory.
func (m *Manager) Delete(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}
	if !job.IsTerminal() {
		return wrongStateError(id, job.Status, "delete")
	}

	if err := m.store.DeleteJob(id); err != nil {
		return err
	}
	if err := runs.Open(job.RunID, job.RunDir).Remove(); err != nil {
		logger.Warn("Failed to remove run directory", "job_id", id, "run_id", job.RunID, "error", err)
	}
	delete(m.jobs, id)

	m.broadcast(JobEvent{Type: "deleted", Job: job.Copy()})
	return nil
}

// AddUpload records a published copy of a completed build.
func (m *Manager) AddUpload(id int64, videoID, title, url, privacy string) (*Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, jobNotFoundError(id)
	}
	if job.Status != StatusCompleted {
		return nil, wrongStateError(id, job.Status, "record upload for")
	}

	up := &Upload{
		JobID:      id,
		VideoID:    videoID,
		Title:      title,
		URL:        url,
		Privacy:    privacy,
		UploadedAt: time.Now(),
	}
	upID, err := m.store.AddUpload(up)
	if err != nil {
		return nil, err
	}
	up.ID = upID
	return up, nil
}

// ListUploads returns a job's upload records, newest first.
func (m *Manager) ListUploads(id int64) ([]Upload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.jobs[id]; !ok {
		return nil, jobNotFoundError(id)
	}
	return m.store.ListUploads(id)
}

// Cleanup deletes terminal jobs older than the retention window along with
// their run directories. Returns the number of jobs removed.
func (m *Manager) Cleanup(retention time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, err := m.store.CleanupOlderThan(time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}

	for _, job := range old {
		if err := runs.Open(job.RunID, job.RunDir).Remove(); err != nil {
			logger.Warn("Failed to remove run directory", "job_id", job.ID, "run_id", job.RunID, "error", err)
		}
		delete(m.jobs, job.ID)
	}
	if len(old) > 0 {
		logger.Info("Cleaned up old jobs", "count", len(old))
	}
	return len(old), nil
}

// nextQueued returns the oldest queued job, or nil.
func (m *Manager) nextQueued() *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var next *Job
	for _, job := range m.jobs {
		if job.Status != StatusQueued {
			continue
		}
		if next == nil || job.CreatedAt.Before(next.CreatedAt) ||
			(job.CreatedAt.Equal(next.CreatedAt) && job.ID < next.ID) {
			next = job
		}
	}
	if next == nil {
		return nil
	}
	return next.Copy()
}

// claim atomically moves a queued job to running. Returns false when the
// job was no longer queued.
func (m *Manager) claim(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return false
	}

	now := time.Now()
	claimed, err := m.store.ClaimQueued(id, now)
	if err != nil {
		logger.Warn("Failed to claim job", "job_id", id, "error", err)
		return false
	}
	if !claimed {
		return false
	}

	job.Status = StatusRunning
	job.StartedAt = now
	m.broadcast(JobEvent{Type: "update", Job: job.Copy()})
	return true
}

// updateProgress records render progress. Persisted before broadcast so a
// subscriber never sees state the store doesn't have.
func (m *Manager) updateProgress(id int64, percent int, step string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status != StatusRunning {
		return
	}
	if percent < job.Progress {
		percent = job.Progress
	}
	job.Progress = percent
	job.CurrentStep = step

	m.persist(job)
	m.broadcast(JobEvent{Type: "progress", Job: job.Copy()})
}

// failQueued moves a queued job straight to failed. Used when planning
// fails before the job is ever claimed.
func (m *Manager) failQueued(id int64, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status != StatusQueued {
		return
	}

	job.Status = StatusFailed
	job.Error = errMsg
	job.FinishedAt = time.Now()

	m.persist(job)
	m.broadcast(JobEvent{Type: "failed", Job: job.Copy()})
}

// complete marks a running job as completed.
func (m *Manager) complete(id int64, outputPath string, outputSize int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status != StatusRunning {
		return
	}

	job.Status = StatusCompleted
	job.Progress = 100
	job.CurrentStep = ""
	job.OutputFile = outputPath
	job.OutputSize = outputSize
	job.FinishedAt = time.Now()

	m.persist(job)
	m.broadcast(JobEvent{Type: "completed", Job: job.Copy()})
}

// fail marks a running job as failed.
func (m *Manager) fail(id int64, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status != StatusRunning {
		return
	}

	job.Status = StatusFailed
	job.CurrentStep = ""
	job.Error = errMsg
	job.FinishedAt = time.Now()

	m.persist(job)
	m.broadcast(JobEvent{Type: "failed", Job: job.Copy()})
}

// markCancelled finishes the cancellation of a running job after its
// render has unwound.
func (m *Manager) markCancelled(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status != StatusRunning {
		return
	}

	job.Status = StatusCancelled
	job.CurrentStep = ""
	job.FinishedAt = time.Now()

	m.persist(job)
	m.broadcast(JobEvent{Type: "cancelled", Job: job.Copy()})
}

// Subscribe creates a new event subscription channel
func (m *Manager) Subscribe() chan JobEvent {
	ch := make(chan JobEvent, 100)

	m.subsMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subsMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription
func (m *Manager) Unsubscribe(ch chan JobEvent) {
	m.subsMu.Lock()
	delete(m.subscribers, ch)
	m.subsMu.Unlock()

	close(ch)
}

// broadcast sends an event to all subscribers
func (m *Manager) broadcast(event JobEvent) {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- event:
		default:
			// Channel full, skip this subscriber
		}
	}
}
