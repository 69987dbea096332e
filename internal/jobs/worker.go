package jobs

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nwestra/loopmix/internal/assets"
	"github.com/nwestra/loopmix/internal/config"
	"github.com/nwestra/loopmix/internal/ffmpeg"
	"github.com/nwestra/loopmix/internal/logger"
	"github.com/nwestra/loopmix/internal/plan"
	"github.com/nwestra/loopmix/internal/runs"
	"github.com/nwestra/loopmix/internal/util"
)

// outputFilename is the deliverable's name inside the run's output area.
const outputFilename = "final_video.mp4"

// pollInterval is how often an idle worker checks for queued jobs.
const pollInterval = 500 * time.Millisecond

// Worker renders build jobs pulled from the queue
type Worker struct {
	id       int
	pool     *WorkerPool
	manager  *Manager
	renderer *ffmpeg.Renderer
	prober   *ffmpeg.Prober
	rng      *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Currently running job (for cancellation)
	currentMu    sync.Mutex
	currentJobID int64
	jobCancel    context.CancelFunc
	jobDone      chan struct{} // Closed when current job finishes
}

// WorkerPool manages multiple workers
type WorkerPool struct {
	mu      sync.Mutex
	workers []*Worker
	manager *Manager
	cfg     *config.Config

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorkerPool creates a new worker pool. Workers are created but not
// started until Start is called.
func NewWorkerPool(manager *Manager, cfg *config.Config) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	pool := &WorkerPool{
		workers: make([]*Worker, 0, cfg.Workers),
		manager: manager,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < config.ClampWorkers(cfg.Workers); i++ {
		pool.workers = append(pool.workers, &Worker{
			id:       i,
			pool:     pool,
			manager:  manager,
			renderer: ffmpeg.NewRenderer(cfg.FFmpegPath),
			prober:   ffmpeg.NewProber(cfg.FFprobePath),
			rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(i))),
		})
	}

	return pool
}

// Start starts all workers
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range p.workers {
		w.start(p.ctx)
	}
	logger.Info("Worker pool started", "workers", len(p.workers))
}

// Stop stops all workers gracefully, cancelling any in-flight renders.
func (p *WorkerPool) Stop() {
	p.cancel()

	p.mu.Lock()
	workers := make([]*Worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}
}

// CancelJob cancels a specific job if it's currently running.
// Blocks until the render has unwound and the job reached a terminal state.
func (p *WorkerPool) CancelJob(jobID int64) bool {
	p.mu.Lock()
	workers := make([]*Worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.Unlock()

	for _, w := range workers {
		if done := w.cancelCurrentJob(jobID); done != nil {
			<-done
			return true
		}
	}
	return false
}

// WorkerCount returns the current number of workers
func (p *WorkerPool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

func (w *Worker) start(parentCtx context.Context) {
	w.ctx, w.cancel = context.WithCancel(parentCtx)
	w.wg.Add(1)

	go w.run()
}

func (w *Worker) stop() {
	w.cancel()
	w.wg.Wait()
}

// run is the main worker loop
func (w *Worker) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			job := w.manager.nextQueued()
			if job == nil {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(pollInterval):
				}
				continue
			}

			w.processJob(job)
		}
	}
}

// cancelCurrentJob cancels the worker's current job if it matches jobID.
// Returns a channel closed when the job finishes, or nil on no match.
func (w *Worker) cancelCurrentJob(jobID int64) chan struct{} {
	w.currentMu.Lock()
	defer w.currentMu.Unlock()

	if w.currentJobID != jobID || w.jobCancel == nil {
		return nil
	}
	w.jobCancel()
	return w.jobDone
}

// processJob plans and renders one job. Planning runs before the job is
// claimed: a job whose inputs cannot produce a plan goes queued straight
// to failed and is never observed running.
func (w *Worker) processJob(job *Job) {
	dir := runs.Open(job.RunID, job.RunDir)

	var p *plan.Plan
	inv, err := w.buildInventory(w.ctx, job)
	if err == nil {
		p, err = plan.Build(job.Config, *inv, w.rng)
	}
	if err != nil {
		logger.Warn("Job planning failed", "job_id", job.ID, "error", err)
		w.manager.failQueued(job.ID, err.Error())
		return
	}

	if !w.manager.claim(job.ID) {
		// Claimed by another worker, or no longer queued.
		return
	}

	jobCtx, jobCancel := context.WithCancel(w.ctx)
	done := make(chan struct{})

	w.currentMu.Lock()
	w.currentJobID = job.ID
	w.jobCancel = jobCancel
	w.jobDone = done
	w.currentMu.Unlock()

	defer func() {
		w.currentMu.Lock()
		w.currentJobID = 0
		w.jobCancel = nil
		w.jobDone = nil
		w.currentMu.Unlock()
		jobCancel()
		close(done)
	}()

	if err := dir.ClearScratch(); err != nil {
		w.manager.fail(job.ID, fmt.Sprintf("prepare scratch area: %v", err))
		return
	}

	logger.Info("Render started", "job_id", job.ID, "worker", w.id,
		"duration", p.Duration, "clips", len(p.Video.Segments))

	outputPath := filepath.Join(dir.OutputDir(), outputFilename)
	res, err := w.renderer.Render(jobCtx, p, dir.ScratchDir(), outputPath, func(pr ffmpeg.Progress) {
		w.manager.updateProgress(job.ID, pr.Percent, pr.Step)
	})

	if cerr := dir.ClearScratch(); cerr != nil {
		logger.Warn("Failed to clear scratch area", "job_id", job.ID, "error", cerr)
	}

	if err != nil {
		var rerr *ffmpeg.RenderError
		if errors.As(err, &rerr) && rerr.Cancelled() {
			logger.Info("Render cancelled", "job_id", job.ID, "worker", w.id)
			w.manager.markCancelled(job.ID)
			return
		}
		logger.Error("Render failed", "job_id", job.ID, "worker", w.id, "error", err)
		w.manager.fail(job.ID, err.Error())
		return
	}

	logger.Info("Render completed", "job_id", job.ID, "worker", w.id,
		"output", res.OutputPath,
		"size", util.FormatBytes(res.OutputSize),
		"elapsed", util.FormatDuration(res.Elapsed))
	w.manager.complete(job.ID, res.OutputPath, res.OutputSize)
}

// buildInventory reconciles the job's recorded assets with the files on
// disk and probes media durations. Records whose files have gone missing
// are skipped with a warning rather than failing the whole job.
func (w *Worker) buildInventory(ctx context.Context, job *Job) (*plan.Inventory, error) {
	inv := &plan.Inventory{}

	for _, class := range []assets.Class{assets.ClassVideo, assets.ClassMusic, assets.ClassSound} {
		recs, err := w.manager.ListAssets(job.ID, class)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			if _, err := os.Stat(rec.Path); err != nil {
				logger.Warn("Asset file missing, skipping", "job_id", job.ID,
					"class", class, "filename", rec.Filename)
				continue
			}
			d, err := w.prober.Duration(ctx, rec.Path)
			if err != nil {
				return nil, fmt.Errorf("probe %s/%s: %w", class, rec.Filename, err)
			}
			mf := plan.MediaFile{Name: rec.Filename, Path: rec.Path, Duration: d}
			switch class {
			case assets.ClassVideo:
				inv.Clips = append(inv.Clips, mf)
			case assets.ClassMusic:
				inv.Music = append(inv.Music, mf)
			case assets.ClassSound:
				inv.Sounds = append(inv.Sounds, mf)
			}
		}
	}

	quotes, err := w.readQuotes(job)
	if err != nil {
		return nil, err
	}
	inv.Quotes = quotes

	return inv, nil
}

// readQuotes collects quote lines from every uploaded quote file.
// One quote per line; blank lines are skipped.
func (w *Worker) readQuotes(job *Job) ([]string, error) {
	recs, err := w.manager.ListAssets(job.ID, assets.ClassQuote)
	if err != nil {
		return nil, err
	}

	var quotes []string
	for _, rec := range recs {
		data, err := os.ReadFile(rec.Path)
		if err != nil {
			if os.IsNotExist(err) {
				logger.Warn("Quote file missing, skipping", "job_id", job.ID, "filename", rec.Filename)
				continue
			}
			return nil, fmt.Errorf("read quotes %s: %w", rec.Filename, err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			if q := strings.TrimSpace(line); q != "" {
				quotes = append(quotes, q)
			}
		}
	}
	return quotes, nil
}
