package jobs

import (
	"time"

	"github.com/nwestra/loopmix/internal/plan"
)

// Status represents the current state of a build job
type Status string

const (
	StatusPreparing Status = "preparing"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job represents one composite-video build
type Job struct {
	ID          int64       `json:"id"`
	RunID       string      `json:"run_id"`
	RunDir      string      `json:"run_dir"`
	Status      Status      `json:"status"`
	Progress    int         `json:"progress"` // 0-100
	CurrentStep string      `json:"current_step,omitempty"`
	Config      plan.Config `json:"config"`
	OutputFile  string      `json:"output_file,omitempty"` // Set after completion
	OutputSize  int64       `json:"output_size,omitempty"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   time.Time   `json:"started_at,omitempty"`
	FinishedAt  time.Time   `json:"finished_at,omitempty"`
}

// IsTerminal returns true if the job is in a terminal state
func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed || j.Status == StatusCancelled
}

// Copy returns a shallow copy safe to hand to API consumers.
func (j *Job) Copy() *Job {
	c := *j
	return &c
}

// JobEvent represents an event for SSE streaming
type JobEvent struct {
	Type string `json:"type"` // "update", "completed", "failed", "cancelled"
	Job  *Job   `json:"job"`
}

// Upload records a published copy of a finished build.
type Upload struct {
	ID         int64     `json:"id"`
	JobID      int64     `json:"job_id"`
	VideoID    string    `json:"video_id"`
	Title      string    `json:"title"`
	URL        string    `json:"url,omitempty"`
	Privacy    string    `json:"privacy,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}
