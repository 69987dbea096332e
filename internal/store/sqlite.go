package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nwestra/loopmix/internal/assets"
	"github.com/nwestra/loopmix/internal/jobs"
	"github.com/nwestra/loopmix/internal/plan"
	_ "modernc.org/sqlite"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL UNIQUE,
	run_dir TEXT NOT NULL,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	current_step TEXT DEFAULT '',
	config TEXT NOT NULL,
	output_file TEXT,
	output_size INTEGER,
	error TEXT,
	created_at TEXT NOT NULL,
	started_at TEXT,
	finished_at TEXT
);

CREATE TABLE IF NOT EXISTS job_files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id INTEGER NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	file_type TEXT NOT NULL,
	filename TEXT NOT NULL,
	path TEXT NOT NULL,
	uploaded_at TEXT NOT NULL,
	UNIQUE(job_id, file_type, filename)
);

CREATE TABLE IF NOT EXISTS uploads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id INTEGER NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	video_id TEXT NOT NULL,
	title TEXT NOT NULL,
	url TEXT,
	privacy TEXT,
	uploaded_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_job_files_job ON job_files(job_id, file_type);
`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex // Protects concurrent access
	path string
}

// NewSQLiteStore creates a new SQLite-backed store.
// The database file is created if it doesn't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// Create schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	// Check/set schema version
	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("insert schema version: %w", err)
		}
	} else if err != nil {
		db.Close()
		return nil, fmt.Errorf("check schema version: %w", err)
	} else if version > schemaVersion {
		db.Close()
		return nil, fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// CreateJob inserts a new job and returns its assigned ID.
func (s *SQLiteStore) CreateJob(job *jobs.Job) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return 0, fmt.Errorf("marshal job config: %w", err)
	}

	res, err := s.db.Exec(`
		INSERT INTO jobs (
			run_id, run_dir, status, progress, current_step, config,
			output_file, output_size, error, created_at, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.RunID, job.RunDir, string(job.Status), job.Progress, job.CurrentStep, string(cfg),
		nullString(job.OutputFile), nullInt64(job.OutputSize), nullString(job.Error),
		formatTime(job.CreatedAt), formatTimePtr(job.StartedAt), formatTimePtr(job.FinishedAt),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SaveJob updates an existing job by ID.
func (s *SQLiteStore) SaveJob(job *jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal job config: %w", err)
	}

	_, err = s.db.Exec(`
		UPDATE jobs SET
			run_id = ?, run_dir = ?, status = ?, progress = ?, current_step = ?, config = ?,
			output_file = ?, output_size = ?, error = ?,
			created_at = ?, started_at = ?, finished_at = ?
		WHERE id = ?
	`,
		job.RunID, job.RunDir, string(job.Status), job.Progress, job.CurrentStep, string(cfg),
		nullString(job.OutputFile), nullInt64(job.OutputSize), nullString(job.Error),
		formatTime(job.CreatedAt), formatTimePtr(job.StartedAt), formatTimePtr(job.FinishedAt),
		job.ID,
	)
	return err
}

const jobColumns = `id, run_id, run_dir, status, progress, current_step, config,
	output_file, output_size, error, created_at, started_at, finished_at`

// GetJob retrieves a job by ID. Returns nil if not found.
func (s *SQLiteStore) GetJob(id int64) (*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// ListJobs returns jobs newest-first. A limit <= 0 returns all jobs.
func (s *SQLiteStore) ListJobs(limit int) ([]*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJobsByStatus returns all jobs with the given status, oldest first.
func (s *SQLiteStore) GetJobsByStatus(status jobs.Status) ([]*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC, id ASC
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectJobs(rows)
}

// NextQueued returns the oldest queued job, or nil if none exist.
func (s *SQLiteStore) NextQueued() (*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT ` + jobColumns + ` FROM jobs
		WHERE status = 'queued'
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// ClaimQueued atomically moves a queued job to running.
func (s *SQLiteStore) ClaimQueued(id int64, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE jobs SET status = 'running', started_at = ?
		WHERE id = ? AND status = 'queued'
	`, formatTime(startedAt), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// FailInterrupted marks every non-terminal job as failed.
func (s *SQLiteStore) FailInterrupted(reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE jobs
		SET status = 'failed', error = ?, finished_at = ?
		WHERE status IN ('preparing', 'queued', 'running')
	`, reason, formatTime(time.Now()))
	if err != nil {
		return 0, err
	}

	count, err := res.RowsAffected()
	return int(count), err
}

// DeleteJob removes a job by ID.
func (s *SQLiteStore) DeleteJob(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Cascade removes job_files and uploads
	_, err := s.db.Exec("DELETE FROM jobs WHERE id = ?", id)
	return err
}

// AddFile records an uploaded asset, replacing any earlier record for the
// same filename in the same class.
func (s *SQLiteStore) AddFile(rec *assets.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO job_files (job_id, file_type, filename, path, uploaded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(job_id, file_type, filename)
		DO UPDATE SET path = excluded.path, uploaded_at = excluded.uploaded_at
	`, rec.JobID, string(rec.Class), rec.Filename, rec.Path, formatTime(rec.UploadedAt))
	if err != nil {
		return err
	}

	// LastInsertId is stale on the conflict path, so read the row back.
	return s.db.QueryRow(`
		SELECT id FROM job_files WHERE job_id = ? AND file_type = ? AND filename = ?
	`, rec.JobID, string(rec.Class), rec.Filename).Scan(&rec.ID)
}

// DeleteFile removes one asset record and returns its stored path.
func (s *SQLiteStore) DeleteFile(jobID int64, class assets.Class, filename string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var path string
	err := s.db.QueryRow(`
		SELECT path FROM job_files WHERE job_id = ? AND file_type = ? AND filename = ?
	`, jobID, string(class), filename).Scan(&path)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	_, err = s.db.Exec(`
		DELETE FROM job_files WHERE job_id = ? AND file_type = ? AND filename = ?
	`, jobID, string(class), filename)
	return path, err
}

// GetFiles returns a job's asset records for one class, oldest first.
func (s *SQLiteStore) GetFiles(jobID int64, class assets.Class) ([]assets.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, job_id, file_type, filename, path, uploaded_at
		FROM job_files
		WHERE job_id = ? AND file_type = ?
		ORDER BY id ASC
	`, jobID, string(class))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []assets.Record
	for rows.Next() {
		var rec assets.Record
		var cls, uploadedAt string
		if err := rows.Scan(&rec.ID, &rec.JobID, &cls, &rec.Filename, &rec.Path, &uploadedAt); err != nil {
			return nil, err
		}
		rec.Class = assets.Class(cls)
		rec.UploadedAt = parseTime(uploadedAt)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// FileCounts returns per-class asset counts for a job.
func (s *SQLiteStore) FileCounts(jobID int64) (map[assets.Class]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT file_type, COUNT(*) FROM job_files WHERE job_id = ? GROUP BY file_type
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[assets.Class]int, len(assets.Classes))
	for _, c := range assets.Classes {
		counts[c] = 0
	}
	for rows.Next() {
		var class string
		var n int
		if err := rows.Scan(&class, &n); err != nil {
			return nil, err
		}
		counts[assets.Class(class)] = n
	}
	return counts, rows.Err()
}

// AddUpload records a published copy of a finished build.
func (s *SQLiteStore) AddUpload(up *jobs.Upload) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO uploads (job_id, video_id, title, url, privacy, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, up.JobID, up.VideoID, up.Title, nullString(up.URL), nullString(up.Privacy), formatTime(up.UploadedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListUploads returns a job's upload records, newest first.
func (s *SQLiteStore) ListUploads(jobID int64) ([]jobs.Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, job_id, video_id, title, url, privacy, uploaded_at
		FROM uploads WHERE job_id = ? ORDER BY id DESC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ups []jobs.Upload
	for rows.Next() {
		var up jobs.Upload
		var url, privacy sql.NullString
		var uploadedAt string
		if err := rows.Scan(&up.ID, &up.JobID, &up.VideoID, &up.Title, &url, &privacy, &uploadedAt); err != nil {
			return nil, err
		}
		up.URL = url.String
		up.Privacy = privacy.String
		up.UploadedAt = parseTime(uploadedAt)
		ups = append(ups, up)
	}
	return ups, rows.Err()
}

// CleanupOlderThan deletes terminal jobs created before the cutoff and
// returns them so the caller can remove their run directories.
func (s *SQLiteStore) CleanupOlderThan(cutoff time.Time) ([]*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled') AND created_at < ?
	`, formatTime(cutoff))
	if err != nil {
		return nil, err
	}
	old, err := collectJobs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	for _, job := range old {
		if _, err := s.db.Exec("DELETE FROM jobs WHERE id = ?", job.ID); err != nil {
			return nil, err
		}
	}
	return old, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Helper functions for scanning rows

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	var job jobs.Job
	var status, cfg string
	var currentStep, outputFile, errStr sql.NullString
	var outputSize sql.NullInt64
	var createdAt string
	var startedAt, finishedAt sql.NullString

	err := row.Scan(
		&job.ID, &job.RunID, &job.RunDir, &status, &job.Progress, &currentStep, &cfg,
		&outputFile, &outputSize, &errStr, &createdAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = jobs.Status(status)
	job.CurrentStep = currentStep.String
	job.OutputFile = outputFile.String
	job.OutputSize = outputSize.Int64
	job.Error = errStr.String
	job.CreatedAt = parseTime(createdAt)
	job.StartedAt = parseTime(startedAt.String)
	job.FinishedAt = parseTime(finishedAt.String)

	job.Config = plan.DefaultConfig()
	if err := json.Unmarshal([]byte(cfg), &job.Config); err != nil {
		return nil, fmt.Errorf("unmarshal job %d config: %w", job.ID, err)
	}

	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]*jobs.Job, error) {
	var jobList []*jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobList = append(jobList, job)
	}
	return jobList, rows.Err()
}

// Helper functions for SQL values

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(i int64) interface{} {
	if i == 0 {
		return nil
	}
	return i
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
