package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/nwestra/loopmix/internal/config"
	"github.com/nwestra/loopmix/internal/jobs"
	"github.com/nwestra/loopmix/internal/plan"
	"github.com/nwestra/loopmix/internal/playlist"
	"github.com/nwestra/loopmix/internal/store"
)

func setupTestRouter(t *testing.T) (*http.ServeMux, *jobs.Manager) {
	t.Helper()

	tmpDir := t.TempDir()
	st, err := store.NewSQLiteStore(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	manager, err := jobs.NewManager(st, filepath.Join(tmpDir, "runs"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	handler := NewHandler(manager, playlist.NewImporter(), config.DefaultConfig())
	return NewRouter(handler), manager
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func prepareJob(t *testing.T, mux *http.ServeMux) jobs.Job {
	t.Helper()

	w := doJSON(t, mux, "POST", "/api/jobs/prepare", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("prepare: status %d: %s", w.Code, w.Body.String())
	}
	var job jobs.Job
	if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil {
		t.Fatalf("parse job: %v", err)
	}
	return job
}

func uploadAsset(t *testing.T, mux *http.ServeMux, jobID int64, class, filename, content string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write([]byte(content))
	mw.Close()

	req := httptest.NewRequest("POST", fmt.Sprintf("/api/jobs/%d/assets/%s", jobID, class), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestPrepareJobEndpoint(t *testing.T) {
	mux, _ := setupTestRouter(t)

	job := prepareJob(t, mux)
	if job.Status != jobs.StatusPreparing {
		t.Errorf("expected status preparing, got %s", job.Status)
	}
	if job.RunID == "" || job.RunDir == "" {
		t.Errorf("run not allocated: %+v", job)
	}
}

func TestPrepareJobWithOverrides(t *testing.T) {
	mux, _ := setupTestRouter(t)

	w := doJSON(t, mux, "POST", "/api/jobs/prepare", map[string]interface{}{
		"duration": 120,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var job jobs.Job
	json.Unmarshal(w.Body.Bytes(), &job)
	if job.Config.Duration != 120 {
		t.Errorf("duration override lost: %v", job.Config.Duration)
	}
}

func TestUploadAndListAssets(t *testing.T) {
	mux, _ := setupTestRouter(t)
	job := prepareJob(t, mux)

	w := uploadAsset(t, mux, job.ID, "videos", "clip one.mp4", "fake video")
	if w.Code != http.StatusOK {
		t.Fatalf("upload: status %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Added  []struct{ Filename string }
		Failed []string
		Counts map[string]int `json:"file_counts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(resp.Added) != 1 || resp.Added[0].Filename != "clip_one.mp4" {
		t.Errorf("added = %+v", resp.Added)
	}
	if resp.Counts["videos"] != 1 {
		t.Errorf("file_counts = %v", resp.Counts)
	}

	w = doJSON(t, mux, "GET", fmt.Sprintf("/api/jobs/%d/assets/videos", job.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status %d", w.Code)
	}
	var recs []struct{ Filename string }
	json.Unmarshal(w.Body.Bytes(), &recs)
	if len(recs) != 1 {
		t.Errorf("listed %d assets, want 1", len(recs))
	}
}

func TestUploadRejectsWrongClassFile(t *testing.T) {
	mux, _ := setupTestRouter(t)
	job := prepareJob(t, mux)

	w := uploadAsset(t, mux, job.ID, "videos", "song.mp3", "audio")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var resp struct {
		Added  []struct{ Filename string }
		Failed []string
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Added) != 0 || len(resp.Failed) != 1 {
		t.Errorf("added=%v failed=%v", resp.Added, resp.Failed)
	}
}

func TestUploadToUnknownClass(t *testing.T) {
	mux, _ := setupTestRouter(t)
	job := prepareJob(t, mux)

	w := uploadAsset(t, mux, job.ID, "textures", "x.mp4", "y")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", w.Code)
	}
}

func TestUploadToMissingJob(t *testing.T) {
	mux, _ := setupTestRouter(t)

	w := uploadAsset(t, mux, 999, "videos", "x.mp4", "y")
	if w.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", w.Code)
	}
}

func TestDeleteAsset(t *testing.T) {
	mux, _ := setupTestRouter(t)
	job := prepareJob(t, mux)
	uploadAsset(t, mux, job.ID, "sounds", "rain.mp3", "x")

	w := doJSON(t, mux, "DELETE", fmt.Sprintf("/api/jobs/%d/assets/sounds/rain.mp3", job.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: status %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, mux, "DELETE", fmt.Sprintf("/api/jobs/%d/assets/sounds/rain.mp3", job.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete: status %d, want 404", w.Code)
	}
}

func TestStartJobQueues(t *testing.T) {
	mux, _ := setupTestRouter(t)
	job := prepareJob(t, mux)

	w := doJSON(t, mux, "POST", fmt.Sprintf("/api/jobs/%d/start", job.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start: status %d: %s", w.Code, w.Body.String())
	}
	var started jobs.Job
	json.Unmarshal(w.Body.Bytes(), &started)
	if started.Status != jobs.StatusQueued {
		t.Errorf("status %s, want queued", started.Status)
	}

	// Starting again conflicts.
	w = doJSON(t, mux, "POST", fmt.Sprintf("/api/jobs/%d/start", job.ID), nil)
	if w.Code != http.StatusConflict {
		t.Errorf("second start: status %d, want 409", w.Code)
	}
}

func TestStartBodyMergesOverStoredConfig(t *testing.T) {
	mux, _ := setupTestRouter(t)

	w := doJSON(t, mux, "POST", "/api/jobs/prepare", map[string]interface{}{
		"duration": 90,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("prepare: status %d: %s", w.Code, w.Body.String())
	}
	var job jobs.Job
	json.Unmarshal(w.Body.Bytes(), &job)

	// A partial start body overrides only the fields it names; the
	// prepare-time duration survives.
	w = doJSON(t, mux, "POST", fmt.Sprintf("/api/jobs/%d/start", job.ID), map[string]interface{}{
		"fps": 24,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("start: status %d: %s", w.Code, w.Body.String())
	}
	var started jobs.Job
	json.Unmarshal(w.Body.Bytes(), &started)
	if started.Config.Duration != 90 {
		t.Errorf("Duration = %v, want 90", started.Config.Duration)
	}
	if started.Config.FPS != 24 {
		t.Errorf("FPS = %d, want 24", started.Config.FPS)
	}
}

func TestStartJobRejectsBadConfig(t *testing.T) {
	mux, _ := setupTestRouter(t)
	job := prepareJob(t, mux)

	w := doJSON(t, mux, "POST", fmt.Sprintf("/api/jobs/%d/start", job.ID), map[string]interface{}{
		"duration": -5,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400: %s", w.Code, w.Body.String())
	}

	// Validation failure leaves the job preparing; uploads still work.
	w = uploadAsset(t, mux, job.ID, "videos", "still.mp4", "x")
	if w.Code != http.StatusOK {
		t.Errorf("upload after failed start: status %d", w.Code)
	}
}

func TestCancelNonRunningConflicts(t *testing.T) {
	mux, _ := setupTestRouter(t)
	job := prepareJob(t, mux)

	w := doJSON(t, mux, "POST", fmt.Sprintf("/api/jobs/%d/cancel", job.ID), nil)
	if w.Code != http.StatusConflict {
		t.Errorf("status %d, want 409", w.Code)
	}
}

func TestGetJobIncludesFileCounts(t *testing.T) {
	mux, _ := setupTestRouter(t)
	job := prepareJob(t, mux)
	uploadAsset(t, mux, job.ID, "music", "track.mp3", "x")

	w := doJSON(t, mux, "GET", fmt.Sprintf("/api/jobs/%d", job.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var resp struct {
		Job    jobs.Job       `json:"job"`
		Counts map[string]int `json:"file_counts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Job.ID != job.ID {
		t.Errorf("job ID %d, want %d", resp.Job.ID, job.ID)
	}
	if resp.Counts["music"] != 1 || resp.Counts["videos"] != 0 {
		t.Errorf("file_counts = %v", resp.Counts)
	}
}

func TestGetMissingJob(t *testing.T) {
	mux, _ := setupTestRouter(t)

	w := doJSON(t, mux, "GET", "/api/jobs/42", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", w.Code)
	}
	w = doJSON(t, mux, "GET", "/api/jobs/notanumber", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", w.Code)
	}
}

func TestListJobsWithLimit(t *testing.T) {
	mux, _ := setupTestRouter(t)
	prepareJob(t, mux)
	prepareJob(t, mux)
	prepareJob(t, mux)

	w := doJSON(t, mux, "GET", "/api/jobs?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var list []jobs.Job
	json.Unmarshal(w.Body.Bytes(), &list)
	if len(list) != 2 {
		t.Errorf("listed %d jobs, want 2", len(list))
	}

	w = doJSON(t, mux, "GET", "/api/jobs?limit=-1", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status %d, want 400", w.Code)
	}
}

func TestDeleteJobRequiresTerminalState(t *testing.T) {
	mux, _ := setupTestRouter(t)
	job := prepareJob(t, mux)

	w := doJSON(t, mux, "DELETE", fmt.Sprintf("/api/jobs/%d", job.ID), nil)
	if w.Code != http.StatusConflict {
		t.Errorf("delete preparing: status %d, want 409", w.Code)
	}
}

func TestDownloadWithoutOutput(t *testing.T) {
	mux, _ := setupTestRouter(t)
	job := prepareJob(t, mux)

	w := doJSON(t, mux, "GET", fmt.Sprintf("/api/jobs/%d/download", job.ID), nil)
	if w.Code != http.StatusConflict {
		t.Errorf("status %d, want 409", w.Code)
	}
}

func TestDefaultsEndpoint(t *testing.T) {
	mux, _ := setupTestRouter(t)

	w := doJSON(t, mux, "GET", "/api/defaults", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var cfg plan.Config
	if err := json.Unmarshal(w.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("parse defaults: %v", err)
	}
	def := plan.DefaultConfig()
	if cfg.Duration != def.Duration || cfg.Resolution != def.Resolution {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestRecordUploadRequiresCompletedJob(t *testing.T) {
	mux, _ := setupTestRouter(t)
	job := prepareJob(t, mux)

	w := doJSON(t, mux, "POST", fmt.Sprintf("/api/jobs/%d/uploads", job.ID), map[string]string{
		"video_id": "yt123",
		"title":    "My Video",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("status %d, want 409", w.Code)
	}

	// Missing video_id is a bad request regardless of state.
	w = doJSON(t, mux, "POST", fmt.Sprintf("/api/jobs/%d/uploads", job.ID), map[string]string{
		"title": "My Video",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", w.Code)
	}
}

func TestListUploadsEmpty(t *testing.T) {
	mux, _ := setupTestRouter(t)
	job := prepareJob(t, mux)

	w := doJSON(t, mux, "GET", fmt.Sprintf("/api/jobs/%d/uploads", job.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if body := bytes.TrimSpace(w.Body.Bytes()); string(body) != "[]" {
		t.Errorf("body = %s, want []", body)
	}
}

func TestImportPlaylistBadURL(t *testing.T) {
	mux, _ := setupTestRouter(t)
	job := prepareJob(t, mux)

	w := doJSON(t, mux, "POST", fmt.Sprintf("/api/jobs/%d/playlist", job.ID), map[string]string{
		"url": "!!",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, mux, "POST", fmt.Sprintf("/api/jobs/%d/playlist", job.ID), map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing url: status %d, want 400", w.Code)
	}
}

func TestCleanupEndpoint(t *testing.T) {
	mux, _ := setupTestRouter(t)
	prepareJob(t, mux)

	w := doJSON(t, mux, "POST", "/api/jobs/cleanup", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]int
	json.Unmarshal(w.Body.Bytes(), &resp)
	// The only job is fresh and non-terminal.
	if resp["removed"] != 0 {
		t.Errorf("removed = %d, want 0", resp["removed"])
	}
}
