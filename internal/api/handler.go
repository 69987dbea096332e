package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/nwestra/loopmix/internal/assets"
	"github.com/nwestra/loopmix/internal/config"
	"github.com/nwestra/loopmix/internal/jobs"
	"github.com/nwestra/loopmix/internal/plan"
	"github.com/nwestra/loopmix/internal/playlist"
)

// maxUploadMemory bounds how much of a multipart upload is held in memory;
// larger files spill to temp files.
const maxUploadMemory = 32 << 20

// Handler provides HTTP API handlers
type Handler struct {
	manager  *jobs.Manager
	importer *playlist.Importer
	cfg      *config.Config
}

// NewHandler creates a new API handler
func NewHandler(manager *jobs.Manager, importer *playlist.Importer, cfg *config.Config) *Handler {
	return &Handler{
		manager:  manager,
		importer: importer,
		cfg:      cfg,
	}
}

// response helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeManagerError maps manager sentinel errors onto HTTP statuses.
func writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, jobs.ErrFileNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrWrongState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func jobID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func assetClass(r *http.Request) (assets.Class, error) {
	return assets.ParseClass(r.PathValue("class"))
}

// Defaults handles GET /api/defaults
func (h *Handler) Defaults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, plan.DefaultConfig())
}

// PrepareJob handles POST /api/jobs/prepare.
// The optional body holds config overrides layered over defaults.
func (h *Handler) PrepareJob(w http.ResponseWriter, r *http.Request) {
	cfg := plan.DefaultConfig()
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	job, err := h.manager.Prepare(cfg)
	if err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, job)
}

// UploadAssets handles POST /api/jobs/{id}/assets/{class} (multipart).
// Accepts one or more files under the "files" field.
func (h *Handler) UploadAssets(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	class, err := assetClass(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files provided")
		return
	}

	var added []assets.Record
	var failed []string
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", fh.Filename, err))
			continue
		}
		rec, err := h.manager.AddAsset(id, class, fh.Filename, f)
		f.Close()
		if err != nil {
			if errors.Is(err, jobs.ErrJobNotFound) || errors.Is(err, jobs.ErrWrongState) {
				writeManagerError(w, err)
				return
			}
			failed = append(failed, fmt.Sprintf("%s: %v", fh.Filename, err))
			continue
		}
		added = append(added, *rec)
	}

	counts, err := h.manager.AssetCounts(id)
	if err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"added":       added,
		"failed":      failed,
		"file_counts": counts,
	})
}

// ListAssets handles GET /api/jobs/{id}/assets/{class}
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	class, err := assetClass(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := h.manager.ListAssets(id, class)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	if recs == nil {
		recs = []assets.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// DeleteAsset handles DELETE /api/jobs/{id}/assets/{class}/{filename}
func (h *Handler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	class, err := assetClass(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.manager.RemoveAsset(id, class, r.PathValue("filename")); err != nil {
		writeManagerError(w, err)
		return
	}

	counts, err := h.manager.AssetCounts(id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":     "file deleted",
		"file_counts": counts,
	})
}

// StartJob handles POST /api/jobs/{id}/start.
// The optional body holds final config overrides; validation failures
// leave the job preparing.
func (h *Handler) StartJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	var cfg *plan.Config
	if r.Body != nil && r.ContentLength != 0 {
		job, err := h.manager.Get(id)
		if err != nil {
			writeManagerError(w, err)
			return
		}
		// Merge over the job's stored config so a partial body only
		// overrides the fields it names.
		c := job.Config
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		cfg = &c
	}

	job, err := h.manager.Start(id, cfg)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) || errors.Is(err, jobs.ErrWrongState) {
			writeManagerError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// CancelJob handles POST /api/jobs/{id}/cancel
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	if err := h.manager.Cancel(id); err != nil {
		writeManagerError(w, err)
		return
	}

	job, err := h.manager.Get(id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// GetJob handles GET /api/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.manager.Get(id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	counts, err := h.manager.AssetCounts(id)
	if err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job":         job,
		"file_counts": counts,
	})
}

// ListJobs handles GET /api/jobs?limit=N
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, h.manager.List(limit))
}

// DeleteJob handles DELETE /api/jobs/{id}
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	if err := h.manager.Delete(id); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "job deleted"})
}

// DownloadOutput handles GET /api/jobs/{id}/download
func (h *Handler) DownloadOutput(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.manager.Get(id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	if job.Status != jobs.StatusCompleted || job.OutputFile == "" {
		writeError(w, http.StatusConflict, "job has no finished output")
		return
	}
	if _, err := os.Stat(job.OutputFile); err != nil {
		writeError(w, http.StatusNotFound, "output file missing")
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="loopmix-%d.mp4"`, job.ID))
	http.ServeFile(w, r, job.OutputFile)
}

// ImportPlaylistRequest is the request body for playlist imports
type ImportPlaylistRequest struct {
	URL string `json:"url"`
}

// ImportPlaylist handles POST /api/jobs/{id}/playlist.
// Downloads every track of a Suno playlist into the job's music assets.
func (h *Handler) ImportPlaylist(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	var req ImportPlaylistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "playlist url required")
		return
	}

	// The job must still accept uploads; check before any network work.
	job, err := h.manager.Get(id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	if job.Status != jobs.StatusPreparing {
		writeError(w, http.StatusConflict, "assets can only be imported while preparing")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	res, err := h.importer.Import(ctx, id, req.URL, h.manager)
	if err != nil {
		if errors.Is(err, playlist.ErrInvalidPlaylistURL) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	counts, err := h.manager.AssetCounts(id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"downloaded":  res.Downloaded,
		"errors":      res.Errors,
		"file_counts": counts,
	})
}

// RecordUploadRequest is the request body for recording uploads
type RecordUploadRequest struct {
	VideoID string `json:"video_id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Privacy string `json:"privacy"`
}

// RecordUpload handles POST /api/jobs/{id}/uploads
func (h *Handler) RecordUpload(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	var req RecordUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VideoID == "" {
		writeError(w, http.StatusBadRequest, "video_id required")
		return
	}

	up, err := h.manager.AddUpload(id, req.VideoID, req.Title, req.URL, req.Privacy)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, up)
}

// ListUploads handles GET /api/jobs/{id}/uploads
func (h *Handler) ListUploads(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	ups, err := h.manager.ListUploads(id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	if ups == nil {
		ups = []jobs.Upload{}
	}
	writeJSON(w, http.StatusOK, ups)
}

// Cleanup handles POST /api/jobs/cleanup
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	retention := time.Duration(h.cfg.RetentionDays) * 24 * time.Hour

	removed, err := h.manager.Cleanup(retention)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
