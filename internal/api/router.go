package api

import "net/http"

// NewRouter creates a new HTTP router with all API endpoints
func NewRouter(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()

	// Job lifecycle
	mux.HandleFunc("POST /api/jobs/prepare", h.PrepareJob)
	mux.HandleFunc("GET /api/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/jobs/stream", h.JobStream)
	mux.HandleFunc("POST /api/jobs/cleanup", h.Cleanup)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", h.DeleteJob)
	mux.HandleFunc("POST /api/jobs/{id}/start", h.StartJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", h.CancelJob)
	mux.HandleFunc("GET /api/jobs/{id}/download", h.DownloadOutput)

	// Assets
	mux.HandleFunc("POST /api/jobs/{id}/assets/{class}", h.UploadAssets)
	mux.HandleFunc("GET /api/jobs/{id}/assets/{class}", h.ListAssets)
	mux.HandleFunc("DELETE /api/jobs/{id}/assets/{class}/{filename}", h.DeleteAsset)
	mux.HandleFunc("POST /api/jobs/{id}/playlist", h.ImportPlaylist)

	// Uploads of finished builds
	mux.HandleFunc("POST /api/jobs/{id}/uploads", h.RecordUpload)
	mux.HandleFunc("GET /api/jobs/{id}/uploads", h.ListUploads)

	// Misc
	mux.HandleFunc("GET /api/defaults", h.Defaults)

	return mux
}
