// Package devserver is a self-contained stand-in for the document-conversion
// service, used for local development and end-to-end tests. It speaks the
// same wire contract: multipart upload, status polling, result and download
// retrieval, job listing, and cancellation.
package devserver

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nmalhotra/docwatch/internal/docling"
	"github.com/nmalhotra/docwatch/pkg/models"
)

// Options configures a Server.
type Options struct {
	Store       Store
	StageDelay  time.Duration
	MaxFileSize int64
}

// Server holds the job store and conversion settings.
type Server struct {
	store       Store
	stageDelay  time.Duration
	maxFileSize int64
}

func New(opts Options) *Server {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = docling.DefaultMaxFileSize
	}
	return &Server{
		store:       opts.Store,
		stageDelay:  opts.StageDelay,
		maxFileSize: opts.MaxFileSize,
	}
}

// Router builds the chi router with the logging and recovery middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestLogger)
	r.Use(recovery)

	r.Post("/upload", s.handleUpload)
	r.Get("/status/{jobID}", s.handleStatus)
	r.Get("/result/{jobID}", s.handleResult)
	r.Get("/download/{jobID}", s.handleDownload)
	r.Get("/jobs", s.handleListJobs)
	r.Delete("/jobs/{jobID}", s.handleCancel)
	r.Get("/health", s.handleHealth)

	return r
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxFileSize+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "multipart field 'file' is required")
		return
	}
	defer file.Close()

	if header.Size > s.maxFileSize {
		respondError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file exceeds the size limit")
		return
	}
	if !docling.AllowedExtension(header.Filename) {
		respondError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_TYPE", "file type is not supported")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "reading upload failed")
		return
	}

	job := &Job{
		ID:         uuid.NewString(),
		Filename:   header.Filename,
		FileSize:   int64(len(data)),
		Status:     models.StatusPending,
		UploadTime: time.Now().UTC(),
	}
	if err := s.store.Put(r.Context(), job); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "storing job failed")
		return
	}

	go s.process(*job, data)

	respondJSON(w, http.StatusOK, models.UploadReceipt{
		JobID:      job.ID,
		Filename:   job.Filename,
		FileSize:   job.FileSize,
		UploadTime: job.UploadTime,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(r.Context(), chi.URLParam(r, "jobID"))
	if errors.Is(err, ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "job not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "loading job failed")
		return
	}

	respondJSON(w, http.StatusOK, models.StatusSnapshot{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		Message:     job.Message,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		Error:       job.Error,
	})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(r.Context(), chi.URLParam(r, "jobID"))
	if errors.Is(err, ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "job not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "loading job failed")
		return
	}
	if job.Status != models.StatusCompleted || job.Result == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "result not available")
		return
	}

	respondJSON(w, http.StatusOK, job.Result)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	format := models.FormatMarkdown
	if raw := r.URL.Query().Get("format"); raw != "" {
		parsed, ok := models.ParseFormat(raw)
		if !ok {
			respondError(w, http.StatusBadRequest, "INVALID_FORMAT", "format must be markdown, html or json")
			return
		}
		format = parsed
	}

	job, err := s.store.Get(r.Context(), chi.URLParam(r, "jobID"))
	if errors.Is(err, ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "job not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "loading job failed")
		return
	}
	if job.Status != models.StatusCompleted || job.Result == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "result not available")
		return
	}

	var body []byte
	switch format {
	case models.FormatMarkdown:
		body = []byte(job.Result.Content.Markdown)
	case models.FormatHTML:
		body = []byte(job.Result.Content.HTML)
	case models.FormatJSON:
		respondDownloadJSON(w, job, format)
		return
	}

	base := strings.TrimSuffix(job.Filename, extOf(job.Filename))
	w.Header().Set("Content-Disposition", `attachment; filename="`+base+format.Ext()+`"`)
	w.Header().Set("Content-Type", format.MediaType())
	w.Write(body)
}

func respondDownloadJSON(w http.ResponseWriter, job *Job, format models.Format) {
	base := strings.TrimSuffix(job.Filename, extOf(job.Filename))
	w.Header().Set("Content-Disposition", `attachment; filename="`+base+format.Ext()+`"`)
	respondJSON(w, http.StatusOK, job.Result.Content.JSON)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", 10)
	statusFilter := r.URL.Query().Get("status")

	jobs, err := s.store.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "listing jobs failed")
		return
	}

	filtered := jobs[:0:0]
	for _, job := range jobs {
		if statusFilter == "" || job.Status == statusFilter {
			filtered = append(filtered, job)
		}
	}

	start := (page - 1) * perPage
	end := start + perPage
	if start > len(filtered) {
		start = len(filtered)
	}
	if end > len(filtered) {
		end = len(filtered)
	}

	infos := make([]models.JobInfo, 0, end-start)
	for _, job := range filtered[start:end] {
		info := models.JobInfo{
			JobID:     job.ID,
			Filename:  job.Filename,
			Status:    job.Status,
			Progress:  job.Progress,
			FileSize:  job.FileSize,
			Error:     job.Error,
			CreatedAt: job.UploadTime,
			UpdatedAt: job.UploadTime,
		}
		if job.CompletedAt != nil {
			info.UpdatedAt = *job.CompletedAt
		}
		infos = append(infos, info)
	}

	respondJSON(w, http.StatusOK, models.JobPage{
		Jobs:    infos,
		Total:   len(filtered),
		Page:    page,
		PerPage: perPage,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.store.Get(r.Context(), jobID)
	if errors.Is(err, ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "job not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "loading job failed")
		return
	}

	if !models.IsTerminal(job.Status) {
		now := time.Now().UTC()
		job.Status = models.StatusFailed
		job.Error = "cancelled by user"
		job.CompletedAt = &now
		switch err := s.store.PutIfActive(r.Context(), job); {
		case errors.Is(err, ErrSuperseded):
			// The worker finished first; report the record it wrote.
			if fresh, err := s.store.Get(r.Context(), jobID); err == nil {
				job = fresh
			}
		case err != nil:
			respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "storing job failed")
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "job store unreachable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"model":  modelName,
	})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return defaultVal
	}
	return n
}

func extOf(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i:]
	}
	return ""
}
