package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"camarc/internal/camarc"
	"camarc/internal/progress"
)

const shutdownTimeout = 10 * time.Second

// Service is the part of CamarcService the HTTP surface needs.
type Service interface {
	Preview(query string, limit int) []camarc.PhotoRecord
	FetchPhoto(ctx context.Context, reference string, w io.Writer) error
	BuildArchive(ctx context.Context, query string, reporter camarc.ProgressReporter) (*camarc.Archive, error)
	GetHistory(limit int) ([]*camarc.ArchiveJobRecord, error)
}

var _ Service = (*camarc.CamarcService)(nil)

// Server exposes queries, photos, archives, and live progress over HTTP.
type Server struct {
	service      Service
	hub          *progress.Hub
	reporter     camarc.ProgressReporter
	logger       camarc.Logger
	previewLimit int
}

// New creates a Server. reporter receives progress for archives built
// through /api/archive.
func New(service Service, hub *progress.Hub, reporter camarc.ProgressReporter, logger camarc.Logger, previewLimit int) *Server {
	if previewLimit <= 0 {
		previewLimit = camarc.DefaultPreviewLimit
	}
	return &Server{
		service:      service,
		hub:          hub,
		reporter:     reporter,
		logger:       logger,
		previewLimit: previewLimit,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/archive", s.handleArchive)
	mux.HandleFunc("GET /api/photos", s.handlePreview)
	mux.HandleFunc("GET /api/photos/{reference}", s.handlePhoto)
	mux.HandleFunc("GET /api/jobs", s.handleJobs)
	mux.HandleFunc("GET /api/progress", s.hub.ServeWS)
	return mux
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

type photoJSON struct {
	Timestamp string `json:"timestamp"`
	Reference string `json:"reference"`
	Name      string `json:"name"`
}

type jobJSON struct {
	ID         string `json:"id"`
	Query      string `json:"query"`
	Status     string `json:"status"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Total      int    `json:"total"`
	Completed  int    `json:"completed"`
	Skipped    int    `json:"skipped"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", s.previewLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	records := s.service.Preview(r.URL.Query().Get("q"), limit)
	out := make([]photoJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, photoJSON{
			Timestamp: camarc.FormatTimestamp(rec.Timestamp),
			Reference: rec.Reference,
			Name:      rec.EntryName(),
		})
	}
	s.writeJSON(w, out)
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	reference := r.PathValue("reference")
	// Buffer so a failed fetch can still produce an error status.
	var buf bytes.Buffer
	if err := s.service.FetchPhoto(r.Context(), reference, &buf); err != nil {
		if errors.Is(err, camarc.ErrPhotoNotFound) {
			http.Error(w, "photo not found", http.StatusNotFound)
			return
		}
		s.logger.Error("fetching photo failed", "reference", reference, "error", err)
		http.Error(w, "fetching photo failed", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "query parameter q is required", http.StatusBadRequest)
		return
	}

	archive, err := s.service.BuildArchive(r.Context(), query, s.reporter)
	if err != nil {
		if errors.Is(err, camarc.ErrArchiveCancelled) {
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer func() {
		if err := archive.Remove(); err != nil {
			s.logger.Warn("removing delivered archive failed", "path", archive.Path, "error", err)
		}
	}()

	f, err := os.Open(archive.Path)
	if err != nil {
		s.logger.Error("opening archive failed", "path", archive.Path, "error", err)
		http.Error(w, "opening archive failed", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	contentType := "application/zip"
	if archive.Encrypted {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", archive.Name))
	w.Header().Set("X-Archive-Entries", strconv.Itoa(archive.Entries))
	w.Header().Set("X-Archive-Skipped", strconv.Itoa(len(archive.Skipped)))
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Warn("streaming archive failed", "job", archive.JobID, "error", err)
	}
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 20)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	jobs, err := s.service.GetHistory(limit)
	if err != nil {
		s.logger.Error("listing jobs failed", "error", err)
		http.Error(w, "listing jobs failed", http.StatusInternalServerError)
		return
	}

	out := make([]jobJSON, 0, len(jobs))
	for _, j := range jobs {
		jj := jobJSON{
			ID:        j.ID,
			Query:     j.Query,
			Status:    string(j.Status),
			StartedAt: camarc.FormatTimestamp(j.StartedAt),
			Total:     j.Total,
			Completed: j.Completed,
			Skipped:   j.Skipped,
			Error:     j.Error,
		}
		if !j.FinishedAt.IsZero() {
			jj.FinishedAt = camarc.FormatTimestamp(j.FinishedAt)
		}
		out = append(out, jj)
	}
	s.writeJSON(w, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encoding response failed", "error", err)
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}
