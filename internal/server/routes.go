package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"lectern/internal/audiobook"
	"lectern/internal/content"
	"lectern/internal/pipeline"
)

// ownerHeader carries the caller identity. Authentication proper lives in
// front of this service; the header is trusted as-is.
const ownerHeader = "X-Owner-ID"

// maxUploadBytes bounds multipart media uploads.
const maxUploadBytes = 500 << 20

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /items", s.handleSubmit)
	mux.HandleFunc("GET /items", s.handleListItems)
	mux.HandleFunc("GET /items/{id}", s.handleGetItem)
	mux.HandleFunc("POST /items/{id}/retry", s.handleRetry)
	mux.HandleFunc("POST /items/{id}/check-stuck", s.handleCheckStuckItem)
	mux.HandleFunc("POST /maintenance/check-stuck", s.handleCheckStuckSweep)

	mux.HandleFunc("POST /audiobooks", s.handleCreateAudiobook)
	mux.HandleFunc("GET /audiobooks/{id}", s.handleGetAudiobook)
}

// HealthResponse is the response for the health check endpoint.
type HealthResponse struct {
	Status string         `json:"status"`
	Queue  map[string]any `json:"queue"`
	FFmpeg bool           `json:"ffmpeg"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Queue:  s.service.JobStats(),
		FFmpeg: audiobook.FFmpegAvailable(),
	}
	if avail, ok := resp.Queue["available"].(bool); ok && !avail {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

// submitBody is the JSON submission payload. Media uploads use multipart
// form encoding instead, with the same field names plus a "file" part.
type submitBody struct {
	Type     string         `json:"type"`
	Title    string         `json:"title,omitempty"`
	Source   string         `json:"source,omitempty"`
	Text     string         `json:"text,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	owner := r.Header.Get(ownerHeader)

	req := pipeline.SubmitRequest{OwnerID: owner}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, s.logger, content.NewValidationError("body", "invalid multipart form"))
			return
		}
		req.Type = content.Type(r.FormValue("type"))
		req.Title = r.FormValue("title")
		req.Source = r.FormValue("source")
		req.Text = r.FormValue("text")

		if file, header, err := r.FormFile("file"); err == nil {
			defer file.Close()
			data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
			if err != nil {
				writeError(w, s.logger, content.NewValidationError("file", "could not read upload"))
				return
			}
			req.Data = data
			req.Filename = header.Filename
		}
	} else {
		var body submitBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, s.logger, content.NewValidationError("body", "invalid JSON"))
			return
		}
		req.Type = content.Type(body.Type)
		req.Title = body.Title
		req.Source = body.Source
		req.Text = body.Text
		req.Metadata = body.Metadata
	}

	result, err := s.service.Submit(r.Context(), req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	owner := r.Header.Get(ownerHeader)
	status := content.Status(r.URL.Query().Get("status"))

	items, err := s.service.ListItems(r.Context(), owner, status)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	owner := r.Header.Get(ownerHeader)
	item, err := s.service.GetStatus(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	owner := r.Header.Get(ownerHeader)
	result, err := s.service.Retry(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCheckStuckItem(w http.ResponseWriter, r *http.Request) {
	owner := r.Header.Get(ownerHeader)
	stuck, err := s.service.CheckStuck(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stuck": stuck > 0})
}

func (s *Server) handleCheckStuckSweep(w http.ResponseWriter, r *http.Request) {
	count, err := s.service.CheckStuck(r.Context(), "", "")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stuck": count})
}

// createAudiobookBody is the JSON payload for starting an audiobook build.
type createAudiobookBody struct {
	BookID   string                   `json:"book_id"`
	Title    string                   `json:"title,omitempty"`
	Voice    string                   `json:"voice,omitempty"`
	Options  content.AudiobookOptions `json:"options"`
	Chapters []content.Chapter        `json:"chapters"`
}

func (s *Server) handleCreateAudiobook(w http.ResponseWriter, r *http.Request) {
	if s.assembler == nil {
		http.NotFound(w, r)
		return
	}

	var body createAudiobookBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, s.logger, content.NewValidationError("body", "invalid JSON"))
		return
	}

	ab, err := s.assembler.Create(r.Context(), s.dispatcher, audiobook.CreateRequest{
		BookID:   body.BookID,
		Title:    body.Title,
		Voice:    body.Voice,
		Options:  body.Options,
		Chapters: body.Chapters,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ab)
}

func (s *Server) handleGetAudiobook(w http.ResponseWriter, r *http.Request) {
	if s.assembler == nil {
		http.NotFound(w, r)
		return
	}
	ab, err := s.assembler.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ab)
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError

	var validation *content.ValidationError
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.Is(err, content.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, content.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, content.ErrWorkerUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, content.ErrRetryNotSupported):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
