package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dlegrain/EVAL-COSEP/internal/config"
	"github.com/dlegrain/EVAL-COSEP/internal/domain"
	"github.com/dlegrain/EVAL-COSEP/internal/usecase"
)

// Server aggregates handlers dependencies.
type Server struct {
	Cfg           config.Config
	Extraction    usecase.ExtractionService
	Collaboration usecase.CollaborationService
	Legal         usecase.LegalService
	Canvas        usecase.CanvasService
	Progress      usecase.ProgressService
	DBCheck       func(ctx context.Context) error
	RedisCheck    func(ctx context.Context) error
	OracleCheck   func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, extraction usecase.ExtractionService, collaboration usecase.CollaborationService, legal usecase.LegalService, canvas usecase.CanvasService, progress usecase.ProgressService, dbCheck, redisCheck, oracleCheck func(context.Context) error) *Server {
	return &Server{
		Cfg:           cfg,
		Extraction:    extraction,
		Collaboration: collaboration,
		Legal:         legal,
		Canvas:        canvas,
		Progress:      progress,
		DBCheck:       dbCheck,
		RedisCheck:    redisCheck,
		OracleCheck:   oracleCheck,
	}
}

func (s *Server) maxUploadBytes() int64 {
	if s.Cfg.MaxUploadMB <= 0 {
		return 10 << 20
	}
	return s.Cfg.MaxUploadMB << 20
}

func notAcceptable(w http.ResponseWriter, r *http.Request) bool {
	if acceptsJSON(r) {
		return false
	}
	writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{
		Code: "INVALID_ARGUMENT", Message: "not acceptable", Details: map[string]string{"accept": r.Header.Get("Accept")},
	}})
	return true
}

// parseMultipart caps and parses a multipart body. It writes the response
// itself and returns false when the request cannot go on.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
		writeError(w, r, fmt.Errorf("%w: content-type must be multipart/form-data", domain.ErrInvalidArgument), nil)
		return false
	}
	maxBytes := s.maxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+(1<<20))
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(strings.ToLower(err.Error()), "too large") {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{
				Code: "INVALID_ARGUMENT", Message: "Fichier trop volumineux.", Details: map[string]any{"max_mb": s.Cfg.MaxUploadMB},
			}})
			return false
		}
		writeError(w, r, fmt.Errorf("%w: formulaire invalide: %v", domain.ErrInvalidArgument, err), nil)
		return false
	}
	return true
}

func readFormFile(r *http.Request, field string) ([]byte, string, error) {
	f, h, err := r.FormFile(field)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}
	return data, h.Filename, nil
}

func formElapsed(r *http.Request) (*int64, error) {
	v := strings.TrimSpace(r.FormValue("elapsed_ms"))
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: elapsed_ms doit être un nombre", domain.ErrInvalidArgument)
	}
	ms := int64(f)
	return &ms, nil
}

func formInstant(r *http.Request, field string) (string, error) {
	var t instant
	if err := t.parse(r.FormValue(field)); err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrInvalidArgument, field, err)
	}
	return t.String(), nil
}

type extractionForm struct {
	FirstName   string `json:"first_name" validate:"required,max=200"`
	LastName    string `json:"last_name" validate:"required,max=200"`
	Email       string `json:"email" validate:"omitempty,email,max=320"`
	ElapsedMs   *int64 `json:"elapsed_ms" validate:"omitempty,min=0"`
	StartedAt   string `json:"started_at"`
	SubmittedAt string `json:"submitted_at"`
}

// ExtractionHandler scores an uploaded .xlsx workbook.
func (s *Server) ExtractionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) || !s.parseMultipart(w, r) {
			return
		}
		form := extractionForm{
			FirstName: strings.TrimSpace(r.FormValue("first_name")),
			LastName:  strings.TrimSpace(r.FormValue("last_name")),
			Email:     strings.TrimSpace(r.FormValue("email")),
		}
		var err error
		if form.ElapsedMs, err = formElapsed(r); err != nil {
			writeError(w, r, err, map[string]string{"field": "elapsed_ms"})
			return
		}
		if form.StartedAt, err = formInstant(r, "started_at"); err != nil {
			writeError(w, r, err, map[string]string{"field": "started_at"})
			return
		}
		if form.SubmittedAt, err = formInstant(r, "submitted_at"); err != nil {
			writeError(w, r, err, map[string]string{"field": "submitted_at"})
			return
		}
		if details, err := validateStruct(form); err != nil {
			writeError(w, r, err, details)
			return
		}
		data, name, err := readFormFile(r, "file")
		if err != nil || len(data) == 0 {
			writeError(w, r, fmt.Errorf("%w: Aucun fichier reçu pour analyse.", domain.ErrInvalidArgument), map[string]string{"field": "file"})
			return
		}
		if mime, ok := sniffWorkbook(data, name); !ok {
			writeJSON(w, http.StatusUnsupportedMediaType, errorEnvelope{Error: apiError{
				Code: "INVALID_ARGUMENT", Message: "Le fichier doit être un classeur Excel (.xlsx).",
				Details: map[string]string{"mime": mime, "filename": name},
			}})
			return
		}
		report, err := s.Extraction.Submit(r.Context(), usecase.ExtractionSubmission{
			Participant: usecase.Participant{FirstName: form.FirstName, LastName: form.LastName, Email: form.Email},
			FileName:    name,
			Content:     data,
			ElapsedMs:   form.ElapsedMs,
			StartedAt:   form.StartedAt,
			SubmittedAt: form.SubmittedAt,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

type collaborationRequest struct {
	FirstName       string   `json:"firstName" validate:"required,max=200"`
	LastName        string   `json:"lastName" validate:"required,max=200"`
	Email           string   `json:"email" validate:"omitempty,email,max=320"`
	Transcript      string   `json:"transcript" validate:"required"`
	ExtractionScore *float64 `json:"extractionScore" validate:"omitempty,min=0,max=100"`
	SubmittedAt     instant  `json:"submittedAt"`
}

// CollaborationHandler rates a pasted conversation transcript.
func (s *Server) CollaborationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		var req collaborationRequest
		if details, err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, details)
			return
		}
		if limit := s.Cfg.MaxTranscriptKB << 10; limit > 0 && int64(len(req.Transcript)) > limit {
			writeError(w, r, fmt.Errorf("%w: Conversation trop longue.", domain.ErrInvalidArgument), map[string]any{"max_kb": s.Cfg.MaxTranscriptKB})
			return
		}
		report, err := s.Collaboration.Submit(r.Context(), usecase.CollaborationSubmission{
			Participant:     usecase.Participant{FirstName: req.FirstName, LastName: req.LastName, Email: req.Email},
			Transcript:      req.Transcript,
			ExtractionScore: req.ExtractionScore,
			SubmittedAt:     req.SubmittedAt.String(),
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

type legalRequest struct {
	FirstName   string            `json:"firstName" validate:"max=200"`
	LastName    string            `json:"lastName" validate:"max=200"`
	Email       string            `json:"email" validate:"omitempty,email,max=320"`
	Answers     map[string]string `json:"answers" validate:"required,min=1,dive,max=5000"`
	ElapsedMs   *int64            `json:"elapsedMs" validate:"omitempty,min=0"`
	StartedAt   instant           `json:"startedAt"`
	SubmittedAt instant           `json:"submittedAt"`
}

// LegalHandler grades the three legal free-text answers.
func (s *Server) LegalHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		var req legalRequest
		if details, err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, details)
			return
		}
		report, err := s.Legal.Submit(r.Context(), usecase.LegalSubmission{
			Participant: usecase.Participant{FirstName: req.FirstName, LastName: req.LastName, Email: req.Email},
			Answers:     req.Answers,
			ElapsedMs:   req.ElapsedMs,
			StartedAt:   req.StartedAt.String(),
			SubmittedAt: req.SubmittedAt.String(),
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

type canvasForm struct {
	FirstName string `json:"first_name" validate:"max=200"`
	LastName  string `json:"last_name" validate:"max=200"`
	Email     string `json:"email" validate:"omitempty,email,max=320"`
}

// CanvasHandler verifies an uploaded screenshot of the ChatGPT prompt bar.
func (s *Server) CanvasHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) || !s.parseMultipart(w, r) {
			return
		}
		form := canvasForm{
			FirstName: strings.TrimSpace(r.FormValue("first_name")),
			LastName:  strings.TrimSpace(r.FormValue("last_name")),
			Email:     strings.TrimSpace(r.FormValue("email")),
		}
		if details, err := validateStruct(form); err != nil {
			writeError(w, r, err, details)
			return
		}
		submittedAt, err := formInstant(r, "submitted_at")
		if err != nil {
			writeError(w, r, err, map[string]string{"field": "submitted_at"})
			return
		}
		data, name, err := readFormFile(r, "image")
		if err != nil || len(data) == 0 {
			writeError(w, r, fmt.Errorf("%w: Aucune image fournie.", domain.ErrInvalidArgument), map[string]string{"field": "image"})
			return
		}
		mime, ok := sniffImage(data)
		if !ok {
			writeJSON(w, http.StatusUnsupportedMediaType, errorEnvelope{Error: apiError{
				Code: "INVALID_ARGUMENT", Message: "Formats acceptés: PNG, JPEG ou WebP.",
				Details: map[string]string{"mime": mime, "filename": name},
			}})
			return
		}
		report, err := s.Canvas.Verify(r.Context(), usecase.CanvasSubmission{
			Participant: usecase.Participant{FirstName: form.FirstName, LastName: form.LastName, Email: form.Email},
			Image:       data,
			MIMEType:    mime,
			SubmittedAt: submittedAt,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

type progressGetRequest struct {
	Email     string `json:"email" validate:"omitempty,max=320"`
	FirstName string `json:"firstName" validate:"max=200"`
	LastName  string `json:"lastName" validate:"max=200"`
}

// GetProgressHandler returns the participant's progress, creating the row on first use.
func (s *Server) GetProgressHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		var req progressGetRequest
		if details, err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, details)
			return
		}
		view, err := s.Progress.Get(r.Context(), req.Email, req.FirstName, req.LastName)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

type moduleUpdateRequest struct {
	Status      string   `json:"status" validate:"omitempty,max=32"`
	Score       *float64 `json:"score" validate:"omitempty,min=0,max=100"`
	ElapsedMs   *int64   `json:"elapsedMs" validate:"omitempty,min=0"`
	SubmittedAt instant  `json:"submittedAt"`
	UpdatedAt   instant  `json:"updatedAt"`
}

type progressUpdateRequest struct {
	Email     string                          `json:"email" validate:"omitempty,max=320"`
	FirstName string                          `json:"firstName" validate:"max=200"`
	LastName  string                          `json:"lastName" validate:"max=200"`
	Updates   map[string]*moduleUpdateRequest `json:"updates" validate:"dive,keys,max=32,endkeys"`
}

// UpdateProgressHandler applies per-module progress updates.
func (s *Server) UpdateProgressHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		var req progressUpdateRequest
		if details, err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, details)
			return
		}
		updates := make(map[string]domain.ModuleUpdate, len(req.Updates))
		for id, u := range req.Updates {
			if u == nil {
				continue
			}
			at := u.SubmittedAt.Time
			if at.IsZero() {
				at = u.UpdatedAt.Time
			}
			updates[id] = domain.ModuleUpdate{Status: strings.TrimSpace(u.Status), Score: u.Score, ElapsedMs: u.ElapsedMs, At: at}
		}
		view, err := s.Progress.Update(r.Context(), req.Email, req.FirstName, req.LastName, updates)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// ReadyzHandler returns a readiness handler that probes the database, Redis and the oracle.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		probes := []struct {
			name string
			fn   func(context.Context) error
		}{
			{"db", s.DBCheck},
			{"redis", s.RedisCheck},
			{"oracle", s.OracleCheck},
		}
		checks := make([]check, 0, len(probes))
		ok := true
		for _, p := range probes {
			if p.fn == nil {
				continue
			}
			if err := p.fn(ctx); err != nil {
				checks = append(checks, check{Name: p.name, OK: false, Details: err.Error()})
				ok = false
				continue
			}
			checks = append(checks, check{Name: p.name, OK: true})
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// HealthzHandler reports liveness.
func HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
