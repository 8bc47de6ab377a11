package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"telegram-ai-subscription/internal/bigcontext/publisher"
	"telegram-ai-subscription/internal/domain"
	"telegram-ai-subscription/internal/usecase"
)

// Server wires the Control Endpoints of the big-context engine onto an
// HTTP surface: start/estimate, stream, cancel, retry, resume, and the
// two chat-scoped reads.
type Server struct {
	jobs usecase.JobUseCase
	pub  *publisher.Publisher
	log  *zerolog.Logger

	am       *AuthManager
	adminKey string
}

func NewServer(jobs usecase.JobUseCase, pub *publisher.Publisher, logger *zerolog.Logger) *Server {
	return &Server{jobs: jobs, pub: pub, log: logger}
}

// WithAdmin enables the human-facing admin cost view behind a session
// cookie instead of the service API key. am nil (no JWT secret
// configured) leaves the admin surface unregistered entirely, the
// same closed-by-default posture RequireBearer takes for an empty key.
func (s *Server) WithAdmin(am *AuthManager, adminKey string) *Server {
	s.am = am
	s.adminKey = adminKey
	return s
}

// Router builds the control surface. apiKey, when non-empty, gates
// every route behind RequireBearer; an empty key leaves the surface
// open, which is only appropriate in a dev environment.
func (s *Server) Router(apiKey string) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Group(func(g chi.Router) {
		if apiKey != "" {
			g.Use(RequireBearer(apiKey))
		}
		g.Post("/chunk-process", s.handleStart)
		g.Get("/chunk-process/{id}/stream", s.handleStream)
		g.Post("/chunk-process/{id}/cancel", s.handleCancel)
		g.Post("/chunk-process/{id}/retry", s.handleRetry)
		g.Post("/chunk-process/{id}/resume", s.handleResume)
		g.Get("/chats/{id}/document", s.handleDocument)
		g.Get("/chats/{id}/active-job", s.handleActiveJob)
	})

	if s.am != nil {
		r.Post("/admin/auth/login", s.handleAdminLogin)
		r.Post("/admin/auth/logout", s.handleAdminLogout)
		r.Group(func(g chi.Router) {
			g.Use(s.am.RequireAdminSession)
			g.Get("/admin/jobs/{id}/cost", s.handleAdminJobCost)
		})
	}

	return r
}

type startRequest struct {
	ChatID           string `json:"chatId"`
	Text             string `json:"text"`
	Instruction      string `json:"instruction"`
	ModelID          string `json:"modelId"`
	EnableStitchPass bool   `json:"enableStitchPass"`
}

type startResponse struct {
	JobID string `json:"jobId,omitempty"`

	EstimateOnly    bool    `json:"estimateOnly,omitempty"`
	EstimatedChunks int     `json:"estimatedChunks,omitempty"`
	EstimatedTokens int     `json:"estimatedTokens,omitempty"`
	EstimatedCost   float64 `json:"estimatedCost,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	estimateOnly := r.URL.Query().Get("estimate") == "true"
	res, err := s.jobs.Start(r.Context(), usecase.StartParams{
		ChatID:           req.ChatID,
		Text:             req.Text,
		Instruction:      req.Instruction,
		ModelID:          req.ModelID,
		EnableStitchPass: req.EnableStitchPass,
		EstimateOnly:     estimateOnly,
	})
	if err != nil {
		writeUseCaseError(w, err)
		return
	}

	status := http.StatusAccepted
	if res.EstimateOnly {
		status = http.StatusOK
	}
	writeJSON(w, status, startResponse{
		JobID:           res.JobID,
		EstimateOnly:    res.EstimateOnly,
		EstimatedChunks: res.EstimatedChunks,
		EstimatedTokens: res.EstimatedTokens,
		EstimatedCost:   res.EstimatedCost,
	})
}

// handleStream re-frames the publisher's snapshot channel as
// server-sent events: one `data: <json>\n\n` line per snapshot, a
// final, separate `data: {"done":true}\n\n` before close, or
// `data: {"error": "<msg>"}\n\n` if the job lookup fails mid-stream or
// a snapshot can't be encoded. The job is looked up once up front, the
// same not-found mapping every other jobID-scoped endpoint uses,
// before any SSE header is written — an unknown id gets a 404, not an
// empty 200 stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	if _, err := s.jobs.GetJob(r.Context(), jobID); err != nil {
		writeUseCaseError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snapshots := s.pub.Stream(r.Context(), jobID)
	for snap := range snapshots {
		if snap.Err != "" {
			fmt.Fprintf(w, "data: {\"error\": %q}\n\n", snap.Err)
			flusher.Flush()
			return
		}
		b, err := json.Marshal(snap)
		if err != nil {
			fmt.Fprintf(w, "data: {\"error\": %q}\n\n", err.Error())
			flusher.Flush()
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
		if snap.Done {
			fmt.Fprint(w, "data: {\"done\":true}\n\n")
			flusher.Flush()
			return
		}
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if err := s.jobs.Cancel(r.Context(), jobID); err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if err := s.jobs.RetryFailed(r.Context(), jobID); err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "retrying"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if err := s.jobs.Resume(r.Context(), jobID); err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	doc, err := s.jobs.FetchDocument(r.Context(), chatID)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"document": doc})
}

type activeJobResponse struct {
	JobID string `json:"jobId,omitempty"`
}

func (s *Server) handleActiveJob(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	job, err := s.jobs.ActiveJob(r.Context(), chatID)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	resp := activeJobResponse{}
	if job != nil {
		resp.JobID = job.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

type adminLoginRequest struct {
	Key string `json:"key"`
}

// handleAdminLogin exchanges the admin key from config for a session
// cookie, so an admin's browser doesn't need to hold the raw key past
// the login call the way a service-to-service bearer token would.
func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if s.adminKey == "" || req.Key != s.adminKey {
		writeError(w, http.StatusUnauthorized, "invalid admin key")
		return
	}
	if _, err := s.am.Mint(w); err != nil {
		writeError(w, http.StatusInternalServerError, "mint session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	s.am.Clear(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAdminJobCost is the human-facing view of real, provider-
// reported spend on a job, gated by the admin session rather than the
// service API key so a person can check cost from a browser without
// holding the service credential.
func (s *Server) handleAdminJobCost(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	summary, err := s.jobs.CostSummary(r.Context(), jobID)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// writeUseCaseError maps a domain sentinel to the HTTP status the error
// handling design assigns to its class: input-validation is a 400,
// not-found is a 404, and a job already owned by another dispatcher
// (or in the wrong state for the transition) is a 409.
func writeUseCaseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrChunkNotFound), errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrJobNotCancellable), errors.Is(err, domain.ErrJobNotResumable), errors.Is(err, domain.ErrJobLocked):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
