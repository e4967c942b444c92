package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/devbench/internal/auth"
	"github.com/mattjoyce/devbench/internal/devbench"
	"github.com/mattjoyce/devbench/internal/reconciler"
	"github.com/mattjoyce/devbench/internal/runner"
)

const (
	defaultLogLimit = 20
	maxLogLimit     = 200
	maxBodyBytes    = 64 << 10
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountByState(r.Context())
	if err != nil {
		s.logger.Error("failed to count devbenches", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read state")
		return
	}
	byState := make(map[string]int, len(counts))
	for st, n := range counts {
		byState[string(st)] = n
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:          "ok",
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		Devbenches:      byState,
		LiveConnections: s.hub.Connected(),
	})
}

// handleLogin handles POST /login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		s.writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	u, err := auth.Login(r.Context(), s.store, req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.logger.Warn("login failed", "user_id", req.Username)
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	case errors.Is(err, auth.ErrUserDisabled):
		s.writeError(w, http.StatusForbidden, err.Error())
		return
	case err != nil:
		s.writeDomainError(w, r, err)
		return
	}

	token, exp, err := s.issuer.Issue(u)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	s.logger.Info("user logged in", "user_id", u.ID)
	respondJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: exp, User: u})
}

// handleLogout clears the session cookie. Issued tokens stay valid until expiry.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// handleDashboard handles GET /dashboard.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	u, err := s.store.GetUser(r.Context(), p.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	list, err := s.store.ListDevbenches(r.Context(), p.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, DashboardResponse{User: u, Devbenches: s.views(list)})
}

// handleListDevbenches handles GET /devbenches.
func (s *Server) handleListDevbenches(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListDevbenches(r.Context(), principal(r).UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s.views(list))
}

// handleGetDevbench handles GET /devbenches/{id}.
func (s *Server) handleGetDevbench(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetOwnedDevbench(r.Context(), principal(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, DevbenchView{Devbench: d, Busy: s.lifecycle.Busy(d.ID)})
}

// handleDevbenchLogs handles GET /devbenches/{id}/logs?limit=N.
func (s *Server) handleDevbenchLogs(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetOwnedDevbench(r.Context(), principal(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLogLimit)
	}

	ops, err := s.store.ListOperations(r.Context(), d.ID, limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if ops == nil {
		ops = []*devbench.OperationRecord{}
	}
	respondJSON(w, http.StatusOK, LogsResponse{DevbenchID: d.ID, Operations: ops})
}

// handleCreate handles POST /create-devbench.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	d, err := s.lifecycle.Create(r.Context(), principal(r).UserID, strings.TrimSpace(req.Name))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, CreateResponse{Success: true, DevbenchID: d.ID})
}

// handleActivate handles POST /activate-devbench/{id}.
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	if err := s.lifecycle.Activate(r.Context(), principal(r).UserID, chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, SuccessResponse{Success: true})
}

// handleRetry handles POST /retry-devbench/{id}.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.lifecycle.Retry(r.Context(), principal(r).UserID, chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, SuccessResponse{Success: true})
}

// handleDelete handles POST /delete-devbench/{id}. It returns once the
// record is gone.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.lifecycle.Delete(r.Context(), principal(r).UserID, chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// handleCheckStatus handles GET /check-status/{id}.
func (s *Server) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.lifecycle.CheckStatus(r.Context(), principal(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, StatusResponse{Status: st})
}

func (s *Server) views(list []*devbench.Devbench) []DevbenchView {
	out := make([]DevbenchView, 0, len(list))
	for _, d := range list {
		out = append(out, DevbenchView{Devbench: d, Busy: s.lifecycle.Busy(d.ID)})
	}
	return out
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeDomainError maps lifecycle and store errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var opErr *reconciler.OperationError
	switch {
	case errors.Is(err, devbench.ErrInvalidName),
		errors.Is(err, devbench.ErrDuplicateName),
		errors.Is(err, devbench.ErrNotProvisioned),
		errors.Is(err, devbench.ErrTransition):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, devbench.ErrNotFound), errors.Is(err, devbench.ErrUserNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, devbench.ErrBusy),
		errors.Is(err, devbench.ErrUserExists),
		errors.Is(err, devbench.ErrUserHasBench):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, runner.ErrExecutableMissing), errors.Is(err, runner.ErrScriptIntegrity):
		s.logger.Error("provisioning script unusable", "path", r.URL.Path, "error", err)
		s.writeError(w, http.StatusInternalServerError, "provisioning script is not available")
	case errors.As(err, &opErr):
		s.writeError(w, http.StatusBadGateway, opErr.Error())
	case errors.Is(err, reconciler.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
