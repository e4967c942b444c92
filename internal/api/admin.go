package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/devbench/internal/auth"
	"github.com/mattjoyce/devbench/internal/devbench"
)

// handleAdminOverview handles GET /admin.
func (s *Server) handleAdminOverview(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	list, err := s.store.ListAllDevbenches(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, AdminOverviewResponse{Users: users, Devbenches: s.views(list)})
}

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

func (s *Server) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := devbench.ValidateUserID(req.Username); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u := &devbench.User{ID: req.Username, PasswordHash: hash, IsAdmin: req.IsAdmin}
	if err := s.store.CreateUser(r.Context(), u); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.logger.Info("user created", "user_id", u.ID, "is_admin", u.IsAdmin, "by", principal(r).UserID)
	respondJSON(w, http.StatusCreated, u)
}

func (s *Server) handleAdminSetDisabled(disabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if disabled && id == principal(r).UserID {
			s.writeError(w, http.StatusBadRequest, "cannot disable your own account")
			return
		}
		if err := s.store.SetUserDisabled(r.Context(), id, disabled); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		s.logger.Info("user updated", "user_id", id, "disabled", disabled, "by", principal(r).UserID)
		respondJSON(w, http.StatusOK, SuccessResponse{Success: true})
	}
}

func (s *Server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == principal(r).UserID {
		s.writeError(w, http.StatusBadRequest, "cannot delete your own account")
		return
	}
	if err := s.store.DeleteUser(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.logger.Info("user deleted", "user_id", id, "by", principal(r).UserID)
	respondJSON(w, http.StatusOK, SuccessResponse{Success: true})
}
