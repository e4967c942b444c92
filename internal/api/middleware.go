package api

import (
	"errors"
	"net/http"

	"github.com/mattjoyce/devbench/internal/auth"
	"github.com/mattjoyce/devbench/internal/devbench"
)

// authMiddleware resolves the session token to a live, enabled user.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.TokenFromRequest(r, s.config.CookieName)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		p, err := s.issuer.Verify(token)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		// Tokens outlive account changes; re-read so disable and delete take effect.
		u, err := s.store.GetUser(r.Context(), p.UserID)
		if errors.Is(err, devbench.ErrUserNotFound) {
			s.writeError(w, http.StatusUnauthorized, auth.ErrInvalidToken.Error())
			return
		}
		if err != nil {
			s.logger.Error("failed to load session user", "user_id", p.UserID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if u.IsDisabled {
			s.writeError(w, http.StatusForbidden, auth.ErrUserDisabled.Error())
			return
		}

		ctx := auth.WithPrincipal(r.Context(), auth.Principal{UserID: u.ID, IsAdmin: u.IsAdmin})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromContext(r.Context())
		if !ok || !p.IsAdmin {
			s.writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}
