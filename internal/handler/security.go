package handler

import (
	"net/http"

	"github.com/xenking/threadline/internal/domain/auth"
)

// APIKeyHeader carries the raw API key on every authenticated request.
const APIKeyHeader = "X-API-Key"

type identityHandler func(w http.ResponseWriter, r *http.Request, id auth.Identity)

// authenticated resolves the API key to an identity before invoking fn.
func (h *Handler) authenticated(fn identityHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := h.verifier.Authenticate(r.Context(), r.Header.Get(APIKeyHeader))
		if err != nil {
			writeErrorCode(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		fn(w, r, id)
	})
}

// admin is authenticated plus an admin-key requirement.
func (h *Handler) admin(fn identityHandler) http.Handler {
	return h.authenticated(func(w http.ResponseWriter, r *http.Request, id auth.Identity) {
		if !id.IsAdmin {
			writeErrorCode(w, http.StatusForbidden, "admin key required")
			return
		}
		fn(w, r, id)
	})
}
