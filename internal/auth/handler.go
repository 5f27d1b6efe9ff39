// internal/auth/handler.go
package auth

import (
	"errors"
	"net/http"

	"bookstore/internal/httpx"
	"bookstore/internal/obs"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the auth API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.HandleStatus)
	r.Post("/register", h.HandleRegister)
	r.Post("/login", h.HandleLogin)
	r.Post("/validate", h.HandleValidate)
	r.Post("/logout", h.HandleLogout)
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"service": "auth", "status": "running"})
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.KeyValidation, err.Error())
		return
	}

	u, err := h.service.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"message": "user created", "id": u.ID})
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.KeyValidation, err.Error())
		return
	}

	session, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"message":    "login successful",
		"token":      session.Token,
		"expires_at": session.ExpiresAt,
		"user":       session.User,
	})
}

// HandleValidate takes the token from the body, or from the Authorization
// header when the body carries none.
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, httpx.KeyValidation, err.Error())
			return
		}
	}
	if req.Token == "" {
		req.Token, _ = httpx.BearerToken(r)
	}
	if req.Token == "" {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.KeyUnauthorized, "token is required")
		return
	}

	u, err := h.service.Validate(r.Context(), req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"valid": true,
		"user":  map[string]any{"id": u.ID, "email": u.Email, "name": u.Name},
	})
}

func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := httpx.BearerToken(r)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.KeyUnauthorized, "missing bearer token")
		return
	}
	if err := h.service.Logout(r.Context(), token); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.WriteError(w, http.StatusBadRequest, httpx.KeyValidation, err.Error())
	case errors.Is(err, ErrEmailTaken):
		httpx.WriteError(w, http.StatusBadRequest, httpx.KeyConflict, err.Error())
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrTokenInvalid):
		httpx.WriteError(w, http.StatusUnauthorized, httpx.KeyUnauthorized, err.Error())
	case errors.Is(err, ErrRateLimited):
		httpx.WriteError(w, http.StatusTooManyRequests, httpx.KeyRateLimited, err.Error())
	default:
		obs.Logger.Error("auth request failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.KeyInternal, "internal error")
	}
}
