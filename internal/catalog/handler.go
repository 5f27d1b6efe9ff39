// internal/catalog/handler.go
package catalog

import (
	"errors"
	"net/http"

	"bookstore/internal/httpx"
	"bookstore/internal/obs"

	"github.com/go-chi/chi/v5"
)

// StateReporter exposes the reconciler state for health checks.
type StateReporter interface {
	State() State
}

type Handler struct {
	service Service
	health  StateReporter
}

func NewHandler(service Service, health StateReporter) *Handler {
	return &Handler{service: service, health: health}
}

// Routes mounts the catalog API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.HandleStatus)
	r.Get("/healthz", h.HandleHealth)
	r.Get("/books", h.HandleListBooks)
	r.Get("/books/{id}", h.HandleGetBook)
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"service": "catalog", "status": "running"})
}

// HandleHealth reports the reconciler state. It answers 200 in every state.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "reconciler": string(h.health.State())})
}

func (h *Handler) HandleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.ListBooks(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		obs.Logger.Error("list books failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.KeyInternal, "internal error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, books)
}

func (h *Handler) HandleGetBook(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.KeyValidation, err.Error())
		return
	}
	b, err := h.service.GetBook(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, httpx.KeyNotFound, err.Error())
		return
	}
	if err != nil {
		obs.Logger.Error("get book failed", "book_id", id, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.KeyInternal, "internal error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, b)
}
