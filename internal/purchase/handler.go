// internal/purchase/handler.go
package purchase

import (
	"errors"
	"net/http"

	"bookstore/internal/clients"
	"bookstore/internal/httpx"
	"bookstore/internal/obs"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the purchase API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.HandleStatus)

	r.Route("/books", func(r chi.Router) {
		r.Get("/", h.HandleListBooks)
		r.Post("/", h.HandleCreateBook)
		r.Get("/{id}", h.HandleGetBook)
		r.Put("/{id}", h.HandleUpdateBook)
		r.Delete("/{id}", h.HandleDeleteBook)
	})

	r.Post("/purchase", h.HandlePurchase)
	r.Get("/purchases", h.HandleListPurchases)
	r.Get("/purchase/{id}", h.HandleGetPurchase)
	r.Put("/purchase/{id}", h.HandleUpdatePurchase)
	r.Delete("/purchase/{id}", h.HandleDeletePurchase)

	r.Post("/payment", h.HandleCreatePayment)
	r.Get("/payments", h.HandleListPayments)

	r.Post("/providers", h.HandleCreateProvider)
	r.Get("/providers", h.HandleListProviders)
	r.Post("/assignments", h.HandleCreateAssignment)
	r.Get("/assignments", h.HandleListAssignments)
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"service": "purchase", "status": "running"})
}

func (h *Handler) HandleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.ListBooks(r.Context())
	if err != nil {
		writeError(w, r, err)
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
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, b)
}

func (h *Handler) HandleCreateBook(w http.ResponseWriter, r *http.Request) {
	var in BookInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.KeyValidation, err.Error())
		return
	}
	b, err := h.service.CreateBook(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"message": "book created", "book_id": b.ID, "book": b})
}

func (h *Handler) HandleUpdateBook(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.KeyValidation, err.Error())
		return
	}
	var patch BookPatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.KeyValidation, err.Error())
		return
	}
	b, err := h.service.UpdateBook(r.Context(), id, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"message": "book updated", "book": b})
}

func (h *Handler) HandleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.KeyValidation, err.Error())
		return
	}
	if err := h.service.DeleteBook(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "book deleted"})
}

func (h *Handler) HandlePurchase(w http.ResponseWriter, r *http.Request) {
	token, ok := httpx.BearerToken(r)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.KeyUnauthorized, "missing bearer token")
		return
	}

	var req struct {
		BookID   int64 `json:"book_id"`
		Quantity *int  `json:"quantity"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.KeyValidation, err.Error())
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	p, err := h.service.PurchaseBook(r.Context(), token, req.BookID, quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"message": "purchase created", "purchase_id": p.ID, "purchase": p})
}

func (h *Handler) HandleListPurchases(w http.ResponseWriter, r *http.Request) {
	purchases, err := h.service.ListPurchases(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, purchases)
}

func (h *Handler) HandleGetPurchase(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.KeyValidation, err.Error())
		return
	}
	p, err := h.service.GetPurchase(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) HandleUpdatePurchase(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.KeyValidation, err.Error())
		return
	}
	var req struct {
		Status Status `json:"status"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.KeyValidation, err.Error())
		return
	}
	p, err := h.service.UpdatePurchaseStatus(r.Context(), id, req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"message": "purchase updated", "purchase": p})
}

func (h *Handler) HandleDeletePurchase(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.KeyValidation, err.Error())
		return
	}
	if err := h.service.DeletePurchase(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "purchase deleted"})
}

func (h *Handler) HandleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PurchaseID int64           `json:"purchase_id"`
		Amount     decimal.Decimal `json:"amount"`
		Method     string          `json:"method"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.KeyValidation, err.Error())
		return
	}
	pay, err := h.service.RecordPayment(r.Context(), req.PurchaseID, req.Amount, req.Method)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"message": "payment recorded", "payment_id": pay.ID, "payment": pay})
}

func (h *Handler) HandleListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.service.ListPayments(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, payments)
}

func (h *Handler) HandleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Contact string `json:"contact"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.KeyValidation, err.Error())
		return
	}
	p, err := h.service.CreateProvider(r.Context(), req.Name, req.Contact)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"message": "provider created", "provider_id": p.ID, "provider": p})
}

func (h *Handler) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.service.ListProviders(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, providers)
}

func (h *Handler) HandleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PurchaseID int64 `json:"purchase_id"`
		ProviderID int64 `json:"provider_id"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.KeyValidation, err.Error())
		return
	}
	a, err := h.service.AssignDelivery(r.Context(), req.PurchaseID, req.ProviderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"message": "delivery assigned", "assignment_id": a.ID, "assignment": a})
}

func (h *Handler) HandleListAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.service.ListAssignments(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, assignments)
}

// writeError maps service errors to status codes and error keys.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.WriteError(w, http.StatusBadRequest, httpx.KeyValidation, err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.WriteError(w, http.StatusBadRequest, httpx.KeyInsufficientStock, err.Error())
	case errors.Is(err, clients.ErrUnauthorized):
		httpx.WriteError(w, http.StatusUnauthorized, httpx.KeyUnauthorized, "invalid or expired token")
	case errors.Is(err, ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, httpx.KeyNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		httpx.WriteError(w, http.StatusConflict, httpx.KeyInvalidTransition, err.Error())
	case errors.Is(err, clients.ErrUpstreamUnavailable):
		httpx.WriteError(w, http.StatusServiceUnavailable, httpx.KeyUpstreamUnavailable, "auth service unavailable")
	case errors.Is(err, ErrPublish):
		httpx.WriteError(w, http.StatusServiceUnavailable, httpx.KeyUpstreamUnavailable, "inventory event could not be published")
	default:
		obs.Logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.KeyInternal, "internal error")
	}
}
