package invoice

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fieldledger/fieldledger/internal/platform/httpx"
)

// Handler manages invoice endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/jobs/{jobID}/invoices", h.create)
	r.Get("/jobs/{jobID}/invoices", h.list)
	r.Get("/invoices/{id}", h.get)
}

type createRequest struct {
	Type        string  `json:"type" validate:"required,oneof=deposit stage variation final"`
	StageName   string  `json:"stageName"`
	VariationID *int64  `json:"variationId"`
	Subtotal    float64 `json:"subtotal" validate:"gte=0"`
	VATRate     float64 `json:"vatRate" validate:"gte=0"`
}

type invoiceResponse struct {
	ID          int64     `json:"id"`
	JobID       int64     `json:"jobId"`
	Type        string    `json:"type"`
	StageName   string    `json:"stageName,omitempty"`
	VariationID *int64    `json:"variationId,omitempty"`
	Number      string    `json:"number,omitempty"`
	Subtotal    float64   `json:"subtotal"`
	VAT         float64   `json:"vat"`
	Total       float64   `json:"total"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toInvoiceResponse(inv Invoice) invoiceResponse {
	return invoiceResponse{
		ID:          inv.ID,
		JobID:       inv.JobID,
		Type:        string(inv.Type),
		StageName:   inv.StageName,
		VariationID: inv.VariationID,
		Number:      inv.Number,
		Subtotal:    inv.Subtotal,
		VAT:         inv.VAT,
		Total:       inv.Total,
		Status:      inv.Status,
		CreatedAt:   inv.CreatedAt,
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid job id")
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	inv, err := h.service.CreateForJob(r.Context(), CreateInput{
		JobID:       jobID,
		Type:        Type(req.Type),
		StageName:   req.StageName,
		VariationID: req.VariationID,
		Subtotal:    req.Subtotal,
		VATRate:     req.VATRate,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toInvoiceResponse(inv))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid job id")
		return
	}
	invoices, err := h.service.ListForJob(r.Context(), jobID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]invoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, toInvoiceResponse(inv))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	inv, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceResponse(inv))
}
