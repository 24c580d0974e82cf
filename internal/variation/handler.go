package variation

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fieldledger/fieldledger/internal/platform/httpx"
)

// Handler manages variation endpoints, including the public decision link.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers authenticated variation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/variations", h.create)
	r.Get("/variations/{id}", h.get)
	r.Post("/variations/{id}/send", h.send)
}

// MountPublicRoutes registers the token-addressed client-facing routes.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Get("/public/variations/{token}", h.getByToken)
	r.Post("/public/variations/{token}/decision", h.decide)
}

type createRequest struct {
	JobID     *int64  `json:"jobId"`
	QuoteID   *int64  `json:"quoteId"`
	StageID   *int64  `json:"stageId"`
	StageName string  `json:"stageName"`
	Title     string  `json:"title" validate:"required"`
	Subtotal  float64 `json:"subtotal" validate:"gt=0"`
	VATRate   float64 `json:"vatRate" validate:"gte=0"`
}

type decisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approved rejected"`
	Approver string `json:"approver"`
}

type variationResponse struct {
	ID        int64   `json:"id"`
	JobID     *int64  `json:"jobId,omitempty"`
	StageName string  `json:"stageName,omitempty"`
	Token     string  `json:"token"`
	Title     string  `json:"title"`
	Subtotal  float64 `json:"subtotal"`
	VAT       float64 `json:"vat"`
	Total     float64 `json:"total"`
	Status    string  `json:"status"`
	DecidedBy string  `json:"decidedBy,omitempty"`
}

func toVariationResponse(v Variation) variationResponse {
	return variationResponse{
		ID:        v.ID,
		JobID:     v.JobID,
		StageName: v.StageName,
		Token:     v.Token,
		Title:     v.Title,
		Subtotal:  v.Subtotal,
		VAT:       v.VAT,
		Total:     v.Total,
		Status:    string(v.Status),
		DecidedBy: v.DecidedBy,
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	v, err := h.service.Create(r.Context(), CreateInput{
		JobID:     req.JobID,
		QuoteID:   req.QuoteID,
		StageID:   req.StageID,
		StageName: req.StageName,
		Title:     req.Title,
		Subtotal:  req.Subtotal,
		VATRate:   req.VATRate,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toVariationResponse(v))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid variation id")
		return
	}
	v, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toVariationResponse(v))
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid variation id")
		return
	}
	v, err := h.service.Send(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toVariationResponse(v))
}

func (h *Handler) getByToken(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.GetByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toVariationResponse(v))
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	v, err := h.service.DecideByToken(r.Context(), chi.URLParam(r, "token"), Decision(req.Decision), req.Approver)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toVariationResponse(v))
}
