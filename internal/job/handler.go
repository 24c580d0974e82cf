package job

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fieldledger/fieldledger/internal/costing"
	"github.com/fieldledger/fieldledger/internal/platform/httpx"
)

// Handler manages job endpoints, including the derived financials view.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	financials *costing.Reader
	validate   *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, financials *costing.Reader) *Handler {
	return &Handler{logger: logger, service: service, financials: financials, validate: validator.New()}
}

// MountRoutes registers job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/jobs/{jobID}", h.get)
	r.Get("/jobs/{jobID}/financials", h.getFinancials)
	r.Post("/jobs/{jobID}/complete", h.complete)
}

type completeRequest struct {
	Override bool   `json:"override"`
	Reason   string `json:"reason" validate:"required_with=Override"`
}

type jobResponse struct {
	ID             int64      `json:"id"`
	Reference      string     `json:"reference"`
	Status         string     `json:"status"`
	ClientID       int64      `json:"clientId"`
	BudgetSubtotal float64    `json:"budgetSubtotal"`
	BudgetVAT      float64    `json:"budgetVat"`
	BudgetTotal    float64    `json:"budgetTotal"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

func toJobResponse(j Job) jobResponse {
	return jobResponse{
		ID:             j.ID,
		Reference:      j.Reference,
		Status:         string(j.Status),
		ClientID:       j.ClientID,
		BudgetSubtotal: j.BudgetSubtotal,
		BudgetVAT:      j.BudgetVAT,
		BudgetTotal:    j.BudgetTotal,
		CompletedAt:    j.CompletedAt,
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid job id")
		return
	}
	j, err := h.service.Get(r.Context(), jobID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toJobResponse(j))
}

func (h *Handler) getFinancials(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid job id")
		return
	}
	f, err := h.financials.Financials(r.Context(), jobID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, f)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid job id")
		return
	}
	var req completeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	j, err := h.service.Complete(r.Context(), CompleteInput{
		JobID:    jobID,
		Override: req.Override,
		Reason:   req.Reason,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toJobResponse(j))
}
