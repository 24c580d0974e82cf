package ledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fieldledger/fieldledger/internal/platform/httpx"
)

// Handler manages cost ledger endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers cost ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/jobs/{jobID}/cost-items", h.addItem)
	r.Get("/jobs/{jobID}/cost-items", h.listItems)
	r.Patch("/cost-items/{id}", h.updateItem)
	r.Delete("/cost-items/{id}", h.deleteItem)
}

type addItemRequest struct {
	Type        string  `json:"type" validate:"required"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity" validate:"gt=0"`
	UnitCost    float64 `json:"unitCost" validate:"gte=0"`
	MarkupPct   float64 `json:"markupPct" validate:"gte=0"`
}

type updateItemRequest struct {
	Type        *string  `json:"type"`
	Description *string  `json:"description"`
	Quantity    *float64 `json:"quantity"`
	UnitCost    *float64 `json:"unitCost"`
	MarkupPct   *float64 `json:"markupPct"`
}

type costItemResponse struct {
	ID          int64   `json:"id"`
	JobID       int64   `json:"jobId"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitCost    float64 `json:"unitCost"`
	MarkupPct   float64 `json:"markupPct"`
	TotalCost   float64 `json:"totalCost"`
	LockStatus  string  `json:"lockStatus"`
	Source      string  `json:"source"`
}

func toCostItemResponse(item CostItem) costItemResponse {
	return costItemResponse{
		ID:          item.ID,
		JobID:       item.JobID,
		Type:        string(item.Type),
		Description: item.Description,
		Quantity:    item.Quantity,
		UnitCost:    item.UnitCost,
		MarkupPct:   item.MarkupPct,
		TotalCost:   item.TotalCost,
		LockStatus:  string(item.LockStatus),
		Source:      item.Source.Key(),
	}
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid job id")
		return
	}
	var req addItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	item, err := h.service.AddItem(r.Context(), AddItemInput{
		JobID:       jobID,
		Type:        ItemType(req.Type),
		Description: req.Description,
		Quantity:    req.Quantity,
		UnitCost:    req.UnitCost,
		MarkupPct:   req.MarkupPct,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toCostItemResponse(item))
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid job id")
		return
	}
	items, err := h.service.ListItems(r.Context(), jobID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]costItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toCostItemResponse(item))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid cost item id")
		return
	}
	var req updateItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	patch := UpdateItemInput{
		Description: req.Description,
		Quantity:    req.Quantity,
		UnitCost:    req.UnitCost,
		MarkupPct:   req.MarkupPct,
	}
	if req.Type != nil {
		t := ItemType(*req.Type)
		patch.Type = &t
	}
	item, err := h.service.UpdateItem(r.Context(), id, patch)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCostItemResponse(item))
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid cost item id")
		return
	}
	if err := h.service.DeleteItem(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
