package timesheet

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fieldledger/fieldledger/internal/platform/httpx"
	"github.com/fieldledger/fieldledger/internal/shared"
)

// Handler manages timesheet endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers timesheet routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/timesheets/{id}", h.getTimesheet)
	r.Post("/timesheets/{id}/approve", h.approve)
}

type timesheetResponse struct {
	ID         int64  `json:"id"`
	EngineerID int64  `json:"engineerId"`
	WeekStart  string `json:"weekStart"`
	Status     string `json:"status"`
	ApprovedBy *int64 `json:"approvedBy,omitempty"`
}

func toTimesheetResponse(ts Timesheet) timesheetResponse {
	return timesheetResponse{
		ID:         ts.ID,
		EngineerID: ts.EngineerID,
		WeekStart:  ts.WeekStart.Format("2006-01-02"),
		Status:     string(ts.Status),
		ApprovedBy: ts.ApprovedBy,
	}
}

func (h *Handler) getTimesheet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid timesheet id")
		return
	}
	ts, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTimesheetResponse(ts))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid timesheet id")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	ts, err := h.service.Approve(r.Context(), id, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTimesheetResponse(ts))
}
