package supplierbill

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fieldledger/fieldledger/internal/platform/httpx"
	"github.com/fieldledger/fieldledger/internal/shared"
)

// Handler manages supplier bill endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers supplier bill routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/supplier-bills/{id}", h.getBill)
	r.Post("/supplier-bills/{id}/post", h.postBill)
}

type billResponse struct {
	ID         int64  `json:"id"`
	SupplierID int64  `json:"supplierId"`
	JobID      int64  `json:"jobId"`
	Reference  string `json:"reference"`
	Status     string `json:"status"`
}

func toBillResponse(b Bill) billResponse {
	return billResponse{
		ID:         b.ID,
		SupplierID: b.SupplierID,
		JobID:      b.JobID,
		Reference:  b.Reference,
		Status:     string(b.Status),
	}
}

func (h *Handler) getBill(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid bill id")
		return
	}
	bill, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBillResponse(bill))
}

func (h *Handler) postBill(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid bill id")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	bill, err := h.service.Post(r.Context(), id, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBillResponse(bill))
}
