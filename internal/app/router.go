package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/fieldledger/fieldledger/internal/invoice"
	"github.com/fieldledger/fieldledger/internal/job"
	"github.com/fieldledger/fieldledger/internal/ledger"
	"github.com/fieldledger/fieldledger/internal/supplierbill"
	"github.com/fieldledger/fieldledger/internal/timesheet"
	"github.com/fieldledger/fieldledger/internal/variation"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	LedgerHandler       *ledger.Handler
	TimesheetHandler    *timesheet.Handler
	SupplierBillHandler *supplierbill.Handler
	VariationHandler    *variation.Handler
	InvoiceHandler      *invoice.Handler
	JobHandler          *job.Handler
}

// NewRouter constructs the chi.Router with FieldLedger defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Group(func(r chi.Router) {
		params.LedgerHandler.MountRoutes(r)
		params.TimesheetHandler.MountRoutes(r)
		params.SupplierBillHandler.MountRoutes(r)
		params.VariationHandler.MountRoutes(r)
		params.InvoiceHandler.MountRoutes(r)
		params.JobHandler.MountRoutes(r)
	})

	// Token-addressed client decision links sit outside the actor headers
	// and get their own rate limit.
	publicLimit := 20
	if params.Config != nil && params.Config.PublicRateLimitPerMinute > 0 {
		publicLimit = params.Config.PublicRateLimitPerMinute
	}
	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(publicLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		params.VariationHandler.MountPublicRoutes(r)
	})

	return r
}
