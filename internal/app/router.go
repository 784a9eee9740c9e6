package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/atlas-wms/atlas-wms/internal/auth"
	"github.com/atlas-wms/atlas-wms/internal/balance"
	"github.com/atlas-wms/atlas-wms/internal/delivery"
	"github.com/atlas-wms/atlas-wms/internal/masterdata/items"
	"github.com/atlas-wms/atlas-wms/internal/masterdata/plants"
	"github.com/atlas-wms/atlas-wms/internal/observability"
	"github.com/atlas-wms/atlas-wms/internal/picking"
	"github.com/atlas-wms/atlas-wms/internal/procurement"
	"github.com/atlas-wms/atlas-wms/internal/receiving"
	"github.com/atlas-wms/atlas-wms/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	AuthService        *auth.Service
	ItemsHandler       *items.Handler
	PlantsHandler      *plants.Handler
	BalanceHandler     *balance.Handler
	ProcurementHandler *procurement.Handler
	ReceivingHandler   *receiving.Handler
	DeliveryHandler    *delivery.Handler
	PickingHandler     *picking.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(params.AuthService, params.Logger))

		r.Route("/items", params.ItemsHandler.MountRoutes)
		r.Route("/plants", params.PlantsHandler.MountRoutes)
		r.Route("/balances", params.BalanceHandler.MountRoutes)
		r.Route("/procurement", params.ProcurementHandler.MountRoutes)
		r.Route("/goods-receipts", params.ReceivingHandler.MountRoutes)
		r.Route("/goods-deliveries", params.DeliveryHandler.MountRoutes)
		r.Route("/transfer-orders", params.PickingHandler.MountRoutes)
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
