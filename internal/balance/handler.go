package balance

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/atlas-wms/atlas-wms/internal/platform/httpx"
)

// Handler exposes read-only balance lookups.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the balance handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers balance query routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.find)
}

func (h *Handler) find(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		MaterialID:     parseID(q.Get("material_id")),
		PlantID:        parseID(q.Get("plant_id")),
		OrganizationID: parseID(q.Get("organization_id")),
		LocationID:     parseID(q.Get("location_id")),
		BatchID:        q.Get("batch_id"),
		SerialNumber:   q.Get("serial_number"),
	}
	switch shape := q.Get("shape"); shape {
	case "", string(ShapePlain), string(ShapeBatch), string(ShapeSerial):
		filter.Shape = Shape(shape)
	default:
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "unknown balance shape")
		return
	}
	if filter.MaterialID <= 0 || filter.PlantID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "material_id and plant_id are required")
		return
	}
	records, err := h.service.Find(r.Context(), filter)
	if err != nil {
		h.logger.Error("find balances", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "failed to query balances")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"balances": records, "total": len(records)})
}

func parseID(raw string) int64 {
	id, _ := strconv.ParseInt(raw, 10, 64)
	return id
}
