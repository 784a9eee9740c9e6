package procurement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atlas-wms/atlas-wms/internal/platform/httpx"
	"github.com/atlas-wms/atlas-wms/internal/shared"
)

// Handler wires HTTP endpoints for purchase orders.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/purchase-orders", h.list)
	r.Post("/purchase-orders", h.create)
	r.Get("/purchase-orders/{id}", h.get)
	r.Post("/purchase-orders/{id}/cancel", h.cancel)
}

type createLinePayload struct {
	MaterialID int64   `json:"material_id" validate:"required,gt=0"`
	Qty        float64 `json:"qty" validate:"required,gt=0"`
	UOMID      string  `json:"uom_id" validate:"max=32"`
	Price      float64 `json:"price" validate:"gte=0"`
	Note       string  `json:"note" validate:"max=500"`
}

type createPayload struct {
	Number         string              `json:"number" validate:"max=40"`
	SupplierID     int64               `json:"supplier_id" validate:"required,gt=0"`
	PlantID        int64               `json:"plant_id" validate:"required,gt=0"`
	OrganizationID int64               `json:"organization_id" validate:"required,gt=0"`
	ExpectedDate   string              `json:"expected_date" validate:"omitempty,datetime=2006-01-02"`
	Note           string              `json:"note" validate:"max=500"`
	Lines          []createLinePayload `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var payload createPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	input := CreatePOInput{
		Number:         strings.TrimSpace(payload.Number),
		SupplierID:     payload.SupplierID,
		PlantID:        payload.PlantID,
		OrganizationID: payload.OrganizationID,
		Note:           payload.Note,
		ActorID:        shared.ActorFromContext(r.Context()),
	}
	if payload.ExpectedDate != "" {
		expected, err := time.Parse("2006-01-02", payload.ExpectedDate)
		if err != nil {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", "expected_date must be YYYY-MM-DD")
			return
		}
		input.ExpectedDate = expected
	}
	for _, line := range payload.Lines {
		input.Lines = append(input.Lines, CreatePOLineInput(line))
	}
	po, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, err, "create purchase order")
		return
	}
	h.logger.Info("purchase order created", slog.Int64("id", po.ID), slog.String("number", po.Number))
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	po, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get purchase order")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase_order": po, "lines": lines})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	orders, total, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list purchase orders", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "failed to list purchase orders")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase_orders": orders, "total": total})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	if err := h.service.Cancel(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.respondError(w, err, "cancel purchase order")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

func (h *Handler) respondError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, ErrPONotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "purchase order not found")
	case errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "unexpected error")
	}
}
