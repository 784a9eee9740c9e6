package delivery

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atlas-wms/atlas-wms/internal/allocation"
	"github.com/atlas-wms/atlas-wms/internal/platform/httpx"
	"github.com/atlas-wms/atlas-wms/internal/shared"
)

// Handler wires HTTP endpoints for goods deliveries.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the delivery handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers goods delivery routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/bulk-cancel", h.bulkCancel)
	r.Get("/{id}", h.get)
	r.Put("/{id}/lines/{lineID}/quantity", h.setLineQuantity)
	r.Post("/{id}/complete", h.complete)
	r.Post("/{id}/cancel", h.cancel)
}

type manualEntryPayload struct {
	LocationID   int64   `json:"location_id" validate:"required,gt=0"`
	BatchID      string  `json:"batch_id" validate:"max=64"`
	SerialNumber string  `json:"serial_number" validate:"max=64"`
	Qty          float64 `json:"quantity" validate:"gte=0"`
}

type createLinePayload struct {
	MaterialID int64                `json:"material_id" validate:"required,gt=0"`
	Qty        float64              `json:"gd_quantity" validate:"required,gt=0"`
	UOMID      string               `json:"uom_id" validate:"max=32"`
	Entries    []manualEntryPayload `json:"entries" validate:"dive"`
}

type createPayload struct {
	CustomerID     int64               `json:"customer_id" validate:"required,gt=0"`
	PlantID        int64               `json:"plant_id" validate:"required,gt=0"`
	OrganizationID int64               `json:"organization_id" validate:"required,gt=0"`
	DeliveryDate   time.Time           `json:"delivery_date"`
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
	if payload.DeliveryDate.IsZero() {
		payload.DeliveryDate = time.Now()
	}
	input := CreateInput{
		CustomerID:     payload.CustomerID,
		PlantID:        payload.PlantID,
		OrganizationID: payload.OrganizationID,
		DeliveryDate:   payload.DeliveryDate,
		Note:           payload.Note,
		ActorID:        shared.ActorFromContext(r.Context()),
	}
	for _, line := range payload.Lines {
		in := CreateLineInput{MaterialID: line.MaterialID, Qty: line.Qty, UOMID: line.UOMID}
		for _, entry := range line.Entries {
			in.Entries = append(in.Entries, ManualEntryInput(entry))
		}
		input.Lines = append(input.Lines, in)
	}
	gd, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, err, "create goods delivery")
		return
	}
	h.logger.Info("goods delivery created", slog.Int64("id", gd.ID), slog.String("number", gd.Number))
	httpx.JSON(w, http.StatusCreated, gd)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid delivery id")
		return
	}
	gd, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get goods delivery")
		return
	}
	httpx.JSON(w, http.StatusOK, gd)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	deliveries, total, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list goods deliveries", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "failed to list goods deliveries")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"goods_deliveries": deliveries, "total": total})
}

type setQuantityPayload struct {
	Qty float64 `json:"qty" validate:"required,gt=0"`
}

func (h *Handler) setLineQuantity(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid delivery id")
		return
	}
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid line id")
		return
	}
	var payload setQuantityPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	line, err := h.service.SetLineQuantity(r.Context(), id, lineID, payload.Qty, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err, "set delivery line quantity")
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid delivery id")
		return
	}
	gd, err := h.service.Complete(r.Context(), CompleteInput{
		DeliveryID:     id,
		ActorID:        shared.ActorFromContext(r.Context()),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.respondError(w, err, "complete goods delivery")
		return
	}
	httpx.JSON(w, http.StatusOK, gd)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid delivery id")
		return
	}
	report, err := h.service.Cancel(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err, "cancel goods delivery")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cancelled": true, "report": report})
}

type bulkCancelPayload struct {
	IDs []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
}

func (h *Handler) bulkCancel(w http.ResponseWriter, r *http.Request) {
	var payload bulkCancelPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	results := h.service.BulkCancel(r.Context(), payload.IDs, shared.ActorFromContext(r.Context()))
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	status := http.StatusOK
	if failed > 0 {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, map[string]any{"results": results, "failed": failed})
}

func (h *Handler) respondError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, ErrDeliveryNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "goods delivery not found")
	case errors.Is(err, ErrWorkflowRejected):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Workflow Rejected", err.Error())
	case errors.Is(err, ErrStatusTransition):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", "this completion was already processed")
	case errors.Is(err, allocation.ErrExceedsAllocated), errors.Is(err, allocation.ErrNegativeQuantity):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "unexpected error")
	}
}
