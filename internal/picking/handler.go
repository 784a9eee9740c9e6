package picking

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atlas-wms/atlas-wms/internal/allocation"
	"github.com/atlas-wms/atlas-wms/internal/platform/httpx"
	"github.com/atlas-wms/atlas-wms/internal/shared"
)

// Handler wires HTTP endpoints for transfer orders.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the picking handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers transfer order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}/lines/{lineID}/picked", h.setPickedQuantity)
	r.Post("/{id}/complete", h.complete)
	r.Post("/{id}/cancel", h.cancel)
}

type createLinePayload struct {
	MaterialID int64   `json:"material_id" validate:"required,gt=0"`
	Qty        float64 `json:"qty" validate:"required,gt=0"`
	UOMID      string  `json:"uom_id" validate:"max=32"`
}

type createPayload struct {
	PlantID        int64               `json:"plant_id" validate:"required,gt=0"`
	OrganizationID int64               `json:"organization_id" validate:"required,gt=0"`
	DestLocationID int64               `json:"dest_location_id" validate:"required,gt=0"`
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
	input := CreateInput{
		PlantID:        payload.PlantID,
		OrganizationID: payload.OrganizationID,
		DestLocationID: payload.DestLocationID,
		Note:           payload.Note,
		ActorID:        shared.ActorFromContext(r.Context()),
	}
	for _, line := range payload.Lines {
		input.Lines = append(input.Lines, CreateLineInput(line))
	}
	to, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, err, "create transfer order")
		return
	}
	h.logger.Info("transfer order created", slog.Int64("id", to.ID), slog.String("number", to.Number))
	httpx.JSON(w, http.StatusCreated, to)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	to, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get transfer order")
		return
	}
	httpx.JSON(w, http.StatusOK, to)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	orders, total, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list transfer orders", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "failed to list transfer orders")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transfer_orders": orders, "total": total})
}

type pickedPayload struct {
	Qty float64 `json:"qty" validate:"gte=0"`
}

func (h *Handler) setPickedQuantity(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid line id")
		return
	}
	var payload pickedPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	line, err := h.service.SetPickedQuantity(r.Context(), id, lineID, payload.Qty, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err, "set picked quantity")
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

type completePayload struct {
	Force bool `json:"force"`
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	var payload completePayload
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &payload); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
	}
	to, err := h.service.Complete(r.Context(), CompleteInput{
		OrderID: id,
		ActorID: shared.ActorFromContext(r.Context()),
		Force:   payload.Force,
	})
	if err != nil {
		h.respondError(w, err, "complete transfer order")
		return
	}
	httpx.JSON(w, http.StatusOK, to)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	if err := h.service.Cancel(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.respondError(w, err, "cancel transfer order")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

func (h *Handler) respondError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "transfer order not found")
	case errors.Is(err, ErrForceCompleteConfirm):
		// 406-coded workflow pause: the client retries with force set.
		httpx.Problem(w, http.StatusConflict, "Confirmation Required", err.Error())
	case errors.Is(err, ErrWorkflowRejected):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Workflow Rejected", err.Error())
	case errors.Is(err, ErrStatusTransition):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, allocation.ErrExceedsAllocated), errors.Is(err, allocation.ErrNegativeQuantity):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "unexpected error")
	}
}
