package receiving

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

// Handler wires HTTP endpoints for goods receipts.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the receiving handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers goods receipt routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}/lines/{lineID}/quantity", h.setLineQuantity)
	r.Post("/{id}/complete", h.complete)
	r.Post("/{id}/cancel", h.cancel)
}

type createLinePayload struct {
	POLineID int64   `json:"po_line_id" validate:"required,gt=0"`
	Qty      float64 `json:"qty" validate:"required,gt=0"`
	UOMID    string  `json:"uom_id" validate:"max=32"`
	BatchID  string  `json:"batch_id" validate:"max=64"`
}

type createPayload struct {
	POID         int64               `json:"po_id" validate:"required,gt=0"`
	ReceivedDate time.Time           `json:"received_date"`
	Note         string              `json:"note" validate:"max=500"`
	Lines        []createLinePayload `json:"lines" validate:"required,min=1,dive"`
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
	if payload.ReceivedDate.IsZero() {
		payload.ReceivedDate = time.Now()
	}
	input := CreateInput{
		POID:         payload.POID,
		ReceivedDate: payload.ReceivedDate,
		Note:         payload.Note,
		ActorID:      shared.ActorFromContext(r.Context()),
	}
	for _, line := range payload.Lines {
		input.Lines = append(input.Lines, CreateLineInput(line))
	}
	gr, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, err, "create goods receipt")
		return
	}
	h.logger.Info("goods receipt created", slog.Int64("id", gr.ID), slog.String("number", gr.Number))
	httpx.JSON(w, http.StatusCreated, gr)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid receipt id")
		return
	}
	gr, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get goods receipt")
		return
	}
	httpx.JSON(w, http.StatusOK, gr)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	poID, _ := strconv.ParseInt(q.Get("po_id"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	receipts, total, err := h.service.List(r.Context(), poID, limit, offset)
	if err != nil {
		h.logger.Error("list goods receipts", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "failed to list goods receipts")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"goods_receipts": receipts, "total": total})
}

type setQuantityPayload struct {
	Qty float64 `json:"qty" validate:"required,gt=0"`
}

func (h *Handler) setLineQuantity(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid receipt id")
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
		h.respondError(w, err, "set receipt line quantity")
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

type completePayload struct {
	ConfirmZeroQty bool `json:"confirm_zero_quantity"`
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid receipt id")
		return
	}
	var payload completePayload
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &payload); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
	}
	gr, err := h.service.Complete(r.Context(), CompleteInput{
		ReceiptID:      id,
		ActorID:        shared.ActorFromContext(r.Context()),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		ConfirmZeroQty: payload.ConfirmZeroQty,
	})
	if err != nil {
		h.respondError(w, err, "complete goods receipt")
		return
	}
	httpx.JSON(w, http.StatusOK, gr)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid receipt id")
		return
	}
	report, err := h.service.Cancel(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err, "cancel goods receipt")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cancelled": true, "report": report})
}

func (h *Handler) respondError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, ErrReceiptNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "goods receipt not found")
	case errors.Is(err, ErrZeroQuantityConfirm):
		// 401-coded workflow pause: the client retries with the flag set.
		httpx.Problem(w, http.StatusConflict, "Confirmation Required", err.Error())
	case errors.Is(err, ErrWorkflowRejected):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Workflow Rejected", err.Error())
	case errors.Is(err, ErrStatusTransition):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", "this completion was already processed")
	case errors.Is(err, allocation.ErrNoBin):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "unexpected error")
	}
}
