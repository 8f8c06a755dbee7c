package dispatch

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mise-kitchen/mise-kitchen/internal/catalog"
	"github.com/mise-kitchen/mise-kitchen/internal/platform/httpx"
	"github.com/mise-kitchen/mise-kitchen/internal/selection"
	"github.com/mise-kitchen/mise-kitchen/internal/shared"
)

// Handler wires HTTP endpoints for dispatch creation and pick confirmation.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	catalog  selection.Catalog
	validate *validator.Validate
}

// NewHandler constructs dispatch handler.
func NewHandler(logger *slog.Logger, service *Service, cat selection.Catalog) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		catalog:  cat,
		validate: validator.New(),
	}
}

// MountRoutes registers dispatch routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/dispatches", h.handleCreate)
	r.Get("/dispatches/{id}", h.handleShow)
	r.Get("/dispatches/{id}/packing-slip", h.handlePackingSlip)
	r.Post("/dispatches/{id}/confirm", h.handleConfirm)
	r.Post("/dispatches/{id}/cancel", h.handleCancel)
	r.Get("/locations/{locationID}/pending-picks", h.handlePendingPicks)
}

type createDispatchLineReq struct {
	ItemID   int64 `json:"item_id" validate:"required,gt=0"`
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}

type createDispatchRequest struct {
	Type        string                  `json:"type" validate:"required,oneof=EXTERNAL INTERNAL"`
	LocationID  int64                   `json:"location_id" validate:"required,gt=0"`
	StaffName   string                  `json:"staff_name" validate:"required,max=200"`
	CustomerID  *int64                  `json:"customer_id,omitempty" validate:"omitempty,gt=0"`
	Destination string                  `json:"destination,omitempty" validate:"omitempty,max=300"`
	PickedUpBy  string                  `json:"picked_up_by,omitempty" validate:"omitempty,max=200"`
	RequestID   string                  `json:"request_id,omitempty" validate:"omitempty,uuid4"`
	Lines       []createDispatchLineReq `json:"lines" validate:"required,min=1,dive"`
}

type confirmPickRequest struct {
	ConfirmedBy string `json:"confirmed_by" validate:"required,max=200"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createDispatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	// Rebuild the working selection against live availability so
	// selection-time errors (unknown or expired items) surface before the
	// commit is attempted.
	set := selection.NewSet(req.LocationID)
	for _, line := range req.Lines {
		if err := set.SetQuantity(r.Context(), h.catalog, line.ItemID, line.Quantity); err != nil {
			h.respondError(w, r, err)
			return
		}
	}

	meta := Metadata{
		Type:        Type(req.Type),
		LocationID:  req.LocationID,
		StaffName:   req.StaffName,
		CustomerID:  req.CustomerID,
		Destination: req.Destination,
		PickedUpBy:  req.PickedUpBy,
		RequestID:   req.RequestID,
	}
	result, err := h.service.CreateDispatch(r.Context(), set, meta)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.logger.Info("dispatch created",
		slog.Int64("dispatch_id", result.DispatchID),
		slog.String("type", req.Type),
		slog.Int64("location_id", req.LocationID))
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleShow(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.GetDispatch(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handlePackingSlip(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	slip, err := h.service.GetPackingSlip(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, slip)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req confirmPickRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.ConfirmPick(r.Context(), id, req.ConfirmedBy); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"state": string(StateConfirmed)})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.CancelPick(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"state": string(StateCancelled)})
}

func (h *Handler) handlePendingPicks(w http.ResponseWriter, r *http.Request) {
	locationID, err := strconv.ParseInt(chi.URLParam(r, "locationID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid location id")
		return
	}
	records, err := h.service.ListPendingPicks(r.Context(), locationID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"pending_picks": records})
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid dispatch id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var storeErr *StoreError
	switch {
	case errors.Is(err, catalog.ErrItemNotFound), errors.Is(err, ErrDispatchNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, selection.ErrExpiredItem):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Expired Item", err.Error())
	case errors.Is(err, ErrInsufficientQuantity):
		httpx.Problem(w, http.StatusConflict, "Insufficient Quantity", err.Error())
	case errors.Is(err, ErrAlreadyFinalized):
		httpx.Problem(w, http.StatusConflict, "Already Finalized", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrEmptySelection):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrSlipNumberExhausted):
		httpx.Problem(w, http.StatusServiceUnavailable, "Slip Numbers Exhausted", err.Error())
	case errors.As(err, &storeErr):
		h.logger.Error("dispatch store failure", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Temporarily Unavailable", "backing store failure, retry the request")
	default:
		h.logger.Error("dispatch handler", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
