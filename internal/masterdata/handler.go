package masterdata

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mise-kitchen/mise-kitchen/internal/platform/httpx"
	"github.com/mise-kitchen/mise-kitchen/internal/shared"
)

// Handler manages master data endpoints.
type Handler struct {
	logger   *slog.Logger
	service  Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers master data routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/locations", h.listLocations)
	r.Get("/locations/{locationID}", h.showLocation)
	r.Get("/locations/{locationID}/batches", h.listBatches)
	r.Post("/locations/{locationID}/batches", h.registerBatch)
	r.Post("/locations/{locationID}/external-items", h.registerExternalItem)
	r.Get("/staff", h.listStaff)
	r.Get("/customers", h.listCustomers)
}

func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.service.ListLocations(r.Context())
	if err != nil {
		h.logger.Error("list locations", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"locations": locations})
}

func (h *Handler) showLocation(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "locationID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid location id")
		return
	}
	location, err := h.service.GetLocation(r.Context(), id)
	if err != nil {
		if !errors.Is(err, httpx.ErrNotFound) {
			h.logger.Error("get location", slog.Int64("location_id", id), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, location)
}

func (h *Handler) listStaff(w http.ResponseWriter, r *http.Request) {
	filters := listFiltersFromQuery(r)
	staff, total, err := h.service.ListStaff(r.Context(), filters)
	if err != nil {
		h.logger.Error("list staff", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{
		"staff":      staff,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	filters := listFiltersFromQuery(r)
	customers, total, err := h.service.ListCustomers(r.Context(), filters)
	if err != nil {
		h.logger.Error("list customers", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{
		"customers":  customers,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func listFiltersFromQuery(r *http.Request) ListFilters {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return ListFilters{Page: page, Limit: limit, Search: q.Get("q")}
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	locationID, err := parseID(r, "locationID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid location id")
		return
	}
	batches, err := h.service.ListBatches(r.Context(), locationID)
	if err != nil {
		h.logger.Error("list batches", slog.Int64("location_id", locationID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"batches": batches})
}

type registerBatchRequest struct {
	ProductName    string     `json:"product_name" validate:"required"`
	BatchNumber    string     `json:"batch_number" validate:"required"`
	Quantity       int64      `json:"quantity" validate:"required,gt=0"`
	ProductionDate time.Time  `json:"production_date" validate:"required"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty"`
}

func (h *Handler) registerBatch(w http.ResponseWriter, r *http.Request) {
	locationID, err := parseID(r, "locationID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid location id")
		return
	}
	var req registerBatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	batch, err := h.service.RegisterBatch(r.Context(), Batch{
		LocationID:     locationID,
		ProductName:    req.ProductName,
		BatchNumber:    req.BatchNumber,
		Quantity:       req.Quantity,
		ProductionDate: req.ProductionDate,
		ExpiryDate:     req.ExpiryDate,
	})
	if err != nil {
		// A store outage must not present as a client mistake.
		if !errors.Is(err, httpx.ErrValidation) && !errors.Is(err, httpx.ErrConflict) {
			h.logger.Error("register batch", slog.Int64("location_id", locationID), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("batch registered",
		slog.Int64("location_id", locationID),
		slog.Int64("batch_id", batch.ID),
		slog.String("batch_number", batch.BatchNumber))
	httpx.JSON(w, http.StatusCreated, batch)
}

type registerExternalItemRequest struct {
	ProductName string `json:"product_name" validate:"required"`
	Supplier    string `json:"supplier" validate:"required"`
}

func (h *Handler) registerExternalItem(w http.ResponseWriter, r *http.Request) {
	locationID, err := parseID(r, "locationID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid location id")
		return
	}
	var req registerExternalItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	item, err := h.service.RegisterExternalItem(r.Context(), ExternalItem{
		LocationID:  locationID,
		ProductName: req.ProductName,
		Supplier:    req.Supplier,
	})
	if err != nil {
		if !errors.Is(err, httpx.ErrValidation) {
			h.logger.Error("register external item", slog.Int64("location_id", locationID), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func parseID(r *http.Request, param string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, param), 10, 64)
}
