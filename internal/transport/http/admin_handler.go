package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "github.com/phattra-dev/vidttool/internal/errors"
	"github.com/phattra-dev/vidttool/internal/license"
	"github.com/phattra-dev/vidttool/internal/store"
	v1 "github.com/phattra-dev/vidttool/pkg/contracts/api/v1"
	"github.com/phattra-dev/vidttool/pkg/contracts/domain"
)

const defaultLogLimit = 100

// AdminHandler serves the admin control surface. Every route behind it is
// gated by the admin-key middleware.
type AdminHandler struct {
	svc      *license.Service
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAdminHandler builds the admin handler.
func NewAdminHandler(svc *license.Service, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// CreateLicense handles POST /admin/licenses.
func (h *AdminHandler) CreateLicense(w http.ResponseWriter, r *http.Request) {
	var req v1.CreateLicenseRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.problem(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.problem(w, r, apierrors.ValidationFailedWithError(err))
		return
	}

	lic, err := h.svc.CreateLicense(r.Context(), license.CreateInput{
		Email:         req.Email,
		Name:          req.Name,
		LicenseType:   req.LicenseType,
		MaxMachines:   req.MaxMachines,
		DurationDays:  req.DurationDays,
		Notes:         req.Notes,
		CustomMessage: req.CustomMessage,
	})
	if err != nil {
		h.internalError(w, r, "create license", err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, lic)
}

// ListLicenses handles GET /admin/licenses.
func (h *AdminHandler) ListLicenses(w http.ResponseWriter, r *http.Request) {
	licenses, err := h.svc.ListLicenses(r.Context())
	if err != nil {
		h.internalError(w, r, "list licenses", err)
		return
	}
	render.JSON(w, r, v1.ListLicensesResponse{Licenses: licenses, Total: len(licenses)})
}

// GetLicense handles GET /admin/licenses/{key}.
func (h *AdminHandler) GetLicense(w http.ResponseWriter, r *http.Request) {
	lic, err := h.svc.GetLicense(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.renderStoreError(w, r, "get license", err)
		return
	}
	render.JSON(w, r, lic)
}

// UpdateLicense handles PUT /admin/licenses/{key}.
func (h *AdminHandler) UpdateLicense(w http.ResponseWriter, r *http.Request) {
	var req v1.UpdateLicenseRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.problem(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.problem(w, r, apierrors.ValidationFailedWithError(err))
		return
	}

	lic, err := h.svc.UpdateLicense(r.Context(), chi.URLParam(r, "key"), store.LicenseUpdate{
		Email:         req.Email,
		Name:          req.Name,
		LicenseType:   req.LicenseType,
		MaxMachines:   req.MaxMachines,
		Active:        req.Active,
		ExpiresAt:     req.ExpiresAt,
		Notes:         req.Notes,
		CustomMessage: req.CustomMessage,
	})
	if err != nil {
		h.renderStoreError(w, r, "update license", err)
		return
	}
	render.JSON(w, r, lic)
}

// DeleteLicense handles DELETE /admin/licenses/{key}.
func (h *AdminHandler) DeleteLicense(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteLicense(r.Context(), chi.URLParam(r, "key")); err != nil {
		h.renderStoreError(w, r, "delete license", err)
		return
	}
	render.NoContent(w, r)
}

// ToggleLicense handles POST /admin/licenses/{key}/toggle.
func (h *AdminHandler) ToggleLicense(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	active, err := h.svc.ToggleLicense(r.Context(), key)
	if err != nil {
		h.renderStoreError(w, r, "toggle license", err)
		return
	}
	render.JSON(w, r, v1.ToggleResponse{Key: key, Active: active})
}

// ResetLicense handles POST /admin/licenses/{key}/reset.
func (h *AdminHandler) ResetLicense(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ResetLicense(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.renderStoreError(w, r, "reset license", err)
		return
	}
	render.JSON(w, r, v1.CountResponse{Affected: n})
}

// BulkGenerate handles POST /admin/bulk/generate.
func (h *AdminHandler) BulkGenerate(w http.ResponseWriter, r *http.Request) {
	var req v1.BulkGenerateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.problem(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.problem(w, r, apierrors.ValidationFailedWithError(err))
		return
	}

	keys, err := h.svc.BulkGenerate(r.Context(), license.BulkInput{
		Count:        req.Count,
		BatchName:    req.BatchName,
		LicenseType:  req.LicenseType,
		MaxMachines:  req.MaxMachines,
		DurationDays: req.DurationDays,
	})
	if err != nil {
		h.internalError(w, r, "bulk generate", err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, v1.BulkGenerateResponse{Keys: keys})
}

// DisableExpired handles POST /admin/bulk/disable-expired.
func (h *AdminHandler) DisableExpired(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.DisableExpired(r.Context())
	if err != nil {
		h.internalError(w, r, "disable expired", err)
		return
	}
	render.JSON(w, r, v1.CountResponse{Affected: n})
}

// ListDevices handles GET /admin/devices.
func (h *AdminHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.svc.ListDevices(r.Context())
	if err != nil {
		h.internalError(w, r, "list devices", err)
		return
	}
	render.JSON(w, r, v1.ListDevicesResponse{Devices: devices, Total: len(devices)})
}

// GetDevice handles GET /admin/devices/{deviceID}.
func (h *AdminHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := h.svc.GetDevice(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		h.renderStoreError(w, r, "get device", err)
		return
	}
	render.JSON(w, r, dev)
}

// BanDevice handles POST /admin/devices/{deviceID}/ban.
func (h *AdminHandler) BanDevice(w http.ResponseWriter, r *http.Request) {
	var req v1.BanRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.problem(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	dev, err := h.svc.BanDevice(r.Context(), chi.URLParam(r, "deviceID"), req.Reason)
	if err != nil {
		h.internalError(w, r, "ban device", err)
		return
	}
	render.JSON(w, r, dev)
}

// UnbanDevice handles POST /admin/devices/{deviceID}/unban.
func (h *AdminHandler) UnbanDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := h.svc.UnbanDevice(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		h.internalError(w, r, "unban device", err)
		return
	}
	render.JSON(w, r, dev)
}

// SetDeviceStatus handles PUT /admin/devices/{deviceID}/status.
func (h *AdminHandler) SetDeviceStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
		Reason string `json:"reason,omitempty"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.problem(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	status := domain.DeviceStatus(req.Status)
	if !status.Valid() {
		h.problem(w, r, apierrors.NewWithDetails(http.StatusBadRequest,
			"INVALID_STATUS", "Unknown device status", req.Status))
		return
	}

	dev, err := h.svc.SetDeviceStatus(r.Context(), chi.URLParam(r, "deviceID"), status, req.Reason)
	if err != nil {
		h.internalError(w, r, "set device status", err)
		return
	}
	render.JSON(w, r, dev)
}

// ListActivations handles GET /admin/activations.
func (h *AdminHandler) ListActivations(w http.ResponseWriter, r *http.Request) {
	activations, err := h.svc.ListActivations(r.Context())
	if err != nil {
		h.internalError(w, r, "list activations", err)
		return
	}
	render.JSON(w, r, v1.ListActivationsResponse{Activations: activations, Total: len(activations)})
}

// ListLogs handles GET /admin/logs?limit=N.
func (h *AdminHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.problem(w, r, apierrors.NewWithDetails(http.StatusBadRequest,
				"INVALID_LIMIT", "limit must be a positive integer", raw))
			return
		}
		limit = n
	}

	logs, err := h.svc.ListLogs(r.Context(), limit)
	if err != nil {
		h.internalError(w, r, "list logs", err)
		return
	}
	render.JSON(w, r, v1.ListLogsResponse{Logs: logs, Total: len(logs)})
}

// Stats handles GET /admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Stats(r.Context())
	if err != nil {
		h.internalError(w, r, "stats", err)
		return
	}
	render.JSON(w, r, v1.StatsResponse{
		TotalLicenses:    snap.TotalLicenses,
		ActiveLicenses:   snap.ActiveLicenses,
		ExpiredLicenses:  snap.ExpiredLicenses,
		TotalActivations: snap.TotalActivations,
		BannedDevices:    snap.BannedDevices,
		LicenseTypes:     snap.LicenseTypes,
		GeneratedAt:      time.Now().UTC(),
	})
}

func (h *AdminHandler) renderStoreError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, store.ErrLicenseNotFound):
		h.problem(w, r, apierrors.ErrLicenseNotFound)
	case errors.Is(err, store.ErrDeviceNotFound):
		h.problem(w, r, apierrors.ErrDeviceNotFound)
	default:
		h.internalError(w, r, op, err)
	}
}

func (h *AdminHandler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.ErrorContext(r.Context(), op+" failed", "error", err)
	h.problem(w, r, apierrors.ErrInternalServer)
}

// problem renders e as RFC 7807 problem details. The whole admin surface
// reports errors this way; the public API keeps the flat APIError shape.
func (h *AdminHandler) problem(w http.ResponseWriter, r *http.Request, e *apierrors.APIError) {
	apierrors.RenderProblem(w, apierrors.Problem(e, r.URL.Path))
}
