// Package http contains the chi handlers for the public validation surface
// and the admin control surface.
package http

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "github.com/phattra-dev/vidttool/internal/errors"
	"github.com/phattra-dev/vidttool/internal/license"
	v1 "github.com/phattra-dev/vidttool/pkg/contracts/api/v1"
)

// LicenseHandler serves the public endpoints consumed by the desktop client.
type LicenseHandler struct {
	svc      *license.Service
	validate *validator.Validate
	logger   *slog.Logger
}

// NewLicenseHandler builds the public API handler.
func NewLicenseHandler(svc *license.Service, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Validate handles POST /api/validate. Every resolved decision is a 200;
// clients branch on the status field, never on the HTTP code.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req v1.ValidateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		render.Render(w, r, apierrors.ValidationFailedWithError(err))
		return
	}

	res, err := h.svc.Validate(r.Context(), license.ValidateInput{
		LicenseKey:         req.LicenseKey,
		MachineFingerprint: req.MachineFingerprint,
		DeviceID:           req.DeviceID,
		IP:                 clientIP(r),
		AppVersion:         req.AppVersion,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "validate failed", "error", err)
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}

	resp := v1.ValidateResponse{
		Status:    res.Decision,
		Message:   res.Message,
		BanReason: res.BanReason,
		CheckedAt: res.CheckedAt,
	}
	if res.License != nil {
		resp.LicenseType = res.License.LicenseType
		resp.ExpiresAt = res.License.ExpiresAt
		resp.MaxMachines = res.License.MaxMachines
	}
	render.JSON(w, r, resp)
}

// Deactivate handles POST /api/deactivate.
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req v1.DeactivateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		render.Render(w, r, apierrors.ValidationFailedWithError(err))
		return
	}

	released, err := h.svc.Deactivate(r.Context(), req.LicenseKey, req.MachineFingerprint, clientIP(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "deactivate failed", "error", err)
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}
	render.JSON(w, r, v1.DeactivateResponse{Released: released})
}

// Status handles GET /api/status/{deviceID}, the poller endpoint.
func (h *LicenseHandler) Status(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	if deviceID == "" {
		render.Render(w, r, apierrors.ErrInvalidRequest)
		return
	}

	dev, checkedAt, err := h.svc.PollStatus(r.Context(), deviceID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "status poll failed", "error", err)
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}
	render.JSON(w, r, v1.StatusResponse{
		DeviceID:  dev.DeviceID,
		Status:    dev.Status,
		BanReason: dev.BanReason,
		CheckedAt: checkedAt,
	})
}

// clientIP resolves the caller address, preferring the first X-Forwarded-For
// hop when the service runs behind a proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
