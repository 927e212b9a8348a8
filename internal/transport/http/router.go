package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phattra-dev/vidttool/internal/config"
	"github.com/phattra-dev/vidttool/internal/license"
	"github.com/phattra-dev/vidttool/internal/middleware"
	"github.com/phattra-dev/vidttool/internal/websocket"
)

// NewRouter wires the full HTTP surface: public validation endpoints, the
// admin control surface, the realtime channel and the operational endpoints.
func NewRouter(cfg *config.Config, svc *license.Service, hub *websocket.Hub, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredLogger(logger))
	r.Use(middleware.Recoverer(logger))

	licenseHandler := NewLicenseHandler(svc, logger)
	adminHandler := NewAdminHandler(svc, logger)

	r.Route("/api", func(r chi.Router) {
		if cfg.Security.RateLimit.Enabled {
			r.Use(middleware.RateLimiter(cfg.Security.RateLimit.RPS, cfg.Security.RateLimit.Burst))
		}
		r.Post("/validate", licenseHandler.Validate)
		r.Post("/deactivate", licenseHandler.Deactivate)
		r.Get("/status/{deviceID}", licenseHandler.Status)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AdminAuth(cfg.Security.AdminKey))

		r.Route("/licenses", func(r chi.Router) {
			r.Get("/", adminHandler.ListLicenses)
			r.Post("/", adminHandler.CreateLicense)
			r.Get("/{key}", adminHandler.GetLicense)
			r.Put("/{key}", adminHandler.UpdateLicense)
			r.Delete("/{key}", adminHandler.DeleteLicense)
			r.Post("/{key}/toggle", adminHandler.ToggleLicense)
			r.Post("/{key}/reset", adminHandler.ResetLicense)
		})

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", adminHandler.ListDevices)
			r.Get("/{deviceID}", adminHandler.GetDevice)
			r.Post("/{deviceID}/ban", adminHandler.BanDevice)
			r.Post("/{deviceID}/unban", adminHandler.UnbanDevice)
			r.Put("/{deviceID}/status", adminHandler.SetDeviceStatus)
		})

		r.Route("/bulk", func(r chi.Router) {
			r.Post("/generate", adminHandler.BulkGenerate)
			r.Post("/disable-expired", adminHandler.DisableExpired)
		})

		r.Get("/activations", adminHandler.ListActivations)
		r.Get("/logs", adminHandler.ListLogs)
		r.Get("/stats", adminHandler.Stats)
	})

	if hub != nil {
		r.Get("/ws", hub.ServeWS)
	}

	r.Get("/healthz", healthz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func healthz(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}
