package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mlsrelay/internal/authz"
	"mlsrelay/internal/config"
	obsmw "mlsrelay/internal/observability/middleware"
	"mlsrelay/internal/service"
)

func NewRouter(svc *service.Service, cfg config.Config) http.Handler {
	h := NewHandler(svc)
	validator := authz.NewHMACValidator(cfg.SigningKey, cfg.Issuer)

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(obsmw.WithRequestAndTrace)
	r.Use(obsmw.WithMetrics)
	r.Use(httprate.LimitByIP(cfg.RateLimit, cfg.RatePeriod))

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id", authz.DeviceHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(validator.Middleware)

		r.Post("/key-package", h.publishKeyPackage)
		r.Post("/key-packages", h.publishKeyPackages)
		r.Get("/key-packages/count", h.keyPackageCount)
		r.Get("/key-package/{userID}", h.fetchKeyPackage)

		r.Get("/messages/welcome", h.pendingWelcomes)
		r.Post("/messages/welcome", h.sendWelcome)
		r.Post("/messages/group", h.sendGroupMessage)
		r.Get("/messages/group/{groupID}", h.fetchGroupMessages)

		r.Get("/queue/pending", h.queuePending)
		r.Post("/queue/ack", h.queueAck)

		r.Post("/groups", h.createGroup)
		r.Post("/groups/{groupID}/members/sync", h.syncMembers)
		r.Post("/groups/{groupID}/group-info", h.publishGroupInfo)
		r.Get("/groups/{groupID}/group-info", h.getGroupInfo)

		r.Post("/direct-messages/{userID}", h.directMessage)
		r.Post("/direct-messages/{userID}/rehydrate", h.rehydrateDirectMessages)

		r.Delete("/devices/{deviceID}", h.revokeDevice)
	})

	return r
}
