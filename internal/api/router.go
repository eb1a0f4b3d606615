package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/SpeedyCraftah/go-chat-app/internal/api/middleware"
	"github.com/SpeedyCraftah/go-chat-app/internal/gateway"
	"github.com/SpeedyCraftah/go-chat-app/internal/handlers"
	"github.com/SpeedyCraftah/go-chat-app/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, auth *middleware.AuthMiddleware, gw *gateway.Gateway, redisStore *store.RedisStore) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting needs Redis; without it requests pass unmetered.
	if redisStore != nil {
		limiter := middleware.NewRateLimiter(redisStore, logger)
		r.Use(limiter.Middleware)
	}

	// CORS - the web client runs on a separate origin in development
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Session"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/health", h.Health)
	r.Post("/api/login", h.Login)
	r.Post("/api/register", h.Register)
	r.Get("/api/gateway", gw.HandleWS)
	r.Get("/cdn/attachments/{resource_id}/{id}/{name}", h.ServeAttachment)

	// Authenticated routes (require session header)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireSession)

		r.Post("/api/logout", h.Logout)

		r.Get("/api/users/{user_id}", h.GetUser)
		r.Post("/api/users/search", h.SearchUsers)
		r.Post("/api/users/{user_id}/dms/create", h.CreateDM)

		r.Get("/api/dms", h.ListOpenChannels)
		r.Get("/api/dms/{channel_id}", h.GetChannel)
		r.Post("/api/dms/{channel_id}/messages", h.SendMessage)
		r.Post("/api/dms/{channel_id}/messages/fetch", h.FetchMessages)

		r.Post("/api/dev/channel/{channel_id}/delete_all_messages", h.DeleteAllMessages)
	})

	return r
}
