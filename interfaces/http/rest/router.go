// Package rest exposes the HTTP surface: health, metrics, the WebSocket
// upgrade and the read-mostly mind map API.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"thinknet-backend/interfaces/http/rest/handlers"
	"thinknet-backend/internal/config"
	"thinknet-backend/internal/infrastructure/observability"
	"thinknet-backend/internal/middleware"
	"thinknet-backend/pkg/api"
)

// RoomStats reports live room and session counts for the health check.
type RoomStats interface {
	RoomCount() int
	SessionCount() int
}

// Router creates and configures the HTTP router
type Router struct {
	cfg           *config.Config
	mindmaps      handlers.MindmapService
	rooms         RoomStats
	websocket     http.HandlerFunc
	authenticator middleware.Authenticator
	metrics       *observability.Collector
	tracer        trace.Tracer
	logger        *zap.Logger
}

// NewRouter creates a new router instance. websocket may be nil for
// processes that cannot hold connections, such as the Lambda handler.
func NewRouter(
	cfg *config.Config,
	mindmaps handlers.MindmapService,
	rooms RoomStats,
	websocket http.HandlerFunc,
	authenticator middleware.Authenticator,
	metrics *observability.Collector,
	tracer trace.Tracer,
	logger *zap.Logger,
) *Router {
	return &Router{
		cfg:           cfg,
		mindmaps:      mindmaps,
		rooms:         rooms,
		websocket:     websocket,
		authenticator: authenticator,
		metrics:       metrics,
		tracer:        tracer,
		logger:        logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() *chi.Mux {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.Recovery(rt.logger))
	router.Use(middleware.Tracing(rt.tracer))
	router.Use(middleware.AccessLog(rt.logger, rt.metrics))

	if rt.cfg.CORS.Enabled {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   rt.cfg.CORS.AllowedOrigins,
			AllowedMethods:   rt.cfg.CORS.AllowedMethods,
			AllowedHeaders:   rt.cfg.CORS.AllowedHeaders,
			ExposedHeaders:   []string{middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           rt.cfg.CORS.MaxAge,
		}))
	}

	router.Get("/health", rt.healthCheck)
	if rt.cfg.Metrics.Enabled && rt.metrics != nil {
		router.Method(http.MethodGet, rt.cfg.Metrics.Path, rt.metrics.Handler())
	}

	// The upgrade authenticates itself and must not carry a request timeout.
	if rt.websocket != nil {
		router.Get("/ws", rt.websocket)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(rt.cfg.Server.RequestTimeout))
		r.Use(middleware.Authenticate(rt.authenticator, rt.logger))

		r.Route("/mindmaps/{mindmapID}", func(r chi.Router) {
			mindmapHandler := handlers.NewMindmapHandler(rt.mindmaps, rt.logger)
			r.Get("/", mindmapHandler.GetMindmap)
			r.Post("/save", mindmapHandler.SaveMindmap)
			r.Get("/presence", mindmapHandler.GetPresence)
		})
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, _ *http.Request) {
	resp := api.HealthResponse{Status: "healthy", Environment: string(rt.cfg.Environment)}
	if rt.rooms != nil {
		resp.Rooms = rt.rooms.RoomCount()
		resp.Sessions = rt.rooms.SessionCount()
	}
	api.Success(w, http.StatusOK, resp)
}
