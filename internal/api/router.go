package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"broadphase/internal/config"
	"broadphase/internal/sim"
	"broadphase/internal/spatial"
)

// WorldInterface defines the world methods used by the API.
// *sim.World satisfies it; tests can substitute a fake.
type WorldInterface interface {
	// GetSnapshot returns the latest lock-free snapshot
	GetSnapshot() *sim.WorldSnapshot
	AddBody(opts sim.BodyOptions) (sim.BodySnapshot, error)
	SpawnRandom(n int) int
	RemoveBody(id string) error
	GetBody(id string) (sim.BodySnapshot, bool)
	// Query returns broad-phase candidates for box
	Query(box spatial.AABB, unique bool) ([]sim.BodySnapshot, error)
	// FirstHit walks cells in row-major order and stops at the first overlap
	FirstHit(box spatial.AABB) (sim.BodySnapshot, bool, error)
	Sparseness(region spatial.AABB) int
	IndexStats() spatial.Stats
	AverageOccupancy() (float64, error)
	GridView() sim.GridView
	Limits() config.Limits
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	router := api.NewRouter(api.RouterConfig{
//	    World: world,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	})
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// World is the simulation (required)
	World WorldInterface

	// RateLimiter is an optional pre-configured client limiter, shared with
	// the WebSocket hub when the Server builds the router.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *ClientLimiter

	// RateLimitConfig is only used if RateLimiter is nil.
	// If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, localhost on any port is allowed.
	CORSOrigins []string

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

type routerHandlers struct {
	world WorldInterface
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// NewRouter is pure: it starts no goroutines other than the rate limiter's
// cleanup loop and opens no listeners, so it is safe to use with
// httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	// Resolve the client address from proxy headers once, so the limiter
	// and the WebSocket hub only read RemoteAddr
	r.Use(middleware.RealIP)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewClientLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	h := &routerHandlers{world: cfg.World}

	r.Route("/api", func(r chi.Router) {
		// World and index diagnostics
		r.Get("/stats", h.handleGetStats)
		r.Get("/sparseness", h.handleGetSparseness)

		// Body management
		r.Get("/bodies", h.handleListBodies)
		r.Post("/bodies", h.handleAddBody)
		r.Post("/bodies/batch", h.handleBatchSpawn)
		r.Get("/bodies/{id}", h.handleGetBody)
		r.Delete("/bodies/{id}", h.handleRemoveBody)

		// Range queries
		r.Post("/query", h.handleQuery)
		r.Post("/query/first", h.handleQueryFirst)

		r.Get("/debug/heatmap.png", h.handleHeatmap)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	return r
}
