package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/ordercore/internal/platform/httpx"
)

const (
	apiPrefix      = "/v1"
	requestTimeout = 30 * time.Second
)

type routerConfig struct {
	middlewares      []func(http.Handler) http.Handler
	adminMiddlewares []func(http.Handler) http.Handler
	health           *HealthHandlers
	cart             *CartHandlers
	orders           *OrderHandlers
	admin            *AdminHandlers
}

// Option customises NewRouter.
type Option func(*routerConfig)

// WithMiddlewares appends middleware applied to every request, health probes included.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.middlewares = append(cfg.middlewares, mw...) }
}

// WithHealthHandlers serves /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithCartHandlers mounts /v1/cart and /v1/cart:merge.
func WithCartHandlers(h *CartHandlers) Option {
	return func(cfg *routerConfig) { cfg.cart = h }
}

// WithOrderHandlers mounts customer checkout and order history under /v1/orders.
func WithOrderHandlers(h *OrderHandlers) Option {
	return func(cfg *routerConfig) { cfg.orders = h }
}

// WithAdminHandlers mounts the staff surface under /v1/admin.
func WithAdminHandlers(h *AdminHandlers) Option {
	return func(cfg *routerConfig) { cfg.admin = h }
}

// WithAdminMiddlewares adds middleware to the /v1/admin group only, such as an audit logger.
func WithAdminMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.adminMiddlewares = append(cfg.adminMiddlewares, mw...) }
}

// NewRouter assembles the HTTP surface. Health probes live outside /v1 so load balancers reach them
// without JSON or auth requirements. A group whose handlers were not supplied answers 503, which
// keeps /readyz and the API in agreement when a backend is missing.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" is not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		// Carts and orders are per-caller data; intermediaries must never cache them.
		api.Use(middleware.Timeout(requestTimeout), middleware.NoCache, middleware.AllowContentType("application/json"))

		if cfg.cart != nil {
			api.Route("/cart", cfg.cart.Routes)
			cfg.cart.RegisterStandaloneRoutes(api)
		} else {
			api.Route("/cart", unavailableGroup("cart"))
			api.Post("/cart:merge", unavailable("cart"))
		}

		if cfg.orders != nil {
			api.Route("/orders", cfg.orders.Routes)
		} else {
			api.Route("/orders", unavailableGroup("orders"))
		}

		api.Route("/admin", func(admin chi.Router) {
			for _, mw := range cfg.adminMiddlewares {
				if mw != nil {
					admin.Use(mw)
				}
			}
			if cfg.admin != nil {
				cfg.admin.Routes(admin)
				return
			}
			unavailableGroup("admin")(admin)
		})
	})
	return r
}

func unavailable(group string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("unavailable", group+" service is not configured", http.StatusServiceUnavailable))
	}
}

func unavailableGroup(group string) func(chi.Router) {
	return func(r chi.Router) {
		handler := unavailable(group)
		r.HandleFunc("/", handler)
		r.HandleFunc("/*", handler)
	}
}
