package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/isdelr/storefront-be/internal/api/handlers"
	"github.com/isdelr/storefront-be/internal/auth"
	"github.com/isdelr/storefront-be/internal/payment"
	"github.com/isdelr/storefront-be/internal/services"
	"github.com/isdelr/storefront-be/internal/websocket"
)

// Dependencies bundles what the router wires into its handlers.
type Dependencies struct {
	Accounts        services.AccountServiceProvider
	Events          services.EventServiceProvider
	Checkout        payment.CheckoutCreator
	CheckoutTimeout time.Duration
	Tokens          *auth.TokenIssuer
	Hub             *websocket.Hub
	Limiter         *RateLimiter
	CORSOrigins     []string
}

// NewRouter creates and configures a new Chi router.
func NewRouter(deps Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize handlers
	userHandler := handlers.NewUserHandler(deps.Accounts)
	eventHandler := handlers.NewEventHandler(deps.Events)
	checkoutHandler := handlers.NewCheckoutHandler(deps.Checkout, deps.CheckoutTimeout)
	wsHandler := handlers.NewWebSocketHandler(deps.Hub, deps.CORSOrigins)
	requireAuth := auth.JWTMiddleware(deps.Tokens)

	routes := func(r chi.Router) {
		r.Route("/user", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(deps.Limiter.Middleware)
				r.Post("/register", userHandler.Register)
				r.Post("/login", userHandler.Login)
				r.Post("/guest", userHandler.GuestLogin)
			})

			// Protected routes
			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Post("/change_password", userHandler.ChangePassword)
				r.Get("/get_data", userHandler.GetData)
				r.Get("/events", eventHandler.GetForUser)
				r.Get("/ws", wsHandler.Serve)
			})
		})

		r.Post("/stripe/create_checkout_session", checkoutHandler.CreateSession)
	}

	// API versioning; older clients call the unversioned paths
	r.Route("/api/v1", routes)
	r.Group(routes)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("storefront api is running"))
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Page not found"}`))
	})

	return r
}
