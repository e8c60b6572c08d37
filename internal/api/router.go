package api

import (
	"net/http"
	"time"

	"github.com/athebyme/ebay-publisher/internal/api/handlers"
	"github.com/athebyme/ebay-publisher/internal/api/middleware"
	"github.com/athebyme/ebay-publisher/internal/domain/services"
	"github.com/athebyme/ebay-publisher/internal/security"
	"github.com/athebyme/ebay-publisher/pkg/interfaces"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps зависимости маршрутизатора
type RouterDeps struct {
	PublishService services.PublishServiceInterface
	Connection     handlers.ConnectionManager
	Policies       handlers.PoliciesFetcher
	States         *security.StateManager
	Messaging      interfaces.MessagingPort
	EventsTopic    string
	Logger         interfaces.LoggerPort

	CORSAllowedOrigins []string
	MetricsEnabled     bool
	MetricsEndpoint    string
}

// SetupRouter настраивает маршрутизатор
func SetupRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	// Глобальные middleware. Идентификатор запроса кладется в контекст
	// строковым ключом, откуда его подхватывает логгер
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Recoverer(deps.Logger))
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.CORS(deps.CORSAllowedOrigins))
	r.Use(middleware.SecurityHeaders)

	r.Method(http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	r.Method(http.MethodHead, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	if deps.MetricsEnabled {
		endpoint := deps.MetricsEndpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.Handle(endpoint, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		publishHandler := handlers.NewPublishHandler(deps.PublishService, deps.Logger)
		oauthHandler := handlers.NewOAuthHandler(deps.Connection, deps.Policies, deps.States, deps.Messaging, deps.EventsTopic, deps.Logger)

		// Маршруты публикации листингов
		r.Route("/listings/{id}", func(r chi.Router) {
			r.Post("/publish", publishHandler.Publish)
			r.Get("/status", publishHandler.GetStatus)
		})

		// Маршруты подключения к маркетплейсу
		r.Route("/ebay", func(r chi.Router) {
			r.Get("/oauth/url", oauthHandler.GetAuthorizationURL)
			r.Get("/oauth/callback", oauthHandler.Callback)
			r.Get("/connection", oauthHandler.GetConnectionStatus)
			r.Delete("/connection", oauthHandler.Disconnect)
			r.Get("/policies", oauthHandler.GetPolicies)
		})
	})

	return r
}
