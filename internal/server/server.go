package server

import (
	"net/http"
	"time"

	"ml-service/internal/auth"
	"ml-service/internal/billing"
	"ml-service/internal/history"
	"ml-service/internal/httpx"
	"ml-service/internal/models"
	"ml-service/internal/task"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type Deps struct {
	Auth         *auth.Service
	Billing      *billing.Service
	Runner       *task.Runner
	Transactions *history.TransactionHistory
	Predictions  *history.PredictionHistory
	Limiter      *UserRateLimiter
	CORSOrigins  []string
	Logger       *zap.Logger
}

func NewRouter(d Deps) http.Handler {
	authHandler := auth.NewHandler(d.Auth, d.Logger.With(zap.String("component", "AuthHandler")))
	billingHandler := billing.NewHandler(d.Billing, d.Logger.With(zap.String("component", "BillingHandler")))
	taskHandler := task.NewHandler(d.Runner, d.Logger.With(zap.String("component", "TaskHandler")))
	historyHandler := history.NewHandler(d.Transactions, d.Predictions, d.Logger.With(zap.String("component", "HistoryHandler")))

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(d.Auth.Middleware)

			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)

			r.Get("/account", billingHandler.Balance)
			r.Post("/account/deposit", billingHandler.Deposit)
			r.Post("/account/withdraw", billingHandler.Withdraw)

			r.Get("/models", taskHandler.Models)
			r.With(d.Limiter.Middleware).Post("/predict", taskHandler.Predict)
			r.Get("/tasks/{id}", taskHandler.Get)

			r.Get("/history/transactions", historyHandler.Transactions)
			r.Get("/history/predictions", historyHandler.Predictions)

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleAdmin))
				r.Get("/users", authHandler.ListUsers)
				r.Post("/users/{id}/deposit", billingHandler.AdminDeposit)
				r.Get("/users/{id}/transactions", historyHandler.UserTransactions)
				r.Get("/users/{id}/predictions", historyHandler.UserPredictions)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("HTTP request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
