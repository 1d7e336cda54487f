// Package app wires the configured components into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"ml-service/internal/auth"
	"ml-service/internal/billing"
	"ml-service/internal/config"
	"ml-service/internal/events"
	"ml-service/internal/history"
	"ml-service/internal/ml"
	"ml-service/internal/server"
	"ml-service/internal/storage"
	"ml-service/internal/task"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	DB        *gorm.DB
	Auth      *auth.Service
	Billing   *billing.Service
	Runner    *task.Runner
	Publisher events.Publisher
	Handler   http.Handler

	closers []func() error
	logger  *zap.Logger
}

// NewRegistry returns the example model plus every configured expression model.
func NewRegistry(defs []config.Model) (*ml.Registry, error) {
	reg := ml.NewRegistry()
	if err := reg.Register("example", ml.ExampleModel{}); err != nil {
		return nil, err
	}
	for _, d := range defs {
		m, err := ml.NewExpressionModel(d.Expression, d.Threshold)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", d.Name, err)
		}
		if err := reg.Register(d.Name, m); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func NewPublisher(cfg config.Events, logger *zap.Logger) (events.Publisher, error) {
	switch cfg.Driver {
	case "", "log":
		return events.NewLogPublisher(logger), nil
	case "kafka":
		return events.NewKafkaPublisher(cfg.Brokers, cfg.Topic, logger), nil
	case "nats":
		p, err := events.NewNATSPublisher(cfg.NATSURL, cfg.SubjectPrefix, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
	}
}

// NewTokenStore uses Redis when url is set and an in-memory store otherwise.
func NewTokenStore(ctx context.Context, url string) (auth.TokenStore, func() error, error) {
	if url == "" {
		return auth.NewMemoryTokenStore(), func() error { return nil }, nil
	}
	rs, err := auth.NewRedisTokenStore(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return rs, rs.Close, nil
}

// New opens the database and builds every service. db may be nil, in which
// case the configured database is opened and owned by the App.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if db == nil {
		var err error
		db, err = storage.Open(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		a.closers = append(a.closers, func() error { return storage.Close(db) })
	}
	a.DB = db

	registry, err := NewRegistry(cfg.Models)
	if err != nil {
		return nil, err
	}

	pub, err := NewPublisher(cfg.Events, logger.With(zap.String("component", "EventPublisher")))
	if err != nil {
		return nil, err
	}
	a.Publisher = pub
	a.closers = append(a.closers, pub.Close)

	tokens, closeTokens, err := NewTokenStore(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeTokens)

	txHistory := history.NewTransactionHistory(db)
	predHistory := history.NewPredictionHistory(db)

	a.Billing = billing.NewService(db, txHistory, pub, cfg.InitialBalance(),
		logger.With(zap.String("component", "BillingService")))

	a.Auth, err = auth.NewService(db, a.Billing, tokens, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL,
		logger.With(zap.String("component", "AuthService")))
	if err != nil {
		return nil, err
	}

	a.Runner = task.NewRunner(db, a.Billing, predHistory, registry, pub, cfg.TaskCost(),
		logger.With(zap.String("component", "TaskRunner")))

	a.Handler = server.NewRouter(server.Deps{
		Auth:         a.Auth,
		Billing:      a.Billing,
		Runner:       a.Runner,
		Transactions: txHistory,
		Predictions:  predHistory,
		Limiter:      server.NewUserRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		Logger:       logger.With(zap.String("component", "HTTP")),
	})

	ok = true
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
