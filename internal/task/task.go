package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ml-service/internal/billing"
	"ml-service/internal/events"
	"ml-service/internal/history"
	"ml-service/internal/ml"
	"ml-service/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrEmptyInput   = errors.New("input data must not be empty")
	ErrTaskNotFound = errors.New("task not found")
)

// DefaultCost is charged for every task unless configured otherwise.
var DefaultCost = decimal.NewFromInt(1)

type Result struct {
	Task        *models.Task    `json:"task"`
	Predictions []ml.Prediction `json:"predictions"`
	Balance     decimal.Decimal `json:"balance"`
}

type Runner struct {
	db          *gorm.DB
	billing     *billing.Service
	predictions *history.PredictionHistory
	registry    *ml.Registry
	publisher   events.Publisher
	cost        decimal.Decimal
	logger      *zap.Logger
}

func NewRunner(db *gorm.DB, billingSvc *billing.Service, predictions *history.PredictionHistory, registry *ml.Registry, publisher events.Publisher, cost decimal.Decimal, logger *zap.Logger) *Runner {
	if !cost.IsPositive() {
		cost = DefaultCost
	}
	return &Runner{
		db:          db,
		billing:     billingSvc,
		predictions: predictions,
		registry:    registry,
		publisher:   publisher,
		cost:        cost,
		logger:      logger,
	}
}

func (r *Runner) Cost() decimal.Decimal {
	return r.cost
}

// Execute charges the task cost and runs the model. Either both the charge
// and the prediction history entry are committed, or neither is.
func (r *Runner) Execute(ctx context.Context, userID int64, modelName string, data []ml.Record) (*Result, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}
	model, err := r.registry.Get(modelName)
	if err != nil {
		return nil, err
	}
	acc, err := r.billing.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}

	task := &models.Task{
		UserID:    userID,
		AccountID: acc.ID,
		Model:     modelName,
		Cost:      r.cost,
		Status:    models.TaskPending,
	}
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	log := r.logger.With(zap.Int64("task_id", task.ID), zap.Int64("user_id", userID), zap.String("model", modelName))

	var (
		charged *models.Transaction
		entry   *models.PredictionEntry
		preds   []ml.Prediction
	)
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		desc := fmt.Sprintf("ml task #%d (%s)", task.ID, modelName)
		acc, charged, err = r.billing.ChargeTx(ctx, tx, userID, r.cost, desc)
		if err != nil {
			return err
		}

		preds, err = model.Predict(ctx, data)
		if err != nil {
			return fmt.Errorf("prediction failed: %w", err)
		}
		if len(preds) != len(data) {
			return fmt.Errorf("model %s returned %d predictions for %d records", modelName, len(preds), len(data))
		}

		entry = &models.PredictionEntry{
			TaskID:    task.ID,
			UserID:    userID,
			Model:     modelName,
			InputData: data,
			Result:    preds,
		}
		if err := r.predictions.Add(ctx, tx, entry); err != nil {
			return err
		}

		now := time.Now()
		task.Status = models.TaskCompleted
		task.CompletedAt = &now
		return tx.Model(task).Updates(map[string]any{
			"status":       task.Status,
			"completed_at": now,
		}).Error
	})
	if err != nil {
		r.fail(ctx, task, err, log)
		return nil, err
	}

	log.Info("Task completed", zap.Int("records", len(data)), zap.Stringer("balance", acc.Balance))
	events.PublishAll(ctx, r.publisher, r.logger,
		billing.TransactionEvent(charged),
		events.New(events.TypePredictionCompleted, userID, PredictionPayload{
			TaskID:  task.ID,
			Model:   modelName,
			Records: len(data),
			Cost:    r.cost,
		}))

	return &Result{Task: task, Predictions: preds, Balance: acc.Balance}, nil
}

func (r *Runner) fail(ctx context.Context, task *models.Task, cause error, log *zap.Logger) {
	now := time.Now()
	task.Status = models.TaskFailed
	task.Error = cause.Error()
	task.CompletedAt = &now
	err := r.db.WithContext(context.WithoutCancel(ctx)).Model(task).Updates(map[string]any{
		"status":       task.Status,
		"error":        task.Error,
		"completed_at": now,
	}).Error
	if err != nil {
		log.Error("Failed to mark task as failed", zap.Error(err))
	}
	log.Warn("Task failed", zap.Error(cause))
}

// Get returns a task owned by userID.
func (r *Runner) Get(ctx context.Context, userID, taskID int64) (*models.Task, error) {
	var t models.Task
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", taskID, userID).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &t, nil
}

type PredictionPayload struct {
	TaskID  int64           `json:"task_id"`
	Model   string          `json:"model"`
	Records int             `json:"records"`
	Cost    decimal.Decimal `json:"cost"`
}
