package history

import (
	"context"
	"fmt"

	"ml-service/internal/models"

	"gorm.io/gorm"
)

const MaxPageSize = 500

// Page limits a history listing. A zero Limit means everything up to MaxPageSize.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) apply(q *gorm.DB) *gorm.DB {
	limit := p.Limit
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	q = q.Limit(limit)
	if p.Offset > 0 {
		q = q.Offset(p.Offset)
	}
	return q
}

type TransactionHistory struct {
	db *gorm.DB
}

func NewTransactionHistory(db *gorm.DB) *TransactionHistory {
	return &TransactionHistory{db: db}
}

// Add appends an entry using db, which may be a transaction.
func (h *TransactionHistory) Add(ctx context.Context, db *gorm.DB, t *models.Transaction) error {
	if db == nil {
		db = h.db
	}
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("failed to record transaction for user %d: %w", t.UserID, err)
	}
	return nil
}

func (h *TransactionHistory) ForUser(ctx context.Context, userID int64, page Page) ([]models.Transaction, error) {
	out := []models.Transaction{}
	q := h.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC")
	if err := page.apply(q).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list transactions for user %d: %w", userID, err)
	}
	return out, nil
}

type PredictionHistory struct {
	db *gorm.DB
}

func NewPredictionHistory(db *gorm.DB) *PredictionHistory {
	return &PredictionHistory{db: db}
}

func (h *PredictionHistory) Add(ctx context.Context, db *gorm.DB, p *models.PredictionEntry) error {
	if db == nil {
		db = h.db
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to record prediction for task %d: %w", p.TaskID, err)
	}
	return nil
}

func (h *PredictionHistory) ForUser(ctx context.Context, userID int64, page Page) ([]models.PredictionEntry, error) {
	out := []models.PredictionEntry{}
	q := h.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC")
	if err := page.apply(q).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list predictions for user %d: %w", userID, err)
	}
	return out, nil
}
