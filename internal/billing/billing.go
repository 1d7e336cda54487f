package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ml-service/internal/events"
	"ml-service/internal/history"
	"ml-service/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrConcurrentUpdate  = errors.New("account was modified concurrently")
	ErrBadAmount         = models.ErrBadAmount
	ErrInsufficientFunds = models.ErrInsufficientFunds
)

const maxUpdateAttempts = 5

type Service struct {
	db             *gorm.DB
	transactions   *history.TransactionHistory
	publisher      events.Publisher
	initialBalance decimal.Decimal
	logger         *zap.Logger
}

func NewService(db *gorm.DB, transactions *history.TransactionHistory, publisher events.Publisher, initialBalance decimal.Decimal, logger *zap.Logger) *Service {
	return &Service{
		db:             db,
		transactions:   transactions,
		publisher:      publisher,
		initialBalance: initialBalance,
		logger:         logger,
	}
}

// Open creates the user's account inside tx. A positive initial balance is
// recorded as a deposit.
func (s *Service) Open(ctx context.Context, tx *gorm.DB, userID int64) (*models.Account, error) {
	acc := &models.Account{UserID: userID, Balance: decimal.Zero}
	if err := tx.WithContext(ctx).Create(acc).Error; err != nil {
		return nil, fmt.Errorf("failed to open account for user %d: %w", userID, err)
	}
	if !s.initialBalance.IsPositive() {
		return acc, nil
	}
	acc, _, err := s.apply(ctx, tx, userID, s.initialBalance, models.KindDeposit, "initial balance")
	return acc, err
}

func (s *Service) Balance(ctx context.Context, userID int64) (*models.Account, error) {
	return s.account(ctx, s.db, userID)
}

func (s *Service) Deposit(ctx context.Context, userID int64, amount decimal.Decimal, description string) (*models.Account, error) {
	return s.run(ctx, userID, amount, models.KindDeposit, description)
}

func (s *Service) Withdraw(ctx context.Context, userID int64, amount decimal.Decimal, description string) (*models.Account, error) {
	return s.run(ctx, userID, amount, models.KindWithdrawal, description)
}

// ChargeTx debits amount inside the caller's transaction. The caller
// publishes the resulting event once it commits.
func (s *Service) ChargeTx(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal, description string) (*models.Account, *models.Transaction, error) {
	return s.apply(ctx, tx, userID, amount, models.KindCharge, description)
}

func (s *Service) run(ctx context.Context, userID int64, amount decimal.Decimal, kind models.TransactionKind, description string) (*models.Account, error) {
	if description == "" {
		description = string(kind)
	}
	var (
		acc *models.Account
		rec *models.Transaction
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		acc, rec, err = s.apply(ctx, tx, userID, amount, kind, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Balance updated",
		zap.Int64("user_id", userID),
		zap.String("kind", string(kind)),
		zap.Stringer("amount", amount),
		zap.Stringer("balance", acc.Balance))
	events.PublishAll(ctx, s.publisher, s.logger, TransactionEvent(rec))
	return acc, nil
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal, kind models.TransactionKind, description string) (*models.Account, *models.Transaction, error) {
	if err := models.ValidAmount(amount); err != nil {
		return nil, nil, err
	}
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		acc, err := s.account(ctx, tx, userID)
		if err != nil {
			return nil, nil, err
		}

		signed := amount
		if kind == models.KindDeposit {
			err = acc.Deposit(amount)
		} else {
			err = acc.Withdraw(amount)
			signed = amount.Neg()
		}
		if err != nil {
			return nil, nil, err
		}

		now := time.Now()
		res := tx.WithContext(ctx).Model(&models.Account{}).
			Where("id = ? AND version = ?", acc.ID, acc.Version).
			Updates(map[string]any{
				"balance":    acc.Balance,
				"version":    acc.Version + 1,
				"updated_at": now,
			})
		if res.Error != nil {
			return nil, nil, fmt.Errorf("failed to update balance for account %d: %w", acc.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			s.logger.Debug("Balance update lost a race, retrying", zap.Int64("account_id", acc.ID), zap.Int("attempt", attempt+1))
			continue
		}
		acc.Version++
		acc.UpdatedAt = now

		rec := &models.Transaction{
			UserID:       userID,
			AccountID:    acc.ID,
			Amount:       signed,
			Kind:         kind,
			Description:  description,
			BalanceAfter: acc.Balance,
		}
		if err := s.transactions.Add(ctx, tx, rec); err != nil {
			return nil, nil, err
		}
		return acc, rec, nil
	}
	return nil, nil, ErrConcurrentUpdate
}

func (s *Service) account(ctx context.Context, db *gorm.DB, userID int64) (*models.Account, error) {
	var acc models.Account
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&acc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account for user %d: %w", userID, err)
	}
	return &acc, nil
}

type TransactionPayload struct {
	TransactionID int64           `json:"transaction_id"`
	AccountID     int64           `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Kind          string          `json:"kind"`
	Description   string          `json:"description"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
}

func TransactionEvent(t *models.Transaction) events.Event {
	return events.New(events.TypeTransactionRecorded, t.UserID, TransactionPayload{
		TransactionID: t.ID,
		AccountID:     t.AccountID,
		Amount:        t.Amount,
		Kind:          string(t.Kind),
		Description:   t.Description,
		BalanceAfter:  t.BalanceAfter,
	})
}
