package models

import (
	"errors"
	"time"

	"ml-service/internal/ml"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrBadAmount         = errors.New("amount must be positive with at most 8 decimal places")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// MoneyScale is the number of decimal places money amounts may carry.
const MoneyScale = 8

// ValidAmount reports ErrBadAmount for amounts that are not positive or
// carry more than MoneyScale decimal places.
func ValidAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.Equal(amount.Truncate(MoneyScale)) {
		return ErrBadAmount
	}
	return nil
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type User struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	Login        string    `gorm:"uniqueIndex;not null" json:"login"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         Role      `gorm:"type:varchar(16);not null" json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

func (u *User) SetPassword(password string) error {
	if password == "" {
		return errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Account holds a user's balance. Balance never goes negative.
type Account struct {
	ID        int64           `gorm:"primaryKey" json:"id"`
	UserID    int64           `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance   decimal.Decimal `gorm:"type:varchar(64);not null" json:"balance"`
	Version   int64           `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (a *Account) Deposit(amount decimal.Decimal) error {
	if err := ValidAmount(amount); err != nil {
		return err
	}
	a.Balance = a.Balance.Add(amount)
	return nil
}

func (a *Account) Withdraw(amount decimal.Decimal) error {
	if err := ValidAmount(amount); err != nil {
		return err
	}
	if a.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	a.Balance = a.Balance.Sub(amount)
	return nil
}

type TransactionKind string

const (
	KindDeposit    TransactionKind = "deposit"
	KindWithdrawal TransactionKind = "withdrawal"
	KindCharge     TransactionKind = "charge"
)

// Transaction is one entry of the transaction history. Amount is signed:
// credits are positive, debits negative.
type Transaction struct {
	ID           int64           `gorm:"primaryKey" json:"id"`
	UserID       int64           `gorm:"index;not null" json:"user_id"`
	AccountID    int64           `gorm:"not null" json:"account_id"`
	Amount       decimal.Decimal `gorm:"type:varchar(64);not null" json:"amount"`
	Kind         TransactionKind `gorm:"type:varchar(16);not null" json:"kind"`
	Description  string          `json:"description"`
	BalanceAfter decimal.Decimal `gorm:"type:varchar(64);not null" json:"balance_after"`
	CreatedAt    time.Time       `json:"timestamp"`
}

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

type Task struct {
	ID          int64           `gorm:"primaryKey" json:"id"`
	UserID      int64           `gorm:"index;not null" json:"user_id"`
	AccountID   int64           `gorm:"not null" json:"account_id"`
	Model       string          `gorm:"not null" json:"model"`
	Cost        decimal.Decimal `gorm:"type:varchar(64);not null" json:"cost"`
	Status      TaskStatus      `gorm:"type:varchar(16);not null" json:"status"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// PredictionEntry is one entry of the prediction history.
type PredictionEntry struct {
	ID        int64           `gorm:"primaryKey" json:"id"`
	TaskID    int64           `gorm:"index;not null" json:"task_id"`
	UserID    int64           `gorm:"index;not null" json:"user_id"`
	Model     string          `gorm:"not null" json:"model"`
	InputData []ml.Record     `gorm:"serializer:json" json:"input_data"`
	Result    []ml.Prediction `gorm:"serializer:json" json:"result"`
	CreatedAt time.Time       `json:"timestamp"`
}

// All lists every persisted model, in migration order.
func All() []any {
	return []any{&User{}, &Account{}, &Transaction{}, &Task{}, &PredictionEntry{}}
}
