package task

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ml-service/internal/auth"
	"ml-service/internal/billing"
	"ml-service/internal/events"
	"ml-service/internal/history"
	"ml-service/internal/ml"
	"ml-service/internal/models"
	"ml-service/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type brokenModel struct{}

func (brokenModel) Predict(context.Context, []ml.Record) ([]ml.Prediction, error) {
	return nil, errors.New("model crashed")
}

type shortModel struct{}

func (shortModel) Predict(context.Context, []ml.Record) ([]ml.Prediction, error) {
	return []ml.Prediction{}, nil
}

type env struct {
	db          *gorm.DB
	runner      *Runner
	billing     *billing.Service
	txHistory   *history.TransactionHistory
	predHistory *history.PredictionHistory
}

func setup(t *testing.T) *env {
	t.Helper()
	db, err := storage.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close(db) })

	logger := zaptest.NewLogger(t)
	pub := events.NewLogPublisher(zap.NewNop())
	txHistory := history.NewTransactionHistory(db)
	predHistory := history.NewPredictionHistory(db)
	billingSvc := billing.NewService(db, txHistory, pub, decimal.Zero, logger)

	registry := ml.NewRegistry()
	require.NoError(t, registry.Register("example", ml.ExampleModel{}))
	require.NoError(t, registry.Register("broken", brokenModel{}))
	require.NoError(t, registry.Register("short", shortModel{}))
	ratio, err := ml.NewExpressionModel("a / b", 0.5)
	require.NoError(t, err)
	require.NoError(t, registry.Register("ratio", ratio))

	runner := NewRunner(db, billingSvc, predHistory, registry, pub, decimal.Zero, logger)
	return &env{db: db, runner: runner, billing: billingSvc, txHistory: txHistory, predHistory: predHistory}
}

func (e *env) userWithBalance(t *testing.T, userID int64, balance string) {
	t.Helper()
	require.NoError(t, e.db.Transaction(func(tx *gorm.DB) error {
		_, err := e.billing.Open(context.Background(), tx, userID)
		return err
	}))
	if b := decimal.RequireFromString(balance); b.IsPositive() {
		_, err := e.billing.Deposit(context.Background(), userID, b, "top up")
		require.NoError(t, err)
	}
}

func (e *env) balance(t *testing.T, userID int64) decimal.Decimal {
	t.Helper()
	acc, err := e.billing.Balance(context.Background(), userID)
	require.NoError(t, err)
	return acc.Balance
}

func TestExecute_Success(t *testing.T) {
	e := setup(t)
	e.userWithBalance(t, 1, "3")
	ctx := context.Background()

	assert.True(t, e.runner.Cost().Equal(DefaultCost))

	res, err := e.runner.Execute(ctx, 1, "example", []ml.Record{{"a": 1.0}, {"a": 2.0}})
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, res.Task.Status)
	assert.NotNil(t, res.Task.CompletedAt)
	assert.Equal(t, []ml.Prediction{{Prediction: 0, Confidence: 0.95}, {Prediction: 1, Confidence: 0.95}}, res.Predictions)
	assert.True(t, res.Balance.Equal(decimal.NewFromInt(2)))
	assert.True(t, e.balance(t, 1).Equal(decimal.NewFromInt(2)))

	preds, err := e.predHistory.ForUser(ctx, 1, history.Page{})
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, res.Task.ID, preds[0].TaskID)
	assert.Len(t, preds[0].InputData, 2)

	txs, err := e.txHistory.ForUser(ctx, 1, history.Page{})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, models.KindCharge, txs[1].Kind)
	assert.True(t, txs[1].Amount.Equal(decimal.NewFromInt(-1)))

	stored, err := e.runner.Get(ctx, 1, res.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, stored.Status)
}

func TestExecute_InsufficientFunds(t *testing.T) {
	e := setup(t)
	e.userWithBalance(t, 1, "0.5")
	ctx := context.Background()

	_, err := e.runner.Execute(ctx, 1, "example", []ml.Record{{"a": 1.0}})
	assert.ErrorIs(t, err, billing.ErrInsufficientFunds)
	assert.True(t, e.balance(t, 1).Equal(decimal.RequireFromString("0.5")))

	preds, err := e.predHistory.ForUser(ctx, 1, history.Page{})
	require.NoError(t, err)
	assert.Empty(t, preds)

	var tasks []models.Task
	require.NoError(t, e.db.Where("user_id = ?", 1).Find(&tasks).Error)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskFailed, tasks[0].Status)
	assert.Contains(t, tasks[0].Error, "insufficient funds")
}

func TestExecute_ModelFailureRefundsCharge(t *testing.T) {
	e := setup(t)
	e.userWithBalance(t, 1, "5")
	ctx := context.Background()

	for _, name := range []string{"broken", "short"} {
		_, err := e.runner.Execute(ctx, 1, name, []ml.Record{{"a": 1.0}})
		assert.Error(t, err, name)
	}
	assert.True(t, e.balance(t, 1).Equal(decimal.NewFromInt(5)))

	txs, err := e.txHistory.ForUser(ctx, 1, history.Page{})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestExecute_InputValidation(t *testing.T) {
	e := setup(t)
	e.userWithBalance(t, 1, "5")
	ctx := context.Background()

	_, err := e.runner.Execute(ctx, 1, "example", nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = e.runner.Execute(ctx, 1, "missing", []ml.Record{{}})
	assert.ErrorIs(t, err, ml.ErrUnknownModel)

	_, err = e.runner.Execute(ctx, 2, "example", []ml.Record{{}})
	assert.ErrorIs(t, err, billing.ErrAccountNotFound)

	assert.True(t, e.balance(t, 1).Equal(decimal.NewFromInt(5)))
}

func TestGet_OtherUsersTask(t *testing.T) {
	e := setup(t)
	e.userWithBalance(t, 1, "1")
	e.userWithBalance(t, 2, "0")

	res, err := e.runner.Execute(context.Background(), 1, "example", []ml.Record{{}})
	require.NoError(t, err)

	_, err = e.runner.Get(context.Background(), 2, res.Task.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func contextWithUserID(userID int64) context.Context {
	return auth.WithClaims(context.Background(), &auth.Claims{UserID: userID, Role: models.RoleUser})
}

func TestPredictHandler(t *testing.T) {
	e := setup(t)
	e.userWithBalance(t, 1, "1")
	h := NewHandler(e.runner, zaptest.NewLogger(t))

	post := func(ctx context.Context, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/predict", bytes.NewBufferString(body)).WithContext(ctx)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		h.Predict(w, req)
		return w
	}

	w := post(contextWithUserID(1), `{"model":"example","data":[{"x":1},{"x":2}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Len(t, res.Predictions, 2)
	assert.True(t, res.Balance.IsZero())

	assert.Equal(t, http.StatusPaymentRequired, post(contextWithUserID(1), `{"data":[{"x":1}]}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(contextWithUserID(1), `{"model":"example","data":[]}`).Code)
	assert.Equal(t, http.StatusNotFound, post(contextWithUserID(1), `{"model":"nope","data":[{}]}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(contextWithUserID(1), `{invalid json}`).Code)
	assert.Equal(t, http.StatusUnauthorized, post(context.Background(), `{"data":[{}]}`).Code)
}

func TestPredictHandler_NonFiniteScoreIsBadInput(t *testing.T) {
	e := setup(t)
	e.userWithBalance(t, 1, "3")
	h := NewHandler(e.runner, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/predict",
		bytes.NewBufferString(`{"model":"ratio","data":[{"a":0,"b":0}]}`)).WithContext(contextWithUserID(1))
	w := httptest.NewRecorder()
	h.Predict(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	_, err := e.runner.Execute(context.Background(), 1, "ratio", []ml.Record{{"a": 1.0, "b": 0.0}})
	assert.ErrorIs(t, err, ml.ErrBadInput)
	assert.True(t, e.balance(t, 1).Equal(decimal.NewFromInt(3)))
}

func TestModelsHandler(t *testing.T) {
	e := setup(t)
	h := NewHandler(e.runner, zaptest.NewLogger(t))

	w := httptest.NewRecorder()
	h.Models(w, httptest.NewRequest(http.MethodGet, "/api/v1/models", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp ModelsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, []string{"broken", "example", "ratio", "short"}, resp.Models)
	assert.True(t, resp.Cost.Equal(DefaultCost))
}
