package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ml-service/internal/auth"
	"ml-service/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	db := setupTestDB(t)
	txs := NewTransactionHistory(db)
	preds := NewPredictionHistory(db)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, txs.Add(ctx, nil, &models.Transaction{
			UserID: 1, AccountID: 1, Kind: models.KindDeposit,
			Amount: decimal.NewFromInt(int64(i)), BalanceAfter: decimal.NewFromInt(int64(i)),
		}))
	}
	require.NoError(t, preds.Add(ctx, nil, &models.PredictionEntry{TaskID: 1, UserID: 2, Model: "example"}))
	return NewHandler(txs, preds, zaptest.NewLogger(t))
}

func get(h http.HandlerFunc, ctx context.Context, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx)
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func asUser(userID int64) context.Context {
	return auth.WithClaims(context.Background(), &auth.Claims{UserID: userID, Role: models.RoleUser})
}

func TestHandler_Transactions(t *testing.T) {
	h := newTestHandler(t)

	w := get(h.Transactions, asUser(1), "/api/v1/history/transactions?limit=2&offset=1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got []models.Transaction
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.True(t, got[0].Amount.Equal(decimal.NewFromInt(2)))

	w = get(h.Transactions, asUser(2), "/api/v1/history/transactions")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, get(h.Transactions, asUser(1), "/?limit=-1").Code)
	assert.Equal(t, http.StatusBadRequest, get(h.Transactions, asUser(1), "/?offset=x").Code)
	assert.Equal(t, http.StatusUnauthorized, get(h.Transactions, context.Background(), "/").Code)
}

func TestHandler_Predictions(t *testing.T) {
	h := newTestHandler(t)

	w := get(h.Predictions, asUser(2), "/api/v1/history/predictions")
	require.Equal(t, http.StatusOK, w.Code)
	var got []models.PredictionEntry
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "example", got[0].Model)

	assert.Equal(t, http.StatusUnauthorized, get(h.Predictions, context.Background(), "/").Code)
}

func TestHandler_AdminViews(t *testing.T) {
	h := newTestHandler(t)
	r := chi.NewRouter()
	r.Get("/admin/users/{id}/transactions", h.UserTransactions)
	r.Get("/admin/users/{id}/predictions", h.UserPredictions)

	serve := func(target string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		return w
	}

	w := serve("/admin/users/1/transactions")
	require.Equal(t, http.StatusOK, w.Code)
	var txs []models.Transaction
	require.NoError(t, json.NewDecoder(w.Body).Decode(&txs))
	assert.Len(t, txs, 3)

	w = serve("/admin/users/2/predictions")
	require.Equal(t, http.StatusOK, w.Code)
	var preds []models.PredictionEntry
	require.NoError(t, json.NewDecoder(w.Body).Decode(&preds))
	assert.Len(t, preds, 1)

	assert.Equal(t, http.StatusBadRequest, serve("/admin/users/abc/transactions").Code)
}
