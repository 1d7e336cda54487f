package history

import (
	"net/http"
	"strconv"

	"ml-service/internal/auth"
	"ml-service/internal/httpx"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Handler struct {
	transactions *TransactionHistory
	predictions  *PredictionHistory
	logger       *zap.Logger
}

func NewHandler(transactions *TransactionHistory, predictions *PredictionHistory, logger *zap.Logger) *Handler {
	return &Handler{transactions: transactions, predictions: predictions, logger: logger}
}

func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.listTransactions(w, r, userID)
}

func (h *Handler) Predictions(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.listPredictions(w, r, userID)
}

// UserTransactions lists the transactions of the user named by {id}.
func (h *Handler) UserTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	h.listTransactions(w, r, userID)
}

func (h *Handler) UserPredictions(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	h.listPredictions(w, r, userID)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request, userID int64) {
	page, ok := pageFromQuery(w, r)
	if !ok {
		return
	}
	out, err := h.transactions.ForUser(r.Context(), userID, page)
	if err != nil {
		httpx.WriteInternal(w, h.logger, "Failed to list transactions", err, zap.Int64("user_id", userID))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) listPredictions(w http.ResponseWriter, r *http.Request, userID int64) {
	page, ok := pageFromQuery(w, r)
	if !ok {
		return
	}
	out, err := h.predictions.ForUser(r.Context(), userID, page)
	if err != nil {
		httpx.WriteInternal(w, h.logger, "Failed to list predictions", err, zap.Int64("user_id", userID))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func pathUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}

func pageFromQuery(w http.ResponseWriter, r *http.Request) (Page, bool) {
	limit, err := httpx.QueryInt(r, "limit")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid limit")
		return Page{}, false
	}
	offset, err := httpx.QueryInt(r, "offset")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid offset")
		return Page{}, false
	}
	return Page{Limit: limit, Offset: offset}, true
}
