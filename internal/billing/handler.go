package billing

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"ml-service/internal/auth"
	"ml-service/internal/httpx"
	"ml-service/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type AmountRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

type BalanceResponse struct {
	UserID    int64           `json:"user_id"`
	AccountID int64           `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
}

func newBalanceResponse(acc *models.Account) BalanceResponse {
	return BalanceResponse{UserID: acc.UserID, AccountID: acc.ID, Balance: acc.Balance}
}

type Handler struct {
	svc    *Service
	logger *zap.Logger
}

func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	acc, err := h.svc.Balance(r.Context(), userID)
	if err != nil {
		h.writeErr(w, err, userID)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newBalanceResponse(acc))
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.svc.Deposit)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.svc.Withdraw)
}

// AdminDeposit credits the account of the user named in the {id} URL parameter.
func (h *Handler) AdminDeposit(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req AmountRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request")
		return
	}
	desc := req.Description
	if desc == "" {
		desc = "admin credit"
	}
	if adminID, ok := auth.UserIDFromContext(r.Context()); ok {
		h.logger.Info("Admin credit", zap.Int64("admin_id", adminID), zap.Int64("user_id", userID), zap.Stringer("amount", req.Amount))
	}
	acc, err := h.svc.Deposit(r.Context(), userID, req.Amount, desc)
	if err != nil {
		h.writeErr(w, err, userID)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newBalanceResponse(acc))
}

type changeFunc func(ctx context.Context, userID int64, amount decimal.Decimal, description string) (*models.Account, error)

func (h *Handler) change(w http.ResponseWriter, r *http.Request, fn changeFunc) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req AmountRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request")
		return
	}
	acc, err := fn(r.Context(), userID, req.Amount, req.Description)
	if err != nil {
		h.writeErr(w, err, userID)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newBalanceResponse(acc))
}

func (h *Handler) writeErr(w http.ResponseWriter, err error, userID int64) {
	switch {
	case errors.Is(err, ErrBadAmount):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInsufficientFunds):
		httpx.WriteError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, ErrAccountNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConcurrentUpdate):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	default:
		httpx.WriteInternal(w, h.logger, "Balance operation failed", err, zap.Int64("user_id", userID))
	}
}
