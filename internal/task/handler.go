package task

import (
	"errors"
	"net/http"
	"strconv"

	"ml-service/internal/auth"
	"ml-service/internal/billing"
	"ml-service/internal/httpx"
	"ml-service/internal/ml"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type PredictRequest struct {
	Model string      `json:"model"`
	Data  []ml.Record `json:"data"`
}

type ModelsResponse struct {
	Models []string        `json:"models"`
	Cost   decimal.Decimal `json:"cost"`
}

type Handler struct {
	runner *Runner
	logger *zap.Logger
}

func NewHandler(runner *Runner, logger *zap.Logger) *Handler {
	return &Handler{runner: runner, logger: logger}
}

func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, ModelsResponse{Models: h.runner.registry.Names(), Cost: h.runner.Cost()})
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req PredictRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.Model == "" {
		req.Model = "example"
	}

	res, err := h.runner.Execute(r.Context(), userID, req.Model, req.Data)
	switch {
	case errors.Is(err, ErrEmptyInput), errors.Is(err, ml.ErrBadInput):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ml.ErrUnknownModel):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, billing.ErrInsufficientFunds):
		httpx.WriteError(w, http.StatusPaymentRequired, "insufficient funds for task")
	case errors.Is(err, billing.ErrAccountNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case err != nil:
		httpx.WriteInternal(w, h.logger, "Task execution failed", err, zap.Int64("user_id", userID))
	default:
		httpx.WriteJSON(w, http.StatusOK, res)
	}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	taskID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	t, err := h.runner.Get(r.Context(), userID, taskID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			httpx.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		httpx.WriteInternal(w, h.logger, "Failed to load task", err, zap.Int64("task_id", taskID))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}
