package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	TypeTransactionRecorded = "transaction.recorded"
	TypePredictionCompleted = "prediction.completed"
)

type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	UserID     int64     `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

func New(eventType string, userID int64, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

func (e Event) key() []byte {
	return []byte(strconv.FormatInt(e.UserID, 10))
}

func (e Event) marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", e.Type, err)
	}
	return data, nil
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// LogPublisher writes events to the log instead of a broker.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.logger.Info("event published",
		zap.String("event_id", e.ID),
		zap.String("type", e.Type),
		zap.Int64("user_id", e.UserID),
		zap.Any("payload", e.Payload))
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// PublishAll sends every event and logs failures; publishing never fails the caller.
func PublishAll(ctx context.Context, p Publisher, logger *zap.Logger, evs ...Event) {
	for _, e := range evs {
		if err := p.Publish(ctx, e); err != nil {
			logger.Warn("Failed to publish event",
				zap.String("event_id", e.ID),
				zap.String("type", e.Type),
				zap.Error(err))
		}
	}
}
