package app

import (
	"context"
	"testing"

	"ml-service/internal/auth"
	"ml-service/internal/config"
	"ml-service/internal/events"
	"ml-service/internal/ml"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig(t *testing.T, overrides map[string]any) *config.Config {
	t.Helper()
	v := config.New()
	v.Set("auth.jwt_secret", "test-secret")
	v.Set("database.dsn", ":memory:")
	for k, val := range overrides {
		v.Set(k, val)
	}
	cfg, err := config.Load(v, "")
	require.NoError(t, err)
	return cfg
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry([]config.Model{{Name: "risk", Expression: "score > 3", Threshold: 0}})
	require.NoError(t, err)
	assert.Equal(t, []string{"example", "risk"}, reg.Names())

	m, err := reg.Get("risk")
	require.NoError(t, err)
	out, err := m.Predict(context.Background(), []ml.Record{{"score": 5.0}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, out[0].Prediction)

	_, err = NewRegistry([]config.Model{{Name: "bad", Expression: "((("}})
	assert.Error(t, err)

	_, err = NewRegistry([]config.Model{{Name: "example", Expression: "1"}})
	assert.Error(t, err)
}

func TestNewPublisher(t *testing.T) {
	logger := zaptest.NewLogger(t)

	p, err := NewPublisher(config.Events{Driver: "log"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &events.LogPublisher{}, p)

	p, err = NewPublisher(config.Events{Driver: "kafka", Brokers: []string{"localhost:9092"}, Topic: "t"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &events.KafkaPublisher{}, p)
	assert.NoError(t, p.Close())

	_, err = NewPublisher(config.Events{Driver: "pigeon"}, logger)
	assert.Error(t, err)
}

func TestNewTokenStore_DefaultsToMemory(t *testing.T) {
	store, closeFn, err := NewTokenStore(context.Background(), "")
	require.NoError(t, err)
	assert.IsType(t, &auth.MemoryTokenStore{}, store)
	assert.NoError(t, closeFn())

	_, _, err = NewTokenStore(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	cfg := testConfig(t, map[string]any{"billing.initial_balance": "3"})
	a, err := New(context.Background(), cfg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	require.NotNil(t, a.Handler)
	user, err := a.Auth.Register(context.Background(), "dave", "pw")
	require.NoError(t, err)

	acc, err := a.Billing.Balance(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "3", acc.Balance.String())
	assert.Equal(t, "1", a.Runner.Cost().String())
}
