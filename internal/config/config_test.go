package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MLSVC_AUTH_JWT_SECRET", "secret")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.True(t, cfg.TaskCost().Equal(decimal.NewFromInt(1)))
	assert.True(t, cfg.InitialBalance().IsZero())
	assert.Equal(t, "log", cfg.Events.Driver)
	assert.Equal(t, 5.0, cfg.RateLimit.RPS)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Empty(t, cfg.Models)
}

func TestLoad_MissingSecret(t *testing.T) {
	_, err := Load(New(), "")
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MLSVC_AUTH_JWT_SECRET", "secret")
	t.Setenv("MLSVC_HTTP_ADDR", ":9999")
	t.Setenv("MLSVC_AUTH_TOKEN_TTL", "90m")
	t.Setenv("MLSVC_BILLING_TASK_COST", "2.5")
	t.Setenv("MLSVC_HTTP_CORS_ORIGINS", "http://a.example,http://b.example")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 90*time.Minute, cfg.Auth.TokenTTL)
	assert.True(t, cfg.TaskCost().Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.HTTP.CORSOrigins)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ml-service.yaml")
	content := `
http:
  addr: ":7000"
auth:
  jwt_secret: from-file
billing:
  initial_balance: "10"
events:
  driver: nats
models:
  - name: risk
    expression: "income / debt"
    threshold: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.True(t, cfg.InitialBalance().Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "nats", cfg.Events.Driver)
	require.Len(t, cfg.Models, 1)
	assert.Equal(t, Model{Name: "risk", Expression: "income / debt", Threshold: 2}, cfg.Models[0])
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	t.Setenv("MLSVC_AUTH_JWT_SECRET", "secret")
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"zero cost":        {"MLSVC_BILLING_TASK_COST": "0"},
		"bad cost":         {"MLSVC_BILLING_TASK_COST": "abc"},
		"negative initial": {"MLSVC_BILLING_INITIAL_BALANCE": "-1"},
		"cost scale":       {"MLSVC_BILLING_TASK_COST": "0.000000001"},
		"initial scale":    {"MLSVC_BILLING_INITIAL_BALANCE": "1.123456789"},
		"events driver":    {"MLSVC_EVENTS_DRIVER": "smoke-signals"},
		"rate limit":       {"MLSVC_RATELIMIT_BURST": "0"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("MLSVC_AUTH_JWT_SECRET", "secret")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load(New(), "")
			assert.Error(t, err)
		})
	}
}
