package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/goreconcile/pkg/api"
	"github.com/mihaimyh/goreconcile/pkg/config"
	"github.com/mihaimyh/goreconcile/pkg/reconcile"
	"github.com/mihaimyh/goreconcile/storage/tiered"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Addr:                      ":0",
		LogLevel:                  "info",
		LogFormat:                 "json",
		Storage:                   config.StorageMemory,
		SQLiteDir:                 t.TempDir(),
		CredentialMode:            config.CredentialGenerated,
		GeneratedCredentialLength: 12,
		EmailProvider:             config.EmailLog,
		SMTPPort:                  587,
		EmailFrom:                 "no-reply@example.com",
		NotifyTimeout:             time.Second,
		NotifyConcurrency:         4,
		MaxBodyBytes:              api.DefaultMaxBodyBytes,
		PlanCatalog:               reconcile.DefaultCatalog(),
		DirectoryBreakerThreshold: 5,
	}
}

func TestPrintPlans(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printPlans(&buf, reconcile.DefaultCatalog()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "PRODUCT")
	assert.Contains(t, lines[1], "Plano Anual")
	assert.Contains(t, lines[1], "anual")
	assert.Contains(t, lines[1], "12")
}

func TestPrintVersion(t *testing.T) {
	var buf bytes.Buffer
	printVersion(&buf)
	assert.Equal(t, "webhookd dev\n", buf.String())
}

func TestInitLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := initLogger("warn", "json", &buf)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"component":"webhookd"`)
	assert.Contains(t, out, "shown")

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("bogus"))
}

func TestOpenDirectory(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		dir, cleanup, err := openDirectory(ctx, testConfig(t), zerolog.Nop())
		require.NoError(t, err)
		defer cleanup()
		assert.NotNil(t, dir)
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Storage = config.StorageSQLite
		dir, cleanup, err := openDirectory(ctx, cfg, zerolog.Nop())
		require.NoError(t, err)
		defer cleanup()
		_, ok := dir.(pinger)
		assert.True(t, ok)
	})

	t.Run("tiered over sqlite", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Storage = config.StorageTiered
		cfg.TieredCold = config.StorageSQLite
		dir, cleanup, err := openDirectory(ctx, cfg, zerolog.Nop())
		require.NoError(t, err)
		defer cleanup()
		assert.IsType(t, &tiered.Directory{}, dir)
	})

	t.Run("unsupported", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Storage = "cassandra"
		_, cleanup, err := openDirectory(ctx, cfg, zerolog.Nop())
		cleanup()
		assert.ErrorIs(t, err, reconcile.ErrInvalidConfig)
	})
}

func TestWithCircuitBreaker(t *testing.T) {
	dir, cleanup, err := openDirectory(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer cleanup()

	assert.Same(t, dir, withCircuitBreaker(dir, 0, &reconcile.NoopMetrics{}, zerolog.Nop()))
	assert.IsType(t, &reconcile.CircuitBreakerDirectory{}, withCircuitBreaker(dir, 3, &reconcile.NoopMetrics{}, zerolog.Nop()))
}

func TestNewDispatcher(t *testing.T) {
	cfg := testConfig(t)

	for _, provider := range []string{config.EmailLog, config.EmailPostmark} {
		cfg.EmailProvider = provider
		cfg.PostmarkServerToken = "token"
		d, err := newDispatcher(cfg, zerolog.Nop())
		require.NoError(t, err, provider)
		assert.NotNil(t, d)
	}

	cfg.EmailProvider = config.EmailSMTP
	cfg.SMTPHost = ""
	_, err := newDispatcher(cfg, zerolog.Nop())
	assert.Error(t, err)

	cfg.EmailProvider = "pigeon"
	_, err = newDispatcher(cfg, zerolog.Nop())
	assert.ErrorIs(t, err, reconcile.ErrInvalidConfig)
}

func TestRouter_WebhookAndHealth(t *testing.T) {
	a, err := buildApp(context.Background(), testConfig(t), zerolog.Nop(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer a.cleanup()
	router := a.router()

	body := `{"event":"subscription_created","data":{"customer":{"email":"maria@example.com","name":"Maria"},"paidAt":"2024-01-15T00:00:00Z","product":{"name":"Plano Mensal"}}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.UserID)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.reconciler.Wait(ctx))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestBuildApp_InvalidStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage = "cassandra"
	_, err := buildApp(context.Background(), cfg, zerolog.Nop(), prometheus.NewRegistry())
	assert.Error(t, err)
}
