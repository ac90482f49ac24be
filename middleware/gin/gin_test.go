package gin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gongin "github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mihaimyh/goreconcile/pkg/api"
	"github.com/mihaimyh/goreconcile/pkg/reconcile"
	"github.com/mihaimyh/goreconcile/storage/memory"
)

const createdBody = `[{"event":"subscription_created","data":{"customer":{"email":"joao@example.com","name":"Joao Souza"},"paidAt":"2024-03-01T00:00:00Z","product":{"name":"Plano Semestral"}}}]`

func setupRouter(t *testing.T, dir *memory.Directory, cfg Config) *gongin.Engine {
	t.Helper()
	gongin.SetMode(gongin.TestMode)

	r, err := reconcile.New(reconcile.Config{
		Catalog:     reconcile.DefaultCatalog(),
		Directory:   dir,
		Credentials: reconcile.StaticCredential{Value: "Troque@123"},
		HashCost:    bcrypt.MinCost,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Wait(ctx)
	})

	h, err := api.NewHandler(api.Config{Reconciler: r})
	require.NoError(t, err)
	cfg.Handler = h

	router := gongin.New()
	router.POST("/webhook", Handler(cfg))
	return router
}

func serve(router http.Handler, body string) (*httptest.ResponseRecorder, api.Response) {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var out api.Response
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestHandler_CreatesSemiannualAccount(t *testing.T) {
	dir := memory.New()
	router := setupRouter(t, dir, Config{})

	rec, out := serve(router, createdBody)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, out.Success)
	assert.NotEmpty(t, out.UserID)

	acct, err := dir.FindByEmail(context.Background(), "joao@example.com")
	require.NoError(t, err)
	assert.Equal(t, reconcile.TierSemiannual, acct.PlanTier)
	assert.True(t, acct.PlanExpiresAt.Equal(time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)))
}

func TestHandler_Errors(t *testing.T) {
	router := setupRouter(t, memory.New(), Config{MaxBodyBytes: 64})

	rec, out := serve(router, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, out.Success)

	rec, out = serve(router, createdBody)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.False(t, out.Success)
}

func TestHandler_OnResponse(t *testing.T) {
	var status int
	router := setupRouter(t, memory.New(), Config{
		OnResponse: func(c *gongin.Context, s int, _ api.Response) {
			status = s
			c.Header("X-Reconcile-Status", http.StatusText(s))
		},
	})

	rec, _ := serve(router, strings.Replace(createdBody, "Plano Semestral", "Plano Desconhecido", 1))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, http.StatusText(http.StatusBadRequest), rec.Header().Get("X-Reconcile-Status"))
}

func TestHandler_RequiresHandler(t *testing.T) {
	assert.Panics(t, func() { Handler(Config{}) })
}
