package crudrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/edgeflare/crudrouter/pkg/config"
	"github.com/edgeflare/crudrouter/pkg/orm"
	"github.com/edgeflare/crudrouter/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "potatoes.db")

	db, err := orm.Open(context.Background(), orm.DriverSQLite, dsn, orm.Options{})
	require.NoError(t, err)
	require.NoError(t, db.Exec(`CREATE TABLE potatoes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		thickness REAL NOT NULL,
		color TEXT NOT NULL UNIQUE
	)`).Error)
	require.NoError(t, orm.Close(db))

	return &config.Config{
		Server:  config.ServerConfig{BaseURL: "/api", CORSEnabled: true, AllowedOrigins: []string{"https://potato.example.com"}},
		Storage: config.StorageConfig{Driver: config.DriverSQLite, DSN: dsn},
		Auth:    config.AuthConfig{Basic: config.BasicAuthConfig{Credentials: map[string]string{"admin": "secret"}}},
		Resources: []config.ResourceConfig{{
			Name:     "Potato",
			Table:    "potatoes",
			Prefix:   "/potatoes",
			MaxLimit: 50,
			Fields: []config.FieldConfig{
				{Name: "id", Type: "integer"},
				{Name: "thickness", Type: "float", Required: true},
				{Name: "color", Type: "string", Required: true},
			},
			Routes: map[string]config.RouteConfig{
				"update":    {Disabled: true},
				"deleteall": {Guards: []string{config.GuardBasic}},
			},
		}},
	}
}

func do(t *testing.T, h http.Handler, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.SetBasicAuth("admin", "secret")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAppServesResources(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	a, err := newApp(context.Background(), sqliteConfig(t), zap.New(core))
	require.NoError(t, err)
	t.Cleanup(a.close)

	assert.Contains(t, a.router.Routes(), "GET /api/potatoes/{item_id}")
	assert.Equal(t, 1, logs.FilterMessage("serving resource").Len())

	rec := do(t, a.router, http.MethodGet, "/api/healthz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, a.router, http.MethodPost, "/api/potatoes", `{"thickness":0.5,"color":"red"}`, false)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"id":1,"thickness":0.5,"color":"red"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = do(t, a.router, http.MethodPost, "/api/potatoes", `{"thickness":0.7,"color":"red"}`, false)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{"detail":"Key already exists"}`, rec.Body.String())

	rec = do(t, a.router, http.MethodGet, "/api/potatoes?limit=10", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	type potato struct {
		ID        int64   `json:"id"`
		Thickness float64 `json:"thickness"`
		Color     string  `json:"color"`
	}
	p, err := schema.DecodeAs[potato](list[0])
	require.NoError(t, err)
	assert.Equal(t, potato{ID: 1, Thickness: 0.5, Color: "red"}, p)

	rec = do(t, a.router, http.MethodGet, "/api/nothing", "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = do(t, a.router, http.MethodPut, "/api/potatoes/1", `{"color":"blue"}`, false)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, a.router, http.MethodDelete, "/api/potatoes", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, a.router, http.MethodDelete, "/api/potatoes", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestAppCORS(t *testing.T) {
	a, err := newApp(context.Background(), sqliteConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.close)

	req := httptest.NewRequest(http.MethodGet, "/api/potatoes", nil)
	req.Header.Set("Origin", "https://potato.example.com")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Equal(t, "https://potato.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/potatoes", nil)
	req.Header.Set("Origin", "https://potato.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://potato.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	req = httptest.NewRequest(http.MethodGet, "/api/potatoes", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAppUnknownConnection(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Resources[0].Connection = "archive"

	_, err := newApp(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, `unknown connection "archive"`)
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "WARN", "error", "none"} {
		l, err := newLogger(level)
		require.NoError(t, err, level)
		assert.NotNil(t, l)
	}

	l, err := newLogger("error")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))

	_, err = newLogger("loud")
	assert.Error(t, err)
}
