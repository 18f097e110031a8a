package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/edgeflare/crudrouter/pkg/schema"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const potatoesYAML = `
server:
  listenAddr: ":9090"
  corsEnabled: true
storage:
  driver: sqlite
  dsn: "file:potatoes.db"
  connectTimeout: 5s
  connections:
    archive: "file:archive.db"
metrics:
  enabled: true
auth:
  basic:
    credentials:
      admin: secret
resources:
  - name: Potato
    prefix: /potatoes
    maxLimit: 100
    fields:
      - {name: id, type: integer}
      - {name: thickness, type: float, required: true, rules: "gt=0"}
      - {name: color, type: string, required: true}
    routes:
      deleteAll:
        guards: [basic]
      update:
        disabled: true
  - name: Archived
    connection: Archive
    fields:
      - {name: id, type: uuid}
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crudrouter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, potatoesYAML), nil)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.True(t, cfg.Server.CORSEnabled)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, 5*time.Second, cfg.Storage.ConnectTimeout)
	assert.Equal(t, "file:archive.db", cfg.Storage.Connections["archive"])
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "secret", cfg.Auth.Basic.Credentials["admin"])

	require.Len(t, cfg.Resources, 2)
	potato := cfg.Resources[0]
	assert.Equal(t, 100, potato.MaxLimit)
	assert.Equal(t, DefaultConnection, potato.ConnectionName())
	assert.Equal(t, []string{GuardBasic}, potato.Route(crud.DeleteAll).Guards)
	assert.True(t, potato.Route(crud.Update).Disabled)
	assert.False(t, potato.Route(crud.GetAll).Disabled)
	assert.Equal(t, "archive", cfg.Resources[1].ConnectionName())

	s, err := potato.Schema()
	require.NoError(t, err)
	assert.Equal(t, "Potato", s.Name())
	f, ok := s.Lookup("thickness")
	require.True(t, ok)
	assert.Equal(t, schema.Field{Name: "thickness", Type: schema.Float, Required: true, Rules: "gt=0"}, f)
}

func TestLoadEnvAndFlags(t *testing.T) {
	path := writeConfig(t, potatoesYAML)
	t.Setenv("CRUDROUTER_STORAGE_DSN", "file:from-env.db")
	t.Setenv("CRUDROUTER_SERVER_LISTENADDR", ":7000")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("server.listenAddr", "", "")
	require.NoError(t, flags.Parse([]string{"--server.listenAddr=:6000"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "file:from-env.db", cfg.Storage.DSN)
	assert.Equal(t, ":6000", cfg.Server.ListenAddr, "flags take precedence over env")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CRUDROUTER_METRICS_PATH=/internal/metrics\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CRUDROUTER_METRICS_PATH") })
	t.Chdir(dir)

	cfg, err := Load(writeConfig(t, potatoesYAML), nil)
	require.NoError(t, err)
	assert.Equal(t, "/internal/metrics", cfg.Metrics.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Storage: StorageConfig{Driver: "mysql"},
		Auth:    AuthConfig{OIDC: OIDCConfig{Issuer: "https://issuer.example.com"}},
		Resources: []ResourceConfig{
			{Name: "Potato", Fields: []FieldConfig{{Name: "id", Type: "integer"}}, Routes: map[string]RouteConfig{
				"patch":     {},
				"deleteall": {Guards: []string{GuardBasic, "apikey"}},
			}},
			{Name: "Potato", Fields: []FieldConfig{{Name: "id", Type: "complex"}}, MaxLimit: -1, Connection: "nope"},
			{Fields: nil},
		},
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`storage.driver: unsupported driver "mysql"`,
		"storage.dsn: connection string required",
		"auth.oidc: clientID and clientSecret are required",
		`unknown endpoint "patch"`,
		"basic guard without auth.basic.credentials",
		`unknown guard "apikey"`,
		`resources[1].name: duplicate resource "Potato"`,
		`resources[1].maxLimit: must not be negative`,
		`resources[1].connection: unknown connection "nope"`,
		`field "id"`,
		"resources[2].name: required",
		"resources[2].fields: at least one field required",
	} {
		assert.ErrorContains(t, err, want)
	}
}
