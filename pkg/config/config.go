package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/edgeflare/crudrouter/pkg/schema"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X github.com/edgeflare/crudrouter/pkg/config.Version=...".
var Version = "dev"

// EnvPrefix prefixes environment overrides, eg CRUDROUTER_STORAGE_DSN.
const EnvPrefix = "CRUDROUTER"

// Config holds application-wide configuration
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Storage   StorageConfig    `mapstructure:"storage"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Resources []ResourceConfig `mapstructure:"resources"`
}

type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listenAddr"`
	BaseURL         string        `mapstructure:"baseURL"`
	CORSEnabled     bool          `mapstructure:"corsEnabled"`
	AllowedOrigins  []string      `mapstructure:"allowedOrigins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

const (
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type StorageConfig struct {
	// Driver is "pgx" (async sessions over pgxpool), "postgres" or "sqlite" (gorm sync sessions).
	Driver string `mapstructure:"driver"`
	// DSN is the connection string of the default connection.
	DSN            string        `mapstructure:"dsn"`
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
	// Connections holds additional named connection strings resources may select.
	Connections map[string]string `mapstructure:"connections"`
}

// DefaultConnection names the connection built from StorageConfig.DSN.
const DefaultConnection = "default"

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

type AuthConfig struct {
	Basic BasicAuthConfig `mapstructure:"basic"`
	OIDC  OIDCConfig      `mapstructure:"oidc"`
}

type BasicAuthConfig struct {
	Credentials map[string]string `mapstructure:"credentials"`
}

type OIDCConfig struct {
	Issuer       string `mapstructure:"issuer"`
	ClientID     string `mapstructure:"clientID"`
	ClientSecret string `mapstructure:"clientSecret"`
}

func (c OIDCConfig) Enabled() bool { return c.Issuer != "" }

// ResourceConfig declares one generated resource.
type ResourceConfig struct {
	Name       string                 `mapstructure:"name"`
	Table      string                 `mapstructure:"table"`
	Prefix     string                 `mapstructure:"prefix"`
	PrimaryKey string                 `mapstructure:"primaryKey"`
	MaxLimit   int                    `mapstructure:"maxLimit"`
	Connection string                 `mapstructure:"connection"`
	Fields     []FieldConfig          `mapstructure:"fields"`
	Routes     map[string]RouteConfig `mapstructure:"routes"`
}

type FieldConfig struct {
	Name     string `mapstructure:"name"`
	Type     string `mapstructure:"type"`
	Required bool   `mapstructure:"required"`
	Rules    string `mapstructure:"rules"`
}

// RouteConfig configures one endpoint of a resource, keyed by endpoint name
// (getAll, getOne, create, update, deleteOne, deleteAll).
type RouteConfig struct {
	Disabled bool `mapstructure:"disabled"`
	// Guards lists "basic" and/or "oidc", applied in order.
	Guards []string `mapstructure:"guards"`
	// Scopes are required of OIDC tokens on this endpoint.
	Scopes []string `mapstructure:"scopes"`
}

const (
	GuardBasic = "basic"
	GuardOIDC  = "oidc"
)

// Schema builds the resource schema from its field declarations.
func (r ResourceConfig) Schema() (*schema.Schema, error) {
	fields := make([]schema.Field, 0, len(r.Fields))
	for _, f := range r.Fields {
		t, err := schema.ParseFieldType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("resource %q field %q: %w", r.Name, f.Name, err)
		}
		fields = append(fields, schema.Field{Name: f.Name, Type: t, Required: f.Required, Rules: f.Rules})
	}
	s, err := schema.New(r.Name, fields...)
	if err != nil {
		return nil, fmt.Errorf("resource %q: %w", r.Name, err)
	}
	return s, nil
}

// ConnectionName returns the storage connection the resource uses. Names are
// case-insensitive, as viper lower-cases map keys.
func (r ResourceConfig) ConnectionName() string {
	if r.Connection == "" {
		return DefaultConnection
	}
	return strings.ToLower(r.Connection)
}

// Route returns the configuration of endpoint e. Route keys match
// case-insensitively, with or without underscores.
func (r ResourceConfig) Route(e crud.Endpoint) RouteConfig {
	for name, rc := range r.Routes {
		if got, err := crud.ParseEndpoint(name); err == nil && got == e {
			return rc
		}
	}
	return RouteConfig{}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listenAddr", ":8080")
	v.SetDefault("server.baseURL", "")
	v.SetDefault("server.corsEnabled", false)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.shutdownTimeout", 10*time.Second)
	v.SetDefault("storage.driver", DriverPgx)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.connectTimeout", 30*time.Second)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9100")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("auth.oidc.issuer", "")
	v.SetDefault("auth.oidc.clientID", "")
	v.SetDefault("auth.oidc.clientSecret", "")
}

// Load reads the configuration from cfgFile (or crudrouter.yaml in ~/.config or
// the working directory), a .env file in the working directory, CRUDROUTER_*
// environment variables and flags, in increasing order of precedence. Flag
// names are config keys, eg --storage.dsn.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("crudrouter")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("binding flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case DriverPgx, DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unsupported driver %q", c.Storage.Driver))
	}
	if c.Storage.DSN == "" {
		errs = append(errs, errors.New("storage.dsn: connection string required"))
	}
	if c.Auth.OIDC.Enabled() && (c.Auth.OIDC.ClientID == "" || c.Auth.OIDC.ClientSecret == "") {
		errs = append(errs, errors.New("auth.oidc: clientID and clientSecret are required with an issuer"))
	}

	seen := map[string]bool{}
	for i, r := range c.Resources {
		at := fmt.Sprintf("resources[%d]", i)
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", at))
		} else if seen[r.Name] {
			errs = append(errs, fmt.Errorf("%s.name: duplicate resource %q", at, r.Name))
		}
		seen[r.Name] = true

		if len(r.Fields) == 0 {
			errs = append(errs, fmt.Errorf("%s.fields: at least one field required", at))
		} else if _, err := r.Schema(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", at, err))
		}
		if r.MaxLimit < 0 {
			errs = append(errs, fmt.Errorf("%s.maxLimit: must not be negative", at))
		}
		if conn := r.ConnectionName(); conn != DefaultConnection {
			if _, ok := c.Storage.Connections[conn]; !ok {
				errs = append(errs, fmt.Errorf("%s.connection: unknown connection %q", at, r.Connection))
			}
		}
		for name, route := range r.Routes {
			if _, err := crud.ParseEndpoint(name); err != nil {
				errs = append(errs, fmt.Errorf("%s.routes: %w", at, err))
			}
			for _, g := range route.Guards {
				switch g {
				case GuardBasic:
					if len(c.Auth.Basic.Credentials) == 0 {
						errs = append(errs, fmt.Errorf("%s.routes.%s: basic guard without auth.basic.credentials", at, name))
					}
				case GuardOIDC:
					if !c.Auth.OIDC.Enabled() {
						errs = append(errs, fmt.Errorf("%s.routes.%s: oidc guard without auth.oidc.issuer", at, name))
					}
				default:
					errs = append(errs, fmt.Errorf("%s.routes.%s: unknown guard %q", at, name, g))
				}
			}
		}
	}
	return errors.Join(errs...)
}
