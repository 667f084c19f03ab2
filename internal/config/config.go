package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Bloque app (opcional en YAML).
	App struct {
		// dev | prod | test
		Env string `yaml:"env"`
	} `yaml:"app"`

	Backend struct {
		BaseURL      string        `yaml:"base_url"`
		Timeout      time.Duration `yaml:"timeout"`
		ReadRetries  int           `yaml:"read_retries"`
		RetryBackoff time.Duration `yaml:"retry_backoff"`
		UserAgent    string        `yaml:"user_agent"`
	} `yaml:"backend"`

	Storage struct {
		Driver string `yaml:"driver"` // file | memory | redis
		Path   string `yaml:"path"`   // driver file
		Prefix string `yaml:"prefix"`
		Redis  struct {
			Addr string `yaml:"addr"`
			DB   int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"storage"`

	Cart struct {
		BusyPolicy string `yaml:"busy_policy"` // queue | reject
	} `yaml:"cart"`

	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"` // vacío = stderr
	} `yaml:"log"`

	// Backend de referencia (cmd/devserver).
	Devserver struct {
		Addr     string        `yaml:"addr"`
		Secret   string        `yaml:"secret"`
		TokenTTL time.Duration `yaml:"token_ttl"`
		Catalog  []Variant     `yaml:"catalog"`
		Users    []User        `yaml:"users"`
	} `yaml:"devserver"`
}

// Variant es una entrada del catálogo del devserver.
type Variant struct {
	ID     string `yaml:"id"`
	Price  int64  `yaml:"price"`
	Stock  int    `yaml:"stock"`
	Active *bool  `yaml:"active"` // nil = activo
}

// User es un usuario sembrado en el devserver.
type User struct {
	ID       string `yaml:"id"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

var (
	ErrInvalidBaseURL    = errors.New("config: backend.base_url must be an absolute http(s) URL")
	ErrInvalidDriver     = errors.New("config: storage.driver must be file, memory or redis")
	ErrInvalidBusyPolicy = errors.New("config: cart.busy_policy must be queue or reject")
)

// Default devuelve la config sin archivo: backend local y storage en archivo.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// Load lee el YAML en path, aplica defaults y overrides de entorno (CARTSYNC_*) y valida.
// path vacío = solo defaults + entorno.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	c.applyEnvOverrides()
	c.applyDefaults()

	// ruta relativa del storage respecto al directorio del YAML
	if p := strings.TrimSpace(c.Storage.Path); p != "" && path != "" && !filepath.IsAbs(p) {
		c.Storage.Path = filepath.Clean(filepath.Join(filepath.Dir(path), p))
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = "http://localhost:8089"
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 10 * time.Second
	}
	if c.Backend.RetryBackoff == 0 {
		c.Backend.RetryBackoff = 200 * time.Millisecond
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if c.Storage.Driver == "file" && c.Storage.Path == "" {
		c.Storage.Path = defaultStatePath()
	}
	if c.Storage.Redis.Addr == "" {
		c.Storage.Redis.Addr = "localhost:6379"
	}
	if c.Cart.BusyPolicy == "" {
		c.Cart.BusyPolicy = "queue"
	}
	if c.Log.Level == "" {
		c.Log.Level = "warn"
	}
	if c.Devserver.Addr == "" {
		c.Devserver.Addr = ":8089"
	}
	if c.Devserver.TokenTTL == 0 {
		c.Devserver.TokenTTL = time.Hour
	}
}

func defaultStatePath() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "cartsync", "state.json")
	}
	return filepath.Join(".cartsync", "state.json")
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

// applyEnvOverrides: pisa el YAML con variables CARTSYNC_*.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("CARTSYNC_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}

	// BACKEND
	if v, ok := getEnvStr("CARTSYNC_BACKEND_URL"); ok {
		c.Backend.BaseURL = v
	}
	if v, ok := getEnvDur("CARTSYNC_BACKEND_TIMEOUT"); ok {
		c.Backend.Timeout = v
	}
	if v, ok := getEnvInt("CARTSYNC_READ_RETRIES"); ok {
		c.Backend.ReadRetries = v
	}

	// STORAGE
	if v, ok := getEnvStr("CARTSYNC_STORAGE_DRIVER"); ok {
		c.Storage.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("CARTSYNC_STORAGE_PATH"); ok {
		c.Storage.Path = v
	}
	if v, ok := getEnvStr("CARTSYNC_STORAGE_PREFIX"); ok {
		c.Storage.Prefix = v
	}
	if v, ok := getEnvStr("CARTSYNC_REDIS_ADDR"); ok {
		c.Storage.Redis.Addr = v
	}
	if v, ok := getEnvInt("CARTSYNC_REDIS_DB"); ok {
		c.Storage.Redis.DB = v
	}

	if v, ok := getEnvStr("CARTSYNC_BUSY_POLICY"); ok {
		c.Cart.BusyPolicy = strings.ToLower(v)
	}
	if v, ok := getEnvStr("CARTSYNC_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvStr("CARTSYNC_LOG_FILE"); ok {
		c.Log.File = v
	}

	// DEVSERVER
	if v, ok := getEnvStr("CARTSYNC_DEVSERVER_ADDR"); ok {
		c.Devserver.Addr = v
	}
	if v, ok := getEnvStr("CARTSYNC_DEVSERVER_SECRET"); ok {
		c.Devserver.Secret = v
	}
	if v, ok := getEnvDur("CARTSYNC_DEVSERVER_TOKEN_TTL"); ok {
		c.Devserver.TokenTTL = v
	}
}

// Validate revisa los valores que el engine necesita para arrancar.
func (c *Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.Backend.BaseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidBaseURL
	}
	if c.Backend.Timeout < 0 || c.Backend.RetryBackoff < 0 {
		return errors.New("config: backend durations must not be negative")
	}
	if c.Backend.ReadRetries < 0 {
		return errors.New("config: backend.read_retries must be >= 0")
	}
	switch c.Storage.Driver {
	case "file":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return errors.New("config: storage.path is required for the file driver")
		}
	case "memory", "redis":
	default:
		return ErrInvalidDriver
	}
	switch c.Cart.BusyPolicy {
	case "queue", "reject":
	default:
		return ErrInvalidBusyPolicy
	}
	seen := map[string]bool{}
	for _, v := range c.Devserver.Catalog {
		if strings.TrimSpace(v.ID) == "" {
			return errors.New("config: devserver.catalog entry without id")
		}
		if seen[v.ID] {
			return fmt.Errorf("config: devserver.catalog duplicate id %q", v.ID)
		}
		seen[v.ID] = true
		if v.Price < 0 || v.Stock < 0 {
			return fmt.Errorf("config: devserver.catalog %q: price and stock must be >= 0", v.ID)
		}
	}
	return nil
}

// IsActive: una variante sin flag explícito está activa.
func (v Variant) IsActive() bool { return v.Active == nil || *v.Active }
