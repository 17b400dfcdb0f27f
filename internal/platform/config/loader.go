package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the variable that points at an explicit config file.
const EnvConfigPath = "NRICH_CONFIG"

var defaultPaths = []string{".config.yaml", "config.yaml"}

// Loader reads YAML over DefaultConfig and then applies environment overrides.
type Loader struct {
	useDotEnv bool
	path      string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader that searches the default paths and loads .env first.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		lookupEnv: os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath pins the config file instead of searching the default locations.
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// WithEnv overrides environment lookup (useful for tests).
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookupEnv = lookup
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load resolves the configuration. A missing file is not an error; defaults apply.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// .env is optional.
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	path := l.resolvePath()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	l.applyEnv(cfg)

	if err := l.validate(cfg); err != nil {
		return nil, err
	}
	return &Result{Config: cfg, Path: path}, nil
}

func (l *Loader) resolvePath() string {
	if l.path != "" {
		return l.path
	}
	if env, ok := l.lookupEnv(EnvConfigPath); ok && env != "" {
		return env
	}
	for _, candidate := range defaultPaths {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func (l *Loader) applyEnv(cfg *Config) {
	set := func(key string, target *string) {
		if v, ok := l.lookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*target = strings.TrimSpace(v)
		}
	}
	set("NRICH_BASE_URL", &cfg.Web.BaseURL)
	set("NRICH_API_URL", &cfg.Login.APIBaseURL)
	set("NRICH_CRYPTO_KEY_SECRET", &cfg.Login.CryptoSecret)
	set("NRICH_PRESENCE_SECRET", &cfg.Presence.JWTSecret)
	set("NRICH_LOG_LEVEL", &cfg.Log.Level)
	set("NRICH_SERVER_TOKEN", &cfg.Server.Token)

	if v, ok := l.lookupEnv("NRICH_REDIS_ADDR"); ok && v != "" {
		cfg.Presence.Redis.Addr = v
		cfg.Store.Redis.Addr = v
	}
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Transport.WebSocket.Enabled && (cfg.Transport.WebSocket.Port <= 0 || cfg.Transport.WebSocket.Port > 65535) {
		return fmt.Errorf("invalid websocket port %d", cfg.Transport.WebSocket.Port)
	}
	switch strings.ToLower(cfg.Presence.Backend) {
	case "memory":
	case "redis":
		if cfg.Presence.Redis.Addr == "" {
			return fmt.Errorf("presence redis backend requires an address")
		}
	default:
		return fmt.Errorf("unsupported presence backend %q", cfg.Presence.Backend)
	}
	switch strings.ToLower(cfg.Store.Type) {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("unsupported store type %q", cfg.Store.Type)
	}
	if strings.TrimSpace(cfg.Web.BaseURL) == "" {
		return fmt.Errorf("web.base_url must not be empty")
	}
	return nil
}
