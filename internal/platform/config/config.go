package config

import (
	"time"
)

// Config is the full runtime configuration shared by the edge service and the agent.
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Web       WebConfig       `yaml:"web" mapstructure:"web"`
	Transport TransportConfig `yaml:"transport" mapstructure:"transport"`
	Presence  PresenceConfig  `yaml:"presence" mapstructure:"presence"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Login     LoginConfig     `yaml:"login" mapstructure:"login"`
	Session   SessionConfig   `yaml:"session" mapstructure:"session"`
	Agent     AgentConfig     `yaml:"agent" mapstructure:"agent"`
}

// ServerConfig describes the HTTP edge listener. Token guards the operator API.
type ServerConfig struct {
	IP    string `yaml:"ip" mapstructure:"ip"`
	Port  int    `yaml:"port" mapstructure:"port"`
	Token string `yaml:"token" mapstructure:"token"`
}

type LogConfig struct {
	Level string `yaml:"log_level" mapstructure:"log_level"`
	Dir   string `yaml:"log_dir" mapstructure:"log_dir"`
	File  string `yaml:"log_file" mapstructure:"log_file"`
}

// WebConfig holds the dashboard-facing settings.
type WebConfig struct {
	StaticDir    string   `yaml:"static_dir" mapstructure:"static_dir"`
	BaseURL      string   `yaml:"base_url" mapstructure:"base_url"`
	AllowOrigins []string `yaml:"allow_origins" mapstructure:"allow_origins"`
}

// TransportConfig 传输层配置
type TransportConfig struct {
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
}

type WebSocketConfig struct {
	Enabled          bool          `yaml:"enabled" mapstructure:"enabled"`
	IP               string        `yaml:"ip" mapstructure:"ip"`
	Port             int           `yaml:"port" mapstructure:"port"`
	Path             string        `yaml:"path" mapstructure:"path"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" mapstructure:"handshake_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
}

// PresenceConfig selects the presence tree backend and the token secret used by the ACL.
type PresenceConfig struct {
	Backend   string      `yaml:"backend" mapstructure:"backend"`
	JWTSecret string      `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	Redis     RedisConfig `yaml:"redis" mapstructure:"redis"`
	Audit     bool        `yaml:"audit" mapstructure:"audit"`
}

// StoreConfig selects the driver behind the agent's persistent local store.
type StoreConfig struct {
	Type      string        `yaml:"type" mapstructure:"type"`
	Namespace string        `yaml:"namespace" mapstructure:"namespace"`
	Cleanup   time.Duration `yaml:"cleanup" mapstructure:"cleanup"`
	Redis     RedisConfig   `yaml:"redis,omitempty" mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db,omitempty" mapstructure:"db"`
	Prefix   string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

// StorageConfig points at the sqlite database used for the local store and presence audit.
type StorageConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
}

// LoginConfig drives the encrypted-identifier exchange.
type LoginConfig struct {
	APIBaseURL   string        `yaml:"api_base_url" mapstructure:"api_base_url"`
	CryptoSecret string        `yaml:"crypto_secret" mapstructure:"crypto_secret"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Retries      int           `yaml:"retries" mapstructure:"retries"`
	CookieDays   int           `yaml:"cookie_days" mapstructure:"cookie_days"`
}

// SessionConfig lists the keys that survive logout.
type SessionConfig struct {
	PreserveKeys []string `yaml:"preserve_keys" mapstructure:"preserve_keys"`
}

// AgentConfig configures the headless client runtime.
type AgentConfig struct {
	PresenceURL     string `yaml:"presence_url" mapstructure:"presence_url"`
	LoginURL        string `yaml:"login_url" mapstructure:"login_url"`
	StartPath       string `yaml:"start_path" mapstructure:"start_path"`
	AutoAcknowledge bool   `yaml:"auto_acknowledge" mapstructure:"auto_acknowledge"`
}
