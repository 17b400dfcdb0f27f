package config

import "time"

const (
	// DefaultBaseURL is where unauthenticated visitors and logged-out users are sent.
	DefaultBaseURL = "https://nrichlearning.com/"
	// DefaultAPIBaseURL is the CRM backend used for the token exchange.
	DefaultAPIBaseURL = "http://localhost:1011"
	// DefaultCryptoSecret is the placeholder secret; a warning is logged while it is in use.
	DefaultCryptoSecret = "your-secret-key-here"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:   "0.0.0.0",
			Port: 8080,
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "session-guard.log",
		},
		Web: WebConfig{
			StaticDir:    "./web",
			BaseURL:      DefaultBaseURL,
			AllowOrigins: []string{"*"},
		},
		Transport: TransportConfig{
			WebSocket: WebSocketConfig{
				Enabled:          true,
				IP:               "0.0.0.0",
				Port:             8000,
				Path:             "/presence",
				HandshakeTimeout: 10 * time.Second,
				PingInterval:     30 * time.Second,
			},
		},
		Presence: PresenceConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Prefix: "presence:",
			},
			Audit: true,
		},
		Store: StoreConfig{
			Type:      "sqlite",
			Namespace: "local",
			Cleanup:   10 * time.Minute,
			Redis: RedisConfig{
				Prefix: "kv:",
			},
		},
		Storage: StorageConfig{
			Enabled: true,
			DSN:     "data/session-guard.db",
		},
		Login: LoginConfig{
			APIBaseURL:   DefaultAPIBaseURL,
			CryptoSecret: DefaultCryptoSecret,
			Timeout:      10 * time.Second,
			Retries:      1,
			CookieDays:   180,
		},
		Session: SessionConfig{
			PreserveKeys: []string{"la", "lo", "city"},
		},
		Agent: AgentConfig{
			PresenceURL: "ws://127.0.0.1:8000/presence",
			StartPath:   "/",
		},
	}
}
