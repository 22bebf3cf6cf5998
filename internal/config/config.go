package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"relaygate/pkg/types"
)

// Config is the system-wide settings object, assembled once at startup and
// passed down explicitly.
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Auth      *AuthConfig      `json:"auth"`
	Proxy     *ProxyConfig     `json:"proxy"`
	Redis     *RedisConfig     `json:"redis"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// SeedCredential provisions an API key at startup, for deployments that
// configure credentials instead of administering the SQLite table.
type SeedCredential struct {
	APIKey string `json:"api_key"`
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type AuthConfig struct {
	TokenTTL         time.Duration    `json:"token_ttl"`
	CredentialDBPath string           `json:"credential_db_path"`
	DBTimeout        time.Duration    `json:"db_timeout"`
	SeedCredentials  []SeedCredential `json:"seed_credentials"`
}

type ProxyConfig struct {
	ConnectTimeout     time.Duration `json:"connect_timeout"`
	IdleTimeout        time.Duration `json:"idle_timeout"`
	SweepInterval      time.Duration `json:"sweep_interval"`
	ViolationThreshold int           `json:"violation_threshold"`
	ReadBufferSize     int           `json:"read_buffer_size"`
}

// RedisConfig selects the shared session backend; an empty Addr keeps
// sessions in memory on the single node.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Auth: &AuthConfig{
			TokenTTL:         12 * time.Hour,
			CredentialDBPath: "./relaygate.db",
			DBTimeout:        30 * time.Second,
		},
		Proxy: &ProxyConfig{
			ConnectTimeout:     10 * time.Second,
			IdleTimeout:        5 * time.Minute,
			SweepInterval:      30 * time.Second,
			ViolationThreshold: 10,
			ReadBufferSize:     32 * 1024,
		},
		Redis: &RedisConfig{},
	}
}

// Validate catches invalid configurations before any component starts.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket intervals must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}
	if c.Auth.CredentialDBPath == "" {
		return fmt.Errorf("credential database path cannot be empty")
	}
	if c.Auth.DBTimeout <= 0 {
		return fmt.Errorf("credential database timeout must be positive")
	}
	for i, seed := range c.Auth.SeedCredentials {
		if seed.APIKey == "" || seed.UserID == "" || seed.Role == "" {
			return fmt.Errorf("seed credential %d is incomplete", i)
		}
		// Unknown roles would otherwise surface only when the credential is
		// presented; catch the operator mistake at load time.
		if !types.IsValidRole(seed.Role) {
			return fmt.Errorf("seed credential %d has unknown role %q", i, seed.Role)
		}
	}
	if c.Proxy == nil {
		return fmt.Errorf("proxy configuration is required")
	}
	if c.Proxy.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.Proxy.IdleTimeout <= 0 || c.Proxy.SweepInterval <= 0 {
		return fmt.Errorf("idle timeout and sweep interval must be positive")
	}
	if c.Proxy.ViolationThreshold <= 0 {
		return fmt.Errorf("violation threshold must be positive")
	}
	if c.Proxy.ReadBufferSize <= 0 {
		return fmt.Errorf("read buffer size must be positive")
	}
	if c.Redis == nil {
		return fmt.Errorf("redis configuration is required")
	}
	return nil
}

// LoadFromEnv overrides defaults with RELAYGATE_* environment variables.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if host := os.Getenv("RELAYGATE_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if port := os.Getenv("RELAYGATE_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	envDuration("RELAYGATE_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("RELAYGATE_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)

	envDuration("RELAYGATE_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("RELAYGATE_WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("RELAYGATE_WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	if size := os.Getenv("RELAYGATE_WEBSOCKET_BUFFER_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			config.WebSocket.BufferSize = n
		}
	}

	envDuration("RELAYGATE_AUTH_TOKEN_TTL", &config.Auth.TokenTTL)
	if path := os.Getenv("RELAYGATE_AUTH_CREDENTIAL_DB"); path != "" {
		config.Auth.CredentialDBPath = path
	}
	envDuration("RELAYGATE_AUTH_DB_TIMEOUT", &config.Auth.DBTimeout)

	envDuration("RELAYGATE_PROXY_CONNECT_TIMEOUT", &config.Proxy.ConnectTimeout)
	envDuration("RELAYGATE_PROXY_IDLE_TIMEOUT", &config.Proxy.IdleTimeout)
	envDuration("RELAYGATE_PROXY_SWEEP_INTERVAL", &config.Proxy.SweepInterval)
	if threshold := os.Getenv("RELAYGATE_PROXY_VIOLATION_THRESHOLD"); threshold != "" {
		if n, err := strconv.Atoi(threshold); err == nil {
			config.Proxy.ViolationThreshold = n
		}
	}

	if addr := os.Getenv("RELAYGATE_REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if password := os.Getenv("RELAYGATE_REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	if db := os.Getenv("RELAYGATE_REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			config.Redis.DB = n
		}
	}

	return config
}

func envDuration(name string, target *time.Duration) {
	if value := os.Getenv(name); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			*target = d
		}
	}
}

// configFile mirrors Config with string durations for JSON readability.
type configFile struct {
	HTTP *struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval string `json:"ping_interval"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
		BufferSize   int    `json:"buffer_size"`
	} `json:"websocket"`
	Auth *struct {
		TokenTTL         string           `json:"token_ttl"`
		CredentialDBPath string           `json:"credential_db_path"`
		DBTimeout        string           `json:"db_timeout"`
		SeedCredentials  []SeedCredential `json:"seed_credentials"`
	} `json:"auth"`
	Proxy *struct {
		ConnectTimeout     string `json:"connect_timeout"`
		IdleTimeout        string `json:"idle_timeout"`
		SweepInterval      string `json:"sweep_interval"`
		ViolationThreshold int    `json:"violation_threshold"`
		ReadBufferSize     int    `json:"read_buffer_size"`
	} `json:"proxy"`
	Redis *RedisConfig `json:"redis"`
}

// LoadFromFile layers a JSON file over the defaults.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if file.HTTP != nil {
		if file.HTTP.Host != "" {
			config.HTTP.Host = file.HTTP.Host
		}
		if file.HTTP.Port > 0 {
			config.HTTP.Port = file.HTTP.Port
		}
		fileDuration(file.HTTP.ReadTimeout, &config.HTTP.ReadTimeout)
		fileDuration(file.HTTP.WriteTimeout, &config.HTTP.WriteTimeout)
	}
	if file.WebSocket != nil {
		fileDuration(file.WebSocket.PingInterval, &config.WebSocket.PingInterval)
		fileDuration(file.WebSocket.ReadTimeout, &config.WebSocket.ReadTimeout)
		fileDuration(file.WebSocket.WriteTimeout, &config.WebSocket.WriteTimeout)
		if file.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = file.WebSocket.BufferSize
		}
	}
	if file.Auth != nil {
		fileDuration(file.Auth.TokenTTL, &config.Auth.TokenTTL)
		if file.Auth.CredentialDBPath != "" {
			config.Auth.CredentialDBPath = file.Auth.CredentialDBPath
		}
		fileDuration(file.Auth.DBTimeout, &config.Auth.DBTimeout)
		config.Auth.SeedCredentials = file.Auth.SeedCredentials
	}
	if file.Proxy != nil {
		fileDuration(file.Proxy.ConnectTimeout, &config.Proxy.ConnectTimeout)
		fileDuration(file.Proxy.IdleTimeout, &config.Proxy.IdleTimeout)
		fileDuration(file.Proxy.SweepInterval, &config.Proxy.SweepInterval)
		if file.Proxy.ViolationThreshold > 0 {
			config.Proxy.ViolationThreshold = file.Proxy.ViolationThreshold
		}
		if file.Proxy.ReadBufferSize > 0 {
			config.Proxy.ReadBufferSize = file.Proxy.ReadBufferSize
		}
	}
	if file.Redis != nil {
		config.Redis = file.Redis
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

func fileDuration(value string, target *time.Duration) {
	if value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			*target = d
		}
	}
}

// LoadConfigWithPrecedence resolves configuration as file > environment >
// defaults. File errors fall back silently so env/defaults still serve.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}
	return config
}
