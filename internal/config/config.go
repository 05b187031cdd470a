package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Redis     RedisConfig
	Engine    EngineConfig
	Storage   StorageConfig
	R2        R2Config
	Workflows WorkflowsConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	WebSocket WebSocketConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type StoreConfig struct {
	Driver     string // "sqlite" or "redis"
	SQLitePath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type EngineConfig struct {
	Name             string
	URL              string
	ClientID         string
	Checkpoint       string
	SubmitTimeout    time.Duration
	DownloadTimeout  time.Duration
	ReconnectBackoff time.Duration
}

type StorageConfig struct {
	Driver    string // "local" or "r2"
	AssetsDir string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type WorkflowsConfig struct {
	Dir     string
	Default string
}

type AuthConfig struct {
	JWTSecret  string
	OIDCIssuer string
	Audience   string
}

// Enabled reports whether API routes require a bearer token
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != "" || a.OIDCIssuer != ""
}

type RateLimitConfig struct {
	JobsPerMin int
}

type WebSocketConfig struct {
	WriteTimeout  time.Duration
	PingInterval  time.Duration
	SnapshotLimit int
}

func Load() (*Config, error) {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("JWT_SECRET")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("store.driver", "STORE_DRIVER")
	_ = viper.BindEnv("store.sqlite_path", "SQLITE_PATH")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("engine.name", "ENGINE_NAME")
	_ = viper.BindEnv("engine.url", "COMFY_URL")
	_ = viper.BindEnv("engine.client_id", "ENGINE_CLIENT_ID")
	_ = viper.BindEnv("engine.checkpoint", "COMFY_CHECKPOINT")
	_ = viper.BindEnv("engine.submit_timeout", "ENGINE_SUBMIT_TIMEOUT")
	_ = viper.BindEnv("engine.download_timeout", "ENGINE_DOWNLOAD_TIMEOUT")
	_ = viper.BindEnv("engine.reconnect_backoff", "ENGINE_RECONNECT_BACKOFF")
	_ = viper.BindEnv("storage.driver", "STORAGE_DRIVER")
	_ = viper.BindEnv("storage.assets_dir", "ASSETS_DIR")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("workflows.dir", "WORKFLOWS_DIR")
	_ = viper.BindEnv("workflows.default", "DEFAULT_WORKFLOW")
	_ = viper.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("auth.oidc_issuer", "OIDC_ISSUER")
	_ = viper.BindEnv("auth.audience", "OIDC_AUDIENCE")
	_ = viper.BindEnv("ratelimit.jobs_per_min", "RATELIMIT_JOBS_PER_MIN")
	_ = viper.BindEnv("websocket.write_timeout", "WS_WRITE_TIMEOUT")
	_ = viper.BindEnv("websocket.ping_interval", "WS_PING_INTERVAL")
	_ = viper.BindEnv("websocket.snapshot_limit", "WS_SNAPSHOT_LIMIT")

	// Defaults
	viper.SetDefault("server.port", "8787")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("store.driver", "sqlite")
	viper.SetDefault("store.sqlite_path", "./data/cockpit.sqlite3")
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Engine defaults
	viper.SetDefault("engine.name", "comfy")
	viper.SetDefault("engine.url", "http://127.0.0.1:8188")
	viper.SetDefault("engine.client_id", "")
	viper.SetDefault("engine.checkpoint", "")
	viper.SetDefault("engine.submit_timeout", "10m")
	viper.SetDefault("engine.download_timeout", "60s")
	viper.SetDefault("engine.reconnect_backoff", "2s")

	// Storage defaults
	viper.SetDefault("storage.driver", "local")
	viper.SetDefault("storage.assets_dir", "./data/assets")
	viper.SetDefault("workflows.dir", "./workflows")
	viper.SetDefault("workflows.default", "flux2_klein_distilled")

	viper.SetDefault("ratelimit.jobs_per_min", 30)
	viper.SetDefault("websocket.write_timeout", "10s")
	viper.SetDefault("websocket.ping_interval", "30s")
	viper.SetDefault("websocket.snapshot_limit", 200)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(viper.GetString("store.driver")),
			SQLitePath: viper.GetString("store.sqlite_path"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Engine: EngineConfig{
			Name:             viper.GetString("engine.name"),
			URL:              strings.TrimRight(viper.GetString("engine.url"), "/"),
			ClientID:         viper.GetString("engine.client_id"),
			Checkpoint:       viper.GetString("engine.checkpoint"),
			SubmitTimeout:    viper.GetDuration("engine.submit_timeout"),
			DownloadTimeout:  viper.GetDuration("engine.download_timeout"),
			ReconnectBackoff: viper.GetDuration("engine.reconnect_backoff"),
		},
		Storage: StorageConfig{
			Driver:    strings.ToLower(viper.GetString("storage.driver")),
			AssetsDir: viper.GetString("storage.assets_dir"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Workflows: WorkflowsConfig{
			Dir:     viper.GetString("workflows.dir"),
			Default: viper.GetString("workflows.default"),
		},
		Auth: AuthConfig{
			JWTSecret:  viper.GetString("auth.jwt_secret"),
			OIDCIssuer: viper.GetString("auth.oidc_issuer"),
			Audience:   viper.GetString("auth.audience"),
		},
		RateLimit: RateLimitConfig{
			JobsPerMin: viper.GetInt("ratelimit.jobs_per_min"),
		},
		WebSocket: WebSocketConfig{
			WriteTimeout:  viper.GetDuration("websocket.write_timeout"),
			PingInterval:  viper.GetDuration("websocket.ping_interval"),
			SnapshotLimit: viper.GetInt("websocket.snapshot_limit"),
		},
	}

	return cfg, nil
}
