package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	JWT        JWTConfig
	RateLimit  RateLimitConfig
	Pipeline   PipelineConfig
	Retry      RetryConfig
	Storyboard StoryboardConfig
	VideoGen   VideoGenConfig
	Compositor CompositorConfig
	R2         R2Config
}

type ServerConfig struct {
	Port string
	Env  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type RateLimitConfig struct {
	SubmitPerHour int
	CancelPerMin  int
}

// PipelineConfig holds the orchestrator and worker-pool knobs
type PipelineConfig struct {
	Workers         int  // global clip-generation concurrency ceiling
	QueueSize       int  // shared clip queue capacity
	SubmitTimeoutMs int  // bounded wait before Submit reports backpressure
	EventRingSize   int  // retained progress events per job
	GraceSec        int  // subscription drain window after terminal state
	AllowPartial    bool // compose with the clips that succeeded instead of failing fast
}

// RetrySettings is the per-collaborator retry policy configuration
type RetrySettings struct {
	MaxAttempts int
	BaseDelayMs int
	MaxDelayMs  int
}

type RetryConfig struct {
	Planning RetrySettings
	Clip     RetrySettings
	Compose  RetrySettings
}

type StoryboardConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	TimeoutSec int
}

type VideoGenConfig struct {
	APIKey          string
	BaseURL         string
	PollIntervalSec int
	MaxWaitSec      int
}

type CompositorConfig struct {
	ServiceURL string
	TimeoutSec int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("STORYBOARD_API_KEY")
	readSecret("VIDEOGEN_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("pipeline.workers", "PIPELINE_WORKERS")
	_ = viper.BindEnv("pipeline.queue_size", "PIPELINE_QUEUE_SIZE")
	_ = viper.BindEnv("pipeline.allow_partial", "PIPELINE_ALLOW_PARTIAL")
	_ = viper.BindEnv("storyboard.api_key", "STORYBOARD_API_KEY")
	_ = viper.BindEnv("storyboard.base_url", "STORYBOARD_BASE_URL")
	_ = viper.BindEnv("storyboard.model", "STORYBOARD_MODEL")
	_ = viper.BindEnv("videogen.api_key", "VIDEOGEN_API_KEY")
	_ = viper.BindEnv("videogen.base_url", "VIDEOGEN_BASE_URL")
	_ = viper.BindEnv("compositor.service_url", "COMPOSITOR_SERVICE_URL")
	_ = viper.BindEnv("compositor.timeout", "COMPOSITOR_TIMEOUT")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("ratelimit.submit_per_hour", 20)
	viper.SetDefault("ratelimit.cancel_per_min", 30)

	viper.SetDefault("pipeline.workers", 8)
	viper.SetDefault("pipeline.queue_size", 256)
	viper.SetDefault("pipeline.submit_timeout_ms", 500)
	viper.SetDefault("pipeline.event_ring_size", 200)
	viper.SetDefault("pipeline.grace_sec", 5)
	viper.SetDefault("pipeline.allow_partial", false)

	viper.SetDefault("retry.planning.max_attempts", 3)
	viper.SetDefault("retry.planning.base_delay_ms", 1000)
	viper.SetDefault("retry.planning.max_delay_ms", 15000)
	viper.SetDefault("retry.clip.max_attempts", 3)
	viper.SetDefault("retry.clip.base_delay_ms", 2000)
	viper.SetDefault("retry.clip.max_delay_ms", 60000)
	viper.SetDefault("retry.compose.max_attempts", 2)
	viper.SetDefault("retry.compose.base_delay_ms", 2000)
	viper.SetDefault("retry.compose.max_delay_ms", 30000)

	viper.SetDefault("storyboard.base_url", "https://api.groq.com/openai/v1")
	viper.SetDefault("storyboard.model", "llama-3.3-70b-versatile")
	viper.SetDefault("storyboard.timeout", 60)

	viper.SetDefault("videogen.base_url", "https://api.videogen.example.com")
	viper.SetDefault("videogen.poll_interval", 5)
	viper.SetDefault("videogen.max_wait", 600)

	viper.SetDefault("compositor.service_url", "http://localhost:8084")
	viper.SetDefault("compositor.timeout", 300)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		RateLimit: RateLimitConfig{
			SubmitPerHour: viper.GetInt("ratelimit.submit_per_hour"),
			CancelPerMin:  viper.GetInt("ratelimit.cancel_per_min"),
		},
		Pipeline: PipelineConfig{
			Workers:         viper.GetInt("pipeline.workers"),
			QueueSize:       viper.GetInt("pipeline.queue_size"),
			SubmitTimeoutMs: viper.GetInt("pipeline.submit_timeout_ms"),
			EventRingSize:   viper.GetInt("pipeline.event_ring_size"),
			GraceSec:        viper.GetInt("pipeline.grace_sec"),
			AllowPartial:    viper.GetBool("pipeline.allow_partial"),
		},
		Retry: RetryConfig{
			Planning: RetrySettings{
				MaxAttempts: viper.GetInt("retry.planning.max_attempts"),
				BaseDelayMs: viper.GetInt("retry.planning.base_delay_ms"),
				MaxDelayMs:  viper.GetInt("retry.planning.max_delay_ms"),
			},
			Clip: RetrySettings{
				MaxAttempts: viper.GetInt("retry.clip.max_attempts"),
				BaseDelayMs: viper.GetInt("retry.clip.base_delay_ms"),
				MaxDelayMs:  viper.GetInt("retry.clip.max_delay_ms"),
			},
			Compose: RetrySettings{
				MaxAttempts: viper.GetInt("retry.compose.max_attempts"),
				BaseDelayMs: viper.GetInt("retry.compose.base_delay_ms"),
				MaxDelayMs:  viper.GetInt("retry.compose.max_delay_ms"),
			},
		},
		Storyboard: StoryboardConfig{
			APIKey:     viper.GetString("storyboard.api_key"),
			BaseURL:    viper.GetString("storyboard.base_url"),
			Model:      viper.GetString("storyboard.model"),
			TimeoutSec: viper.GetInt("storyboard.timeout"),
		},
		VideoGen: VideoGenConfig{
			APIKey:          viper.GetString("videogen.api_key"),
			BaseURL:         viper.GetString("videogen.base_url"),
			PollIntervalSec: viper.GetInt("videogen.poll_interval"),
			MaxWaitSec:      viper.GetInt("videogen.max_wait"),
		},
		Compositor: CompositorConfig{
			ServiceURL: viper.GetString("compositor.service_url"),
			TimeoutSec: viper.GetInt("compositor.timeout"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
	}

	return cfg, nil
}
