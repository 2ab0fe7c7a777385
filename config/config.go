package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Env     string `env:"ENV" envDefault:"development"`
	Version string `env:"VERSION" envDefault:"1.0.0"`

	Server     ServerConfig     `envPrefix:"SERVER_"`
	Pipeline   PipelineConfig   `envPrefix:"PIPELINE_"`
	Twitch     TwitchConfig     `envPrefix:"TWITCH_"`
	YouTube    YouTubeConfig    `envPrefix:"YOUTUBE_"`
	Kick       KickConfig       `envPrefix:"KICK_"`
	Extractor  ExtractorConfig  `envPrefix:"EXTRACT_"`
	AssemblyAI AssemblyAIConfig `envPrefix:"ASSEMBLYAI_"`
	OpenAI     OpenAIConfig     `envPrefix:"OPENAI_"`
	Spaces     SpacesConfig     `envPrefix:"SPACES_"`
	Database   DatabaseConfig   `envPrefix:"DB_"`
	CORS       CORSConfig       `envPrefix:"CORS_"`
	RateLimit  RateLimitConfig  `envPrefix:"RATE_LIMIT_"`
	Log        LogConfig        `envPrefix:"LOG_"`
	Billing    BillingConfig    `envPrefix:"BILLING_"`
}

type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"75s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES" envDefault:"4096"`
}

type PipelineConfig struct {
	// Budget bounds a whole catch-up request, every stage included.
	Budget                        time.Duration `env:"BUDGET" envDefault:"60s"`
	MaxDurationMinutes            int           `env:"MAX_DURATION_MINUTES" envDefault:"60"`
	TransientRetries              int           `env:"TRANSIENT_RETRIES" envDefault:"2"`
	RetryScope                    string        `env:"RETRY_SCOPE" envDefault:"request"`
	BackoffInitial                time.Duration `env:"BACKOFF_INITIAL" envDefault:"500ms"`
	BackoffMax                    time.Duration `env:"BACKOFF_MAX" envDefault:"4s"`
	DegradeOnTranscriptionFailure bool          `env:"DEGRADE_ON_TRANSCRIPTION_FAILURE" envDefault:"true"`
	IncludeTranscript             bool          `env:"INCLUDE_TRANSCRIPT" envDefault:"true"`
}

type TwitchConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	// AppToken skips the client credentials exchange when set.
	AppToken string        `env:"APP_TOKEN"`
	APIURL   string        `env:"API_URL" envDefault:"https://api.twitch.tv/helix"`
	AuthURL  string        `env:"AUTH_URL" envDefault:"https://id.twitch.tv/oauth2/token"`
	VideoURL string        `env:"VIDEO_URL" envDefault:"https://www.twitch.tv/videos"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

type YouTubeConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:"https://www.youtube.com"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

type KickConfig struct {
	APIURL   string        `env:"API_URL" envDefault:"https://kick.com/api/v2"`
	VideoURL string        `env:"VIDEO_URL" envDefault:"https://kick.com/video"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

type ExtractorConfig struct {
	BinaryPath    string        `env:"BINARY" envDefault:"yt-dlp"`
	TempDir       string        `env:"TEMP_DIR" envDefault:"/tmp/catchup"`
	UserAgent     string        `env:"USER_AGENT" envDefault:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"`
	SocketTimeout time.Duration `env:"SOCKET_TIMEOUT" envDefault:"15s"`
	// RetryScope overrides PipelineConfig.RetryScope for extraction only.
	RetryScope string `env:"RETRY_SCOPE"`
	Proxy      string `env:"PROXY"`
	MaxBytes   int64  `env:"MAX_BYTES" envDefault:"104857600"`
}

type AssemblyAIConfig struct {
	APIKey       string        `env:"API_KEY"`
	BaseURL      string        `env:"BASE_URL" envDefault:"https://api.assemblyai.com/v2"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	MaxWait      time.Duration `env:"MAX_WAIT" envDefault:"40s"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"30s"`
	// CleanupTimeout bounds the background release of staged audio.
	CleanupTimeout time.Duration `env:"CLEANUP_TIMEOUT" envDefault:"10s"`
}

type OpenAIConfig struct {
	APIKey             string        `env:"API_KEY"`
	BaseURL            string        `env:"BASE_URL" envDefault:"https://api.openai.com/v1"`
	Model              string        `env:"MODEL" envDefault:"gpt-4o-mini"`
	MaxTokens          int           `env:"MAX_TOKENS" envDefault:"500"`
	Temperature        float64       `env:"TEMPERATURE" envDefault:"0.3"`
	MaxTranscriptChars int           `env:"MAX_TRANSCRIPT_CHARS" envDefault:"12000"`
	Timeout            time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// SpacesConfig enables staging audio in an S3 compatible bucket instead of
// the transcription provider's upload endpoint.
type SpacesConfig struct {
	Enabled   bool          `env:"ENABLED" envDefault:"false"`
	Endpoint  string        `env:"ENDPOINT"`
	Region    string        `env:"REGION" envDefault:"nyc3"`
	Bucket    string        `env:"BUCKET"`
	AccessKey string        `env:"ACCESS_KEY"`
	SecretKey string        `env:"SECRET_KEY"`
	Prefix    string        `env:"PREFIX" envDefault:"catchup"`
	URLExpiry time.Duration `env:"URL_EXPIRY" envDefault:"15m"`
}

type DatabaseConfig struct {
	Enabled         bool          `env:"ENABLED" envDefault:"true"`
	Path            string        `env:"PATH" envDefault:"./data/catchup.db"`
	MaxConnections  int           `env:"MAX_CONNECTIONS" envDefault:"10"`
	MaxIdle         int           `env:"MAX_IDLE" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"1h"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
}

type CORSConfig struct {
	Enabled          bool     `env:"ENABLED" envDefault:"true"`
	AllowedOrigins   []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	AllowedMethods   []string `env:"ALLOWED_METHODS" envDefault:"GET,POST,OPTIONS" envSeparator:","`
	AllowedHeaders   []string `env:"ALLOWED_HEADERS" envDefault:"Content-Type" envSeparator:","`
	ExposedHeaders   []string `env:"EXPOSED_HEADERS" envDefault:"X-Request-ID" envSeparator:","`
	AllowCredentials bool     `env:"ALLOW_CREDENTIALS" envDefault:"false"`
	MaxAge           int      `env:"MAX_AGE" envDefault:"86400"`
}

type RateLimitConfig struct {
	Enabled           bool `env:"ENABLED" envDefault:"true"`
	RequestsPerMinute int  `env:"RPM" envDefault:"30"`
	BurstSize         int  `env:"BURST" envDefault:"5"`
}

type LogConfig struct {
	Level      string `env:"LEVEL" envDefault:"info"`
	Dir        string `env:"DIR"`
	MaxSizeMB  int    `env:"MAX_SIZE_MB" envDefault:"10"`
	MaxBackups int    `env:"MAX_BACKUPS" envDefault:"3"`
	MaxAgeDays int    `env:"MAX_AGE_DAYS" envDefault:"28"`
}

type BillingConfig struct {
	CreditsPerMinute int `env:"CREDITS_PER_MINUTE" envDefault:"10"`
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("Failed to read .env file")
	}

	cfg, err := Parse()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads the environment without validating or touching the
// filesystem.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "environment variables are invalid")
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validatePaths(c); err != nil {
		return err
	}

	if err := validateTimeouts(c); err != nil {
		return err
	}

	if err := validateServices(c); err != nil {
		return err
	}

	return nil
}

// MissingProviders lists providers the pipeline needs but has no
// credentials for. The service still starts; health reports degraded.
func (c *Config) MissingProviders() []string {
	var missing []string
	if c.Twitch.AppToken == "" && (c.Twitch.ClientID == "" || c.Twitch.ClientSecret == "") {
		missing = append(missing, "twitch")
	}
	if c.AssemblyAI.APIKey == "" {
		missing = append(missing, "assemblyai")
	}
	if c.OpenAI.APIKey == "" {
		missing = append(missing, "openai")
	}
	return missing
}

func validatePaths(c *Config) error {
	paths := []struct {
		path string
		name string
	}{
		{c.Extractor.TempDir, "temp directory"},
	}
	if c.Log.Dir != "" {
		paths = append(paths, struct {
			path string
			name string
		}{c.Log.Dir, "log directory"})
	}
	if c.Database.Enabled {
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
		paths = append(paths, struct {
			path string
			name string
		}{filepath.Dir(c.Database.Path), "database directory"})
	}

	for _, p := range paths {
		if err := os.MkdirAll(p.path, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", p.name, err)
		}
	}

	return nil
}

func validateTimeouts(c *Config) error {
	if c.Server.ReadTimeout <= 0 {
		return errors.New("read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return errors.New("write timeout must be positive")
	}
	if c.Pipeline.Budget <= 0 {
		return errors.New("pipeline budget must be positive")
	}
	if c.Server.WriteTimeout < c.Pipeline.Budget {
		return fmt.Errorf("write timeout %s must not be shorter than the pipeline budget %s", c.Server.WriteTimeout, c.Pipeline.Budget)
	}
	if c.AssemblyAI.PollInterval <= 0 {
		return errors.New("assemblyai poll interval must be positive")
	}
	if c.AssemblyAI.MaxWait <= 0 {
		return errors.New("assemblyai max wait must be positive")
	}
	return nil
}

func validateServices(c *Config) error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Pipeline.MaxDurationMinutes <= 0 {
		return errors.New("max duration must be positive")
	}
	if c.Pipeline.TransientRetries < 0 {
		return errors.New("transient retries must not be negative")
	}
	for _, scope := range []string{c.Pipeline.RetryScope, c.Extractor.RetryScope} {
		if scope != "" && scope != "request" && scope != "attempt" {
			return fmt.Errorf("retry scope %q must be request or attempt", scope)
		}
	}
	if c.Billing.CreditsPerMinute < 0 {
		return errors.New("credits per minute must not be negative")
	}
	if c.Spaces.Enabled && (c.Spaces.Endpoint == "" || c.Spaces.Bucket == "") {
		return errors.New("spaces staging needs an endpoint and a bucket")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return errors.New("rate limit must be positive when enabled")
	}
	return nil
}

// ExtractRetryScope resolves the scope used for extraction retries.
func (c *Config) ExtractRetryScope() string {
	if c.Extractor.RetryScope != "" {
		return c.Extractor.RetryScope
	}
	return c.Pipeline.RetryScope
}
