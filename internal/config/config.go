// Package config provides YAML-based configuration loading for reelyard.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level reelyard configuration, loaded from reelyard.yaml.
// It is read once at process start and treated as static afterwards.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Resilience  ResilienceConfig  `yaml:"resilience"`
	Fetch       FetchConfig       `yaml:"fetch"`
	Captions    CaptionsConfig    `yaml:"captions"`
	Media       MediaConfig       `yaml:"media"`
	Transcribe  TranscribeConfig  `yaml:"transcribe"`
	Diarize     DiarizeConfig     `yaml:"diarize"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Artifacts   ArtifactsConfig   `yaml:"artifacts"`
	Events      EventsConfig      `yaml:"events"`
	Status      StatusConfig      `yaml:"status"`
}

// DatabaseConfig selects the SQL backend and how to reach it.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // mysql, postgres or sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"` // sqlite file
	SSLMode  string `yaml:"sslmode"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// SchedulerConfig holds the polling loop tunables.
type SchedulerConfig struct {
	WorkerID          string        `yaml:"worker_id"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	RescueAfter       time.Duration `yaml:"rescue_after"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	RequeueSchedule   string        `yaml:"requeue_schedule"`
	RequeueBatch      int           `yaml:"requeue_batch"`
	MaxExpandAttempts int           `yaml:"max_expand_attempts"`
	ErrorMaxLength    int           `yaml:"error_max_length"`
}

// RetryConfig is one retry policy.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	Jitter         *bool         `yaml:"jitter"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// BreakerConfig is one circuit breaker's thresholds.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	SuccessThreshold int           `yaml:"success_threshold"`
}

// ResilienceConfig holds the default retry policy and breaker thresholds plus
// per-operation-family overrides keyed by family name (metadata, download,
// captions, transcribe).
type ResilienceConfig struct {
	Retry      RetryConfig              `yaml:"retry"`
	Breaker    BreakerConfig            `yaml:"breaker"`
	Operations map[string]RetryConfig   `yaml:"operations"`
	Breakers   map[string]BreakerConfig `yaml:"breakers"`
}

// FetchConfig drives the yt-dlp collaborator.
type FetchConfig struct {
	Binary          string   `yaml:"binary"`
	Clients         []string `yaml:"clients"`
	DisabledClients []string `yaml:"disabled_clients"`
	CookieFile      string   `yaml:"cookie_file"`
	Format          string   `yaml:"format"`
	WorkDir         string   `yaml:"work_dir"`
}

// CaptionsConfig drives caption selection and download.
type CaptionsConfig struct {
	Mode      string        `yaml:"mode"` // off, fallback or prefer
	Languages []string      `yaml:"languages"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxBytes  int64         `yaml:"max_bytes"`
}

// MediaConfig locates the ffmpeg tools.
type MediaConfig struct {
	FFmpeg       string `yaml:"ffmpeg"`
	FFprobe      string `yaml:"ffprobe"`
	ChunkSeconds int    `yaml:"chunk_seconds"`
}

// TranscribeConfig describes the model fallback space.
type TranscribeConfig struct {
	Binary         string   `yaml:"binary"`
	Model          string   `yaml:"model"`
	FallbackModels []string `yaml:"fallback_models"`
	Devices        []string `yaml:"devices"`
	Precisions     []string `yaml:"precisions"`
	ModelRanking   []string `yaml:"model_ranking"`
	Language       string   `yaml:"language"`
	BeamSize       int      `yaml:"beam_size"`
	Temperature    float64  `yaml:"temperature"`
	WordTimestamps bool     `yaml:"word_timestamps"`
}

// DiarizeConfig configures the optional diarization command.
type DiarizeConfig struct {
	Enabled bool          `yaml:"enabled"`
	Binary  string        `yaml:"binary"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
}

// CredentialsConfig selects the token source.
type CredentialsConfig struct {
	Backend string            `yaml:"backend"` // none, static or redis
	Tokens  map[string]string `yaml:"tokens"`
	Redis   RedisConfig       `yaml:"redis"`
}

// RedisConfig holds go-redis connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// ArtifactsConfig selects where intermediate media is archived.
type ArtifactsConfig struct {
	Backend   string      `yaml:"backend"` // none, local or minio
	LocalDir  string      `yaml:"local_dir"`
	KeepLocal bool        `yaml:"keep_local"`
	Minio     MinioConfig `yaml:"minio"`
}

// MinioConfig holds S3-compatible object store settings.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// EventsConfig selects the lifecycle event sink.
type EventsConfig struct {
	Backend string      `yaml:"backend"` // none, kafka or slack
	Kafka   KafkaConfig `yaml:"kafka"`
	Slack   SlackConfig `yaml:"slack"`
}

// KafkaConfig holds kafka-go writer settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// SlackConfig posts operator notifications to one channel.
type SlackConfig struct {
	BotToken string   `yaml:"bot_token"` // xoxb-...
	Channel  string   `yaml:"channel"`
	Types    []string `yaml:"types"` // event types to post; default job.finished and video.failed
	APIURL   string   `yaml:"api_url"`
}

// StatusConfig controls the ops status server.
type StatusConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references and unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with every default applied and nothing loaded.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// JitterEnabled reports whether jitter is on, defaulting to true when unset.
func (r RetryConfig) JitterEnabled() bool {
	return r.Jitter == nil || *r.Jitter
}

// RetryFor returns the retry policy for a family: the default with any
// non-zero override fields applied.
func (r ResilienceConfig) RetryFor(family string) RetryConfig {
	out := r.Retry
	o, ok := r.Operations[family]
	if !ok {
		return out
	}
	if o.MaxAttempts > 0 {
		out.MaxAttempts = o.MaxAttempts
	}
	if o.BaseDelay > 0 {
		out.BaseDelay = o.BaseDelay
	}
	if o.MaxDelay > 0 {
		out.MaxDelay = o.MaxDelay
	}
	if o.Jitter != nil {
		out.Jitter = o.Jitter
	}
	if o.AttemptTimeout > 0 {
		out.AttemptTimeout = o.AttemptTimeout
	}
	return out
}

// BreakerFor returns the breaker thresholds for a family.
func (r ResilienceConfig) BreakerFor(family string) BreakerConfig {
	out := r.Breaker
	o, ok := r.Breakers[family]
	if !ok {
		return out
	}
	if o.FailureThreshold > 0 {
		out.FailureThreshold = o.FailureThreshold
	}
	if o.Cooldown > 0 {
		out.Cooldown = o.Cooldown
	}
	if o.SuccessThreshold > 0 {
		out.SuccessThreshold = o.SuccessThreshold
	}
	return out
}

// EnabledClients returns the configured client order minus disabled entries.
func (f FetchConfig) EnabledClients() []string {
	var out []string
	for _, c := range f.Clients {
		if !slices.Contains(f.DisabledClients, c) {
			out = append(out, c)
		}
	}
	return out
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	switch c.Database.Driver {
	case "mysql":
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	case "postgres":
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
		if c.Database.User == "" {
			c.Database.User = "postgres"
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	case "sqlite":
		if c.Database.Path == "" {
			c.Database.Path = "reelyard.db"
		}
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Name == "" {
		c.Database.Name = "reelyard"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	s := &c.Scheduler
	if s.PollInterval == 0 {
		s.PollInterval = 5 * time.Second
	}
	if s.RescueAfter == 0 {
		s.RescueAfter = 30 * time.Minute
	}
	if s.HeartbeatInterval == 0 {
		s.HeartbeatInterval = time.Minute
	}
	if s.RequeueBatch == 0 {
		s.RequeueBatch = 50
	}
	if s.MaxExpandAttempts == 0 {
		s.MaxExpandAttempts = 5
	}
	if s.ErrorMaxLength == 0 {
		s.ErrorMaxLength = 2000
	}

	r := &c.Resilience
	if r.Retry.MaxAttempts == 0 {
		r.Retry.MaxAttempts = 3
	}
	if r.Retry.BaseDelay == 0 {
		r.Retry.BaseDelay = 2 * time.Second
	}
	if r.Retry.MaxDelay == 0 {
		r.Retry.MaxDelay = time.Minute
	}
	if r.Retry.AttemptTimeout == 0 {
		r.Retry.AttemptTimeout = 10 * time.Minute
	}
	if r.Breaker.FailureThreshold == 0 {
		r.Breaker.FailureThreshold = 5
	}
	if r.Breaker.Cooldown == 0 {
		r.Breaker.Cooldown = 2 * time.Minute
	}
	if r.Breaker.SuccessThreshold == 0 {
		r.Breaker.SuccessThreshold = 2
	}

	if c.Fetch.Binary == "" {
		c.Fetch.Binary = "yt-dlp"
	}
	if len(c.Fetch.Clients) == 0 {
		c.Fetch.Clients = []string{"default", "web_safari", "mweb", "tv_embedded", "android_vr", "ios"}
	}
	if c.Fetch.Format == "" {
		c.Fetch.Format = "bestaudio/best"
	}
	if c.Fetch.WorkDir == "" {
		c.Fetch.WorkDir = os.TempDir()
	}

	if c.Captions.Mode == "" {
		c.Captions.Mode = "fallback"
	}
	if len(c.Captions.Languages) == 0 {
		c.Captions.Languages = []string{"en"}
	}
	if c.Captions.Timeout == 0 {
		c.Captions.Timeout = 30 * time.Second
	}
	if c.Captions.MaxBytes == 0 {
		c.Captions.MaxBytes = 16 << 20
	}

	if c.Media.FFmpeg == "" {
		c.Media.FFmpeg = "ffmpeg"
	}
	if c.Media.FFprobe == "" {
		c.Media.FFprobe = "ffprobe"
	}
	if c.Media.ChunkSeconds == 0 {
		c.Media.ChunkSeconds = 600
	}

	t := &c.Transcribe
	if t.Binary == "" {
		t.Binary = "whisper-ctranslate2"
	}
	if t.Model == "" {
		t.Model = "large-v3"
	}
	if len(t.Devices) == 0 {
		t.Devices = []string{"cuda", "cpu"}
	}
	if len(t.Precisions) == 0 {
		t.Precisions = []string{"float16", "int8"}
	}
	if t.BeamSize == 0 {
		t.BeamSize = 5
	}

	if c.Diarize.Timeout == 0 {
		c.Diarize.Timeout = 30 * time.Minute
	}

	if c.Credentials.Backend == "" {
		c.Credentials.Backend = "none"
	}
	if c.Credentials.Redis.KeyPrefix == "" {
		c.Credentials.Redis.KeyPrefix = "reelyard:token:"
	}

	if c.Artifacts.Backend == "" {
		c.Artifacts.Backend = "none"
	}
	if c.Events.Backend == "" {
		c.Events.Backend = "none"
	}
	if c.Events.Kafka.Topic == "" {
		c.Events.Kafka.Topic = "reelyard.videos"
	}
	if len(c.Events.Slack.Types) == 0 {
		c.Events.Slack.Types = []string{"job.finished", "video.failed"}
	}
	if c.Status.Port == 0 {
		c.Status.Port = 8090
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be mysql, postgres or sqlite", c.Database.Driver))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be text or json", c.Logging.Format))
	}

	s := c.Scheduler
	if s.PollInterval < 0 {
		errs = append(errs, "scheduler.poll_interval must be positive")
	}
	if s.HeartbeatInterval >= s.RescueAfter {
		errs = append(errs, "scheduler.heartbeat_interval must be shorter than scheduler.rescue_after")
	}
	if s.RequeueSchedule != "" {
		if _, err := cron.ParseStandard(s.RequeueSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("scheduler.requeue_schedule: %v", err))
		}
	}
	if s.RequeueBatch < 0 {
		errs = append(errs, "scheduler.requeue_batch must not be negative")
	}

	checkRetry := func(name string, r RetryConfig) {
		if r.MaxAttempts < 0 {
			errs = append(errs, fmt.Sprintf("%s.max_attempts must not be negative", name))
		}
		if r.MaxDelay > 0 && r.BaseDelay > r.MaxDelay {
			errs = append(errs, fmt.Sprintf("%s.base_delay must not exceed max_delay", name))
		}
	}
	checkRetry("resilience.retry", c.Resilience.Retry)
	for fam := range c.Resilience.Operations {
		checkRetry("resilience.operations."+fam, c.Resilience.RetryFor(fam))
	}

	if len(c.Fetch.EnabledClients()) == 0 {
		errs = append(errs, "fetch.clients: at least one client must be enabled")
	}

	switch c.Captions.Mode {
	case "off", "fallback", "prefer":
	default:
		errs = append(errs, fmt.Sprintf("captions.mode %q must be off, fallback or prefer", c.Captions.Mode))
	}

	if c.Media.ChunkSeconds < 0 {
		errs = append(errs, "media.chunk_seconds must not be negative")
	}

	if c.Diarize.Enabled && c.Diarize.Binary == "" {
		errs = append(errs, "diarize.binary is required when diarize.enabled is true")
	}

	switch c.Credentials.Backend {
	case "none", "static":
	case "redis":
		if c.Credentials.Redis.Addr == "" {
			errs = append(errs, "credentials.redis.addr is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("credentials.backend %q must be none, static or redis", c.Credentials.Backend))
	}

	switch c.Artifacts.Backend {
	case "none":
	case "local":
		if c.Artifacts.LocalDir == "" {
			errs = append(errs, "artifacts.local_dir is required for the local backend")
		}
	case "minio":
		if c.Artifacts.Minio.Endpoint == "" {
			errs = append(errs, "artifacts.minio.endpoint is required for the minio backend")
		}
		if c.Artifacts.Minio.Bucket == "" {
			errs = append(errs, "artifacts.minio.bucket is required for the minio backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("artifacts.backend %q must be none, local or minio", c.Artifacts.Backend))
	}

	switch c.Events.Backend {
	case "none":
	case "kafka":
		if len(c.Events.Kafka.Brokers) == 0 {
			errs = append(errs, "events.kafka.brokers is required for the kafka backend")
		}
	case "slack":
		if c.Events.Slack.BotToken == "" {
			errs = append(errs, "events.slack.bot_token is required for the slack backend")
		}
		if c.Events.Slack.Channel == "" {
			errs = append(errs, "events.slack.channel is required for the slack backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("events.backend %q must be none, kafka or slack", c.Events.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
