package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullYAML = `
database:
  driver: postgres
  host: db.internal
  user: reel
  password: ${REEL_TEST_DB_PASSWORD}
  name: transcripts

logging:
  level: debug
  format: json

scheduler:
  worker_id: gpu-1
  poll_interval: 2s
  rescue_after: 15m
  heartbeat_interval: 30s
  requeue_schedule: "0 3 * * *"
  requeue_batch: 10

resilience:
  retry:
    max_attempts: 4
    base_delay: 1s
    max_delay: 30s
  operations:
    download:
      max_attempts: 6
      jitter: false
  breaker:
    failure_threshold: 3
    cooldown: 1m
  breakers:
    transcribe:
      failure_threshold: 1

fetch:
  clients: [default, web_safari, ios]
  disabled_clients: [ios]

captions:
  mode: prefer
  languages: [en, de]

transcribe:
  model: large-v3
  fallback_models: [medium]
  devices: [cuda]
  precisions: [float16, int8_float16]

diarize:
  enabled: true
  binary: diarize-cli

credentials:
  backend: redis
  redis:
    addr: localhost:6379

artifacts:
  backend: minio
  minio:
    endpoint: localhost:9000
    bucket: media

events:
  backend: kafka
  kafka:
    brokers: [localhost:9092]

status:
  enabled: true
  port: 9100
`

func TestParse_FullConfig(t *testing.T) {
	t.Setenv("REEL_TEST_DB_PASSWORD", "s3cret")

	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Driver != "postgres" || cfg.Database.Port != 5432 || cfg.Database.SSLMode != "disable" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Database.Password != "s3cret" {
		t.Errorf("Password = %q, want env expansion", cfg.Database.Password)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Scheduler.WorkerID != "gpu-1" || cfg.Scheduler.PollInterval != 2*time.Second || cfg.Scheduler.RescueAfter != 15*time.Minute {
		t.Errorf("Scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.RequeueBatch != 10 || cfg.Scheduler.MaxExpandAttempts != 5 {
		t.Errorf("Scheduler batch/attempts = %d/%d", cfg.Scheduler.RequeueBatch, cfg.Scheduler.MaxExpandAttempts)
	}
	if got := cfg.Fetch.EnabledClients(); strings.Join(got, ",") != "default,web_safari" {
		t.Errorf("EnabledClients = %v", got)
	}
	if cfg.Captions.Mode != "prefer" || len(cfg.Captions.Languages) != 2 {
		t.Errorf("Captions = %+v", cfg.Captions)
	}
	if cfg.Transcribe.Binary != "whisper-ctranslate2" || cfg.Transcribe.BeamSize != 5 {
		t.Errorf("Transcribe defaults = %+v", cfg.Transcribe)
	}
	if cfg.Status.Port != 9100 || !cfg.Status.Enabled {
		t.Errorf("Status = %+v", cfg.Status)
	}
	if cfg.Credentials.Redis.KeyPrefix != "reelyard:token:" {
		t.Errorf("KeyPrefix = %q", cfg.Credentials.Redis.KeyPrefix)
	}
	if cfg.Events.Kafka.Topic != "reelyard.videos" {
		t.Errorf("Topic = %q", cfg.Events.Kafka.Topic)
	}
	if got := strings.Join(cfg.Events.Slack.Types, ","); got != "job.finished,video.failed" {
		t.Errorf("Slack.Types = %q", got)
	}
}

func TestResilience_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := cfg.Resilience

	dl := r.RetryFor("download")
	if dl.MaxAttempts != 6 || dl.BaseDelay != time.Second || dl.MaxDelay != 30*time.Second {
		t.Errorf("RetryFor(download) = %+v", dl)
	}
	if dl.JitterEnabled() {
		t.Error("download jitter should be disabled by override")
	}
	md := r.RetryFor("metadata")
	if md.MaxAttempts != 4 || !md.JitterEnabled() {
		t.Errorf("RetryFor(metadata) = %+v", md)
	}
	if md.AttemptTimeout != 10*time.Minute {
		t.Errorf("AttemptTimeout = %v, want default", md.AttemptTimeout)
	}

	tb := r.BreakerFor("transcribe")
	if tb.FailureThreshold != 1 || tb.Cooldown != time.Minute || tb.SuccessThreshold != 2 {
		t.Errorf("BreakerFor(transcribe) = %+v", tb)
	}
	if fb := r.BreakerFor("fetch"); fb.FailureThreshold != 3 {
		t.Errorf("BreakerFor(fetch) = %+v", fb)
	}
}

func TestParse_EmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Driver != "mysql" || cfg.Database.Port != 3306 || cfg.Database.Name != "reelyard" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Scheduler.PollInterval != 5*time.Second || cfg.Scheduler.HeartbeatInterval != time.Minute {
		t.Errorf("Scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.WorkerID != "" {
		t.Errorf("WorkerID = %q, want empty (scheduler picks one)", cfg.Scheduler.WorkerID)
	}
	if cfg.Captions.Mode != "fallback" {
		t.Errorf("Captions.Mode = %q", cfg.Captions.Mode)
	}
	if cfg.Media.ChunkSeconds != 600 {
		t.Errorf("ChunkSeconds = %d", cfg.Media.ChunkSeconds)
	}
	if len(cfg.Transcribe.Devices) != 2 || cfg.Transcribe.Devices[0] != "cuda" {
		t.Errorf("Devices = %v", cfg.Transcribe.Devices)
	}
	if cfg.Credentials.Backend != "none" || cfg.Artifacts.Backend != "none" || cfg.Events.Backend != "none" {
		t.Error("optional backends should default to none")
	}
}

func TestParse_SQLiteDefaults(t *testing.T) {
	cfg, err := Parse([]byte("database:\n  driver: sqlite\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Path != "reelyard.db" {
		t.Errorf("Path = %q", cfg.Database.Path)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"driver", "database:\n  driver: oracle\n", "database.driver"},
		{"log format", "logging:\n  format: xml\n", "logging.format"},
		{"heartbeat", "scheduler:\n  heartbeat_interval: 1h\n  rescue_after: 10m\n", "heartbeat_interval must be shorter"},
		{"cron", "scheduler:\n  requeue_schedule: every day\n", "requeue_schedule"},
		{"delays", "resilience:\n  retry:\n    base_delay: 2m\n    max_delay: 1m\n", "base_delay must not exceed max_delay"},
		{"clients", "fetch:\n  clients: [ios]\n  disabled_clients: [ios]\n", "at least one client"},
		{"captions", "captions:\n  mode: always\n", "captions.mode"},
		{"diarize", "diarize:\n  enabled: true\n", "diarize.binary is required"},
		{"redis", "credentials:\n  backend: redis\n", "credentials.redis.addr"},
		{"local", "artifacts:\n  backend: local\n", "artifacts.local_dir"},
		{"minio", "artifacts:\n  backend: minio\n", "artifacts.minio.endpoint"},
		{"kafka", "events:\n  backend: kafka\n", "events.kafka.brokers"},
		{"slack token", "events:\n  backend: slack\n  slack:\n    channel: C123\n", "events.slack.bot_token"},
		{"slack channel", "events:\n  backend: slack\n  slack:\n    bot_token: xoxb-1\n", "events.slack.channel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestParse_CollectsAllErrors(t *testing.T) {
	_, err := Parse([]byte("database:\n  driver: oracle\ncaptions:\n  mode: always\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "database.driver") || !strings.Contains(err.Error(), "captions.mode") {
		t.Errorf("error = %q, want both problems", err.Error())
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("database: [unclosed"))
	if err == nil || !strings.Contains(err.Error(), "config: parse") {
		t.Errorf("err = %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reelyard.yaml")
	if err := os.WriteFile(path, []byte("status:\n  port: 9200\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Status.Port != 9200 {
		t.Errorf("Port = %d", cfg.Status.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config: read") {
		t.Errorf("err = %v", err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Fetch.Binary != "yt-dlp" || cfg.Media.FFmpeg != "ffmpeg" {
		t.Errorf("Default tools = %q, %q", cfg.Fetch.Binary, cfg.Media.FFmpeg)
	}
	if len(cfg.Fetch.Clients) == 0 {
		t.Error("Default should list client identities")
	}
}
