package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/zulandar/reelyard/internal/config"
	"github.com/zulandar/reelyard/internal/db"
	"github.com/zulandar/reelyard/internal/models"
)

// writeConfig writes a sqlite-backed config into a temp dir.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "reelyard.yaml")
	body := fmt.Sprintf("database:\n  driver: sqlite\n  path: %s\n", filepath.Join(dir, "reel.db"))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestCLI_JobLifecycle(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := run(t, "db", "migrate", "-c", cfgPath)
	if err != nil {
		t.Fatalf("db migrate: %v\n%s", err, out)
	}
	if !strings.Contains(out, fmt.Sprintf("Migrated %d tables", len(db.AllModels()))) {
		t.Errorf("migrate output = %s", out)
	}

	out, err = run(t, "job", "add", "https://www.youtube.com/@chan", "-c", cfgPath, "--language", "en", "--captions", "prefer", "--diarize=false")
	if err != nil {
		t.Fatalf("job add: %v\n%s", err, out)
	}
	m := regexp.MustCompile(`Created job (\S+)`).FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("job add output = %s", out)
	}
	jobID := m[1]
	if !strings.Contains(out, "Kind: channel") {
		t.Errorf("job add output = %s", out)
	}

	out, err = run(t, "job", "list", "-c", cfgPath)
	if err != nil {
		t.Fatalf("job list: %v", err)
	}
	if !strings.Contains(out, jobID) || !strings.Contains(out, "pending") {
		t.Errorf("job list output = %s", out)
	}

	out, err = run(t, "job", "show", jobID, "-c", cfgPath)
	if err != nil {
		t.Fatalf("job show: %v", err)
	}
	for _, want := range []string{"Captions:  prefer", "Language:  en", "Diarize:   false", "No videos yet."} {
		if !strings.Contains(out, want) {
			t.Errorf("job show missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, "status", "-c", cfgPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Jobs:") || !regexp.MustCompile(`pending\s+1`).MatchString(out) {
		t.Errorf("status output = %s", out)
	}
}

func TestCLI_VideoRetry(t *testing.T) {
	cfgPath := writeConfig(t)
	if out, err := run(t, "db", "migrate", "-c", cfgPath); err != nil {
		t.Fatalf("db migrate: %v\n%s", err, out)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	msg := "transcribe: all strategies failed"
	gormDB.Create(&models.Job{ID: "job-1", Kind: models.JobKindSingle, InputURL: "u", Status: models.JobFailed})
	gormDB.Create(&models.Video{ID: "vid-1", JobID: "job-1", URL: "u", Status: models.VideoFailed, Error: &msg})

	out, err := run(t, "video", "list", "-c", cfgPath, "--status", "failed")
	if err != nil || !strings.Contains(out, "vid-1") {
		t.Fatalf("video list: %v\n%s", err, out)
	}

	out, err = run(t, "video", "show", "vid-1", "-c", cfgPath)
	if err != nil || !strings.Contains(out, "all strategies failed") || !strings.Contains(out, "No transcript yet.") {
		t.Errorf("video show: %v\n%s", err, out)
	}

	out, err = run(t, "video", "retry", "vid-1", "-c", cfgPath)
	if err != nil || !strings.Contains(out, "queued for retry") {
		t.Fatalf("video retry: %v\n%s", err, out)
	}
	var v models.Video
	gormDB.First(&v, "id = ?", "vid-1")
	if v.Status != models.VideoPending {
		t.Errorf("status = %s, want pending", v.Status)
	}

	if _, err := run(t, "video", "retry", "vid-1", "-c", cfgPath); err == nil {
		t.Error("retrying a pending video should fail")
	}
}

func TestCLI_DBResetAborts(t *testing.T) {
	cfgPath := writeConfig(t)
	if _, err := run(t, "db", "migrate", "-c", cfgPath); err != nil {
		t.Fatalf("db migrate: %v", err)
	}

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetIn(strings.NewReader("no\n"))
	cmd.SetArgs([]string{"db", "reset", "-c", cfgPath})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("db reset: %v", err)
	}
	if !strings.Contains(buf.String(), "Aborted.") {
		t.Errorf("output = %s", buf.String())
	}

	out, err := run(t, "db", "reset", "-y", "-c", cfgPath)
	if err != nil || !strings.Contains(out, "Dropped all tables") {
		t.Errorf("db reset -y: %v\n%s", err, out)
	}
}

func TestCLI_MissingConfig(t *testing.T) {
	_, err := run(t, "job", "list", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Errorf("err = %v", err)
	}
}
