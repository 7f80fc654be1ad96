package job

import (
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zulandar/reelyard/internal/db"
	"github.com/zulandar/reelyard/internal/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, _ := gdb.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func TestDetectKind(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/watch?v=abc", models.JobKindSingle},
		{"https://youtu.be/abc", models.JobKindSingle},
		{"https://www.youtube.com/@somechannel", models.JobKindChannel},
		{"https://www.youtube.com/channel/UC123", models.JobKindChannel},
		{"https://www.youtube.com/c/legacy", models.JobKindChannel},
		{"https://www.youtube.com/user/old", models.JobKindChannel},
		{"https://www.youtube.com/playlist?list=PL1", models.JobKindChannel},
		{"::not a url", models.JobKindSingle},
	}
	for _, tt := range tests {
		if got := DetectKind(tt.url); got != tt.want {
			t.Errorf("DetectKind(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestCreate(t *testing.T) {
	gdb := testDB(t)
	off := false

	j, err := Create(gdb, CreateOpts{URL: " https://www.youtube.com/@chan ", Language: "de", Captions: "prefer", Diarize: &off})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if j.Kind != models.JobKindChannel || j.Status != models.JobPending {
		t.Errorf("job = %s/%s", j.Kind, j.Status)
	}
	if j.InputURL != "https://www.youtube.com/@chan" {
		t.Errorf("input url = %q", j.InputURL)
	}

	got, err := Get(gdb, j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	opts, err := got.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if opts.Language != "de" || opts.Captions != "prefer" || opts.Diarize == nil || *opts.Diarize {
		t.Errorf("options = %+v", opts)
	}
}

func TestCreate_NoOptionsLeavesMetaEmpty(t *testing.T) {
	gdb := testDB(t)
	j, err := Create(gdb, CreateOpts{URL: "https://youtu.be/abc"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(j.Meta) != 0 {
		t.Errorf("meta = %s, want empty", j.Meta)
	}
}

func TestCreate_Validation(t *testing.T) {
	gdb := testDB(t)
	tests := []struct {
		name string
		opts CreateOpts
		want string
	}{
		{"no url", CreateOpts{}, "url is required"},
		{"bad kind", CreateOpts{URL: "u", Kind: "playlist"}, "invalid kind"},
		{"bad captions", CreateOpts{URL: "u", Captions: "always"}, "invalid captions mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Create(gdb, tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestGet_NotFound(t *testing.T) {
	_, err := Get(testDB(t), "missing")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v", err)
	}
}

func TestGet_VideosInIndexOrder(t *testing.T) {
	gdb := testDB(t)
	j, _ := Create(gdb, CreateOpts{URL: "https://www.youtube.com/@chan"})
	for _, idx := range []int{2, 0, 1} {
		v := models.Video{ID: "v" + string(rune('a'+idx)), JobID: j.ID, URL: "u", Idx: idx, Status: models.VideoPending}
		if err := gdb.Create(&v).Error; err != nil {
			t.Fatalf("create video: %v", err)
		}
	}
	got, err := Get(gdb, j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Videos) != 3 {
		t.Fatalf("videos = %d", len(got.Videos))
	}
	for i, v := range got.Videos {
		if v.Idx != i {
			t.Errorf("videos[%d].Idx = %d", i, v.Idx)
		}
	}
}

func TestList_Filters(t *testing.T) {
	gdb := testDB(t)
	Create(gdb, CreateOpts{URL: "https://youtu.be/a"})
	Create(gdb, CreateOpts{URL: "https://www.youtube.com/@b"})
	c, _ := Create(gdb, CreateOpts{URL: "https://youtu.be/c"})
	gdb.Model(&models.Job{}).Where("id = ?", c.ID).Update("status", models.JobFailed)

	all, err := List(gdb, ListFilters{})
	if err != nil || len(all) != 3 {
		t.Fatalf("all = %d, err = %v", len(all), err)
	}
	channels, _ := List(gdb, ListFilters{Kind: models.JobKindChannel})
	if len(channels) != 1 {
		t.Errorf("channels = %d, want 1", len(channels))
	}
	failed, _ := List(gdb, ListFilters{Status: models.JobFailed})
	if len(failed) != 1 || failed[0].ID != c.ID {
		t.Errorf("failed = %+v", failed)
	}
	limited, _ := List(gdb, ListFilters{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("limited = %d, want 2", len(limited))
	}
}

func TestRetryVideo(t *testing.T) {
	gdb := testDB(t)
	j, _ := Create(gdb, CreateOpts{URL: "https://youtu.be/a"})
	msg := "boom"
	gdb.Create(&models.Video{ID: "failed", JobID: j.ID, URL: "u", Status: models.VideoFailed, Error: &msg, ClaimedBy: "w1"})
	gdb.Create(&models.Video{ID: "done", JobID: j.ID, URL: "u", Idx: 1, Status: models.VideoCompleted})

	if err := RetryVideo(gdb, "failed"); err != nil {
		t.Fatalf("RetryVideo: %v", err)
	}
	var v models.Video
	gdb.First(&v, "id = ?", "failed")
	if v.Status != models.VideoPending || v.Error != nil || v.ClaimedBy != "" {
		t.Errorf("video = %s / %v / %q", v.Status, v.Error, v.ClaimedBy)
	}

	if err := RetryVideo(gdb, "done"); err == nil || !strings.Contains(err.Error(), "only failed videos") {
		t.Errorf("completed video: err = %v", err)
	}
	if err := RetryVideo(gdb, "missing"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("missing video: err = %v", err)
	}

	videos, err := ListVideos(gdb, VideoFilters{JobID: j.ID, Status: models.VideoPending})
	if err != nil || len(videos) != 1 {
		t.Errorf("pending videos = %d, err = %v", len(videos), err)
	}
	counts, err := StatusCounts(gdb, j.ID)
	if err != nil {
		t.Fatalf("StatusCounts: %v", err)
	}
	if counts[models.VideoPending] != 1 || counts[models.VideoCompleted] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
