package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/reelyard/internal/command"
	"github.com/zulandar/reelyard/internal/config"
)

func TestToWAV(t *testing.T) {
	runner := &command.FakeRunner{}
	tr := NewTranscoder(config.MediaConfig{FFmpeg: "ffmpeg", FFprobe: "ffprobe"}, runner)
	out := filepath.Join(t.TempDir(), "work", "audio.wav")

	if err := tr.ToWAV(context.Background(), "/tmp/in.m4a", out); err != nil {
		t.Fatalf("ToWAV: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(out)); err != nil {
		t.Errorf("output dir not created: %v", err)
	}
	calls := runner.Calls()
	if len(calls) != 1 || calls[0].Name != "ffmpeg" {
		t.Fatalf("calls = %+v", calls)
	}
	args := calls[0].Args
	if command.ArgValue(args, "-i") != "/tmp/in.m4a" || command.ArgValue(args, "-ac") != "1" ||
		command.ArgValue(args, "-ar") != "16000" || command.ArgValue(args, "-c:a") != "pcm_s16le" {
		t.Errorf("args = %v", args)
	}
	if args[len(args)-1] != out {
		t.Errorf("last arg = %q, want output path", args[len(args)-1])
	}
}

func TestToWAV_Errors(t *testing.T) {
	tr := &Transcoder{FFmpeg: "ffmpeg", Runner: &command.FakeRunner{}}
	if err := tr.ToWAV(context.Background(), "", filepath.Join(t.TempDir(), "a.wav")); err == nil {
		t.Error("expected error for empty input")
	}

	tr.Runner = &command.FakeRunner{Handler: func(name string, _ []string) (command.Result, error) {
		return command.Fail(name, 1, "Invalid data found when processing input")
	}}
	err := tr.ToWAV(context.Background(), "/tmp/in.m4a", filepath.Join(t.TempDir(), "a.wav"))
	if err == nil || !strings.Contains(err.Error(), "media: transcode in.m4a") {
		t.Errorf("err = %v", err)
	}
}

func TestDuration(t *testing.T) {
	runner := &command.FakeRunner{Handler: func(string, []string) (command.Result, error) {
		return command.Result{Stdout: `{"format":{"duration":"1234.560000"}}`}, nil
	}}
	tr := &Transcoder{FFprobe: "ffprobe", Runner: runner}
	d, err := tr.Duration(context.Background(), "/tmp/a.wav")
	if err != nil {
		t.Fatalf("Duration: %v", err)
	}
	if d != 1234.56 {
		t.Errorf("duration = %v", d)
	}

	runner.Handler = func(string, []string) (command.Result, error) {
		return command.Result{Stdout: `{"format":{"duration":"N/A"}}`}, nil
	}
	if _, err := tr.Duration(context.Background(), "/tmp/a.wav"); err == nil {
		t.Error("expected parse error")
	}
}

func TestChunk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chunks")
	runner := &command.FakeRunner{Handler: func(name string, args []string) (command.Result, error) {
		pattern := args[len(args)-1]
		for i := 2; i >= 0; i-- {
			if err := os.WriteFile(fmt.Sprintf(pattern, i), []byte("RIFF"), 0o644); err != nil {
				return command.Result{}, err
			}
		}
		return command.Result{}, nil
	}}
	tr := &Transcoder{FFmpeg: "ffmpeg", ChunkSeconds: 600, Runner: runner}

	chunks, err := tr.Chunk(context.Background(), "/tmp/a.wav", dir)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("chunks = %+v", chunks)
	}
	for i, c := range chunks {
		if c.Path != filepath.Join(dir, fmt.Sprintf("chunk_%04d.wav", i)) {
			t.Errorf("chunks[%d].Path = %q", i, c.Path)
		}
		if c.Offset != float64(i*600) {
			t.Errorf("chunks[%d].Offset = %v", i, c.Offset)
		}
	}
	if got := command.ArgValue(runner.Calls()[0].Args, "-segment_time"); got != "600" {
		t.Errorf("segment_time = %q", got)
	}
}

func TestChunk_Disabled(t *testing.T) {
	runner := &command.FakeRunner{}
	tr := &Transcoder{FFmpeg: "ffmpeg", Runner: runner}
	chunks, err := tr.Chunk(context.Background(), "/tmp/a.wav", t.TempDir())
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Path != "/tmp/a.wav" || chunks[0].Offset != 0 {
		t.Errorf("chunks = %+v", chunks)
	}
	if len(runner.Calls()) != 0 {
		t.Error("ffmpeg should not run when chunking is disabled")
	}
}

func TestChunk_NoOutput(t *testing.T) {
	tr := &Transcoder{FFmpeg: "ffmpeg", ChunkSeconds: 60, Runner: &command.FakeRunner{}}
	_, err := tr.Chunk(context.Background(), "/tmp/a.wav", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "produced no chunks") {
		t.Errorf("err = %v", err)
	}
}
