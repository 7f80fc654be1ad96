// Package media converts downloaded media into mono 16 kHz WAV and splits it
// into fixed-length chunks with ffmpeg.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/zulandar/reelyard/internal/command"
	"github.com/zulandar/reelyard/internal/config"
)

// Chunk is one slice of a WAV file and its offset into the original.
type Chunk struct {
	Path   string
	Offset float64
}

// Transcoder runs ffmpeg and ffprobe.
type Transcoder struct {
	FFmpeg       string
	FFprobe      string
	ChunkSeconds int
	Runner       command.Runner
}

// NewTranscoder builds a Transcoder from configuration.
func NewTranscoder(cfg config.MediaConfig, runner command.Runner) *Transcoder {
	return &Transcoder{
		FFmpeg:       cfg.FFmpeg,
		FFprobe:      cfg.FFprobe,
		ChunkSeconds: cfg.ChunkSeconds,
		Runner:       runner,
	}
}

// ToWAV converts in to a mono 16 kHz pcm_s16le WAV at out.
func (t *Transcoder) ToWAV(ctx context.Context, in, out string) error {
	if in == "" {
		return fmt.Errorf("media: input path is required")
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("media: create %s: %w", filepath.Dir(out), err)
	}
	if _, err := t.Runner.Run(ctx, t.FFmpeg, wavArgs(in, out)...); err != nil {
		return fmt.Errorf("media: transcode %s: %w", filepath.Base(in), err)
	}
	return nil
}

// Duration probes a media file's length in seconds.
func (t *Transcoder) Duration(ctx context.Context, path string) (float64, error) {
	res, err := t.Runner.Run(ctx, t.FFprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("media: probe %s: %w", filepath.Base(path), err)
	}
	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &probe); err != nil {
		return 0, fmt.Errorf("media: decode probe output: %w", err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(probe.Format.Duration), 64)
	if err != nil {
		return 0, fmt.Errorf("media: parse duration %q: %w", probe.Format.Duration, err)
	}
	return d, nil
}

// Chunk splits wav into ChunkSeconds-long pieces inside dir. With chunking
// disabled the whole file is a single chunk.
func (t *Transcoder) Chunk(ctx context.Context, wav, dir string) ([]Chunk, error) {
	if t.ChunkSeconds <= 0 {
		return []Chunk{{Path: wav}}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create %s: %w", dir, err)
	}
	pattern := filepath.Join(dir, "chunk_%04d.wav")
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", wav,
		"-f", "segment",
		"-segment_time", strconv.Itoa(t.ChunkSeconds),
		"-reset_timestamps", "1",
		"-c", "copy",
		pattern,
	}
	if _, err := t.Runner.Run(ctx, t.FFmpeg, args...); err != nil {
		return nil, fmt.Errorf("media: chunk %s: %w", filepath.Base(wav), err)
	}

	paths, err := filepath.Glob(filepath.Join(dir, "chunk_*.wav"))
	if err != nil {
		return nil, fmt.Errorf("media: list chunks: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("media: chunk %s: ffmpeg produced no chunks", filepath.Base(wav))
	}
	sort.Strings(paths)
	chunks := make([]Chunk, len(paths))
	for i, p := range paths {
		chunks[i] = Chunk{Path: p, Offset: float64(i * t.ChunkSeconds)}
	}
	return chunks, nil
}

// wavArgs builds ffmpeg args for mono 16k PCM WAV output.
func wavArgs(in, out string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", in,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		out,
	}
}
