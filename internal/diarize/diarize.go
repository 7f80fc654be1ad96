// Package diarize labels transcript segments with speakers. It is strictly
// best-effort: callers go through Apply, which never fails.
package diarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/zulandar/reelyard/internal/command"
	"github.com/zulandar/reelyard/internal/config"
	"github.com/zulandar/reelyard/internal/transcribe"
)

// audioPlaceholder in configured args is replaced with the WAV path.
const audioPlaceholder = "{audio}"

// Turn is one contiguous stretch of a single speaker, in seconds.
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Diarizer finds speaker turns in a WAV file.
type Diarizer interface {
	Diarize(ctx context.Context, wavPath string) ([]Turn, error)
}

// CommandDiarizer runs an external tool that prints speaker turns as JSON,
// either a bare array or an object with a "turns" field.
type CommandDiarizer struct {
	Binary  string
	Args    []string
	Timeout time.Duration
	Runner  command.Runner
}

// New returns nil when diarization is disabled.
func New(cfg config.DiarizeConfig, runner command.Runner) Diarizer {
	if !cfg.Enabled {
		return nil
	}
	return &CommandDiarizer{Binary: cfg.Binary, Args: cfg.Args, Timeout: cfg.Timeout, Runner: runner}
}

func (d *CommandDiarizer) Diarize(ctx context.Context, wavPath string) ([]Turn, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	args := make([]string, 0, len(d.Args)+1)
	substituted := false
	for _, a := range d.Args {
		if strings.Contains(a, audioPlaceholder) {
			a = strings.ReplaceAll(a, audioPlaceholder, wavPath)
			substituted = true
		}
		args = append(args, a)
	}
	if !substituted {
		args = append(args, wavPath)
	}

	res, err := d.Runner.Run(ctx, d.Binary, args...)
	if err != nil {
		return nil, fmt.Errorf("diarize: run %s: %w", d.Binary, err)
	}
	return decodeTurns([]byte(res.Stdout))
}

func decodeTurns(data []byte) ([]Turn, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	var turns []Turn
	if data[0] == '[' {
		if err := json.Unmarshal(data, &turns); err != nil {
			return nil, fmt.Errorf("diarize: decode turns: %w", err)
		}
	} else {
		var doc struct {
			Turns []Turn `json:"turns"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("diarize: decode turns: %w", err)
		}
		turns = doc.Turns
	}
	sort.SliceStable(turns, func(i, j int) bool { return turns[i].Start < turns[j].Start })
	return turns, nil
}

// Assign labels each segment with the speaker whose turns overlap it the
// most. Segments with no overlapping turn keep their current label.
func Assign(segments []transcribe.Segment, turns []Turn) []transcribe.Segment {
	out := make([]transcribe.Segment, len(segments))
	copy(out, segments)
	for i, seg := range out {
		totals := make(map[string]float64)
		var order []string
		for _, t := range turns {
			if t.Speaker == "" {
				continue
			}
			ov := overlap(seg.Start, seg.End, t.Start, t.End)
			if ov <= 0 {
				continue
			}
			if _, seen := totals[t.Speaker]; !seen {
				order = append(order, t.Speaker)
			}
			totals[t.Speaker] += ov
		}
		best, bestOv := "", 0.0
		for _, sp := range order {
			if totals[sp] > bestOv {
				best, bestOv = sp, totals[sp]
			}
		}
		if best != "" {
			out[i].Speaker = best
		}
	}
	return out
}

func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	return min(aEnd, bEnd) - max(aStart, bStart)
}

// Apply diarizes wavPath and labels segments. Any failure is logged and the
// segments are returned unchanged; a nil Diarizer is a no-op.
func Apply(ctx context.Context, d Diarizer, wavPath string, segments []transcribe.Segment, logger *slog.Logger) []transcribe.Segment {
	if d == nil || len(segments) == 0 {
		return segments
	}
	if logger == nil {
		logger = slog.Default()
	}
	turns, err := d.Diarize(ctx, wavPath)
	if err != nil {
		logger.Warn("diarization failed, keeping unlabelled transcript", "error", err)
		return segments
	}
	if len(turns) == 0 {
		logger.Info("diarization found no speaker turns")
		return segments
	}
	return Assign(segments, turns)
}
