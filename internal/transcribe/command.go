package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zulandar/reelyard/internal/command"
)

// CommandLoader drives a whisper-ctranslate2 compatible CLI. The CLI loads
// the model on every run, so Load only binds the configuration.
type CommandLoader struct {
	Binary string
	Runner command.Runner
	// WorkDir receives the JSON output files; os.TempDir when empty.
	WorkDir string
}

// Load returns a model bound to cfg.
func (l *CommandLoader) Load(_ context.Context, cfg ModelConfig) (Model, error) {
	if l.Binary == "" {
		return nil, fmt.Errorf("transcribe: no binary configured")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("transcribe: model name is required")
	}
	return &commandModel{loader: l, cfg: cfg}, nil
}

type commandModel struct {
	loader *CommandLoader
	cfg    ModelConfig
}

// cliOutput is the JSON document written by --output_format json.
type cliOutput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start            float64  `json:"start"`
		End              float64  `json:"end"`
		Text             string   `json:"text"`
		AvgLogprob       *float64 `json:"avg_logprob"`
		NoSpeechProb     *float64 `json:"no_speech_prob"`
		CompressionRatio *float64 `json:"compression_ratio"`
	} `json:"segments"`
}

func (m *commandModel) Transcribe(ctx context.Context, audioPath string, opts Options) (Result, error) {
	outDir, err := os.MkdirTemp(m.loader.WorkDir, "whisper-*")
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: create output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	if _, err := m.loader.Runner.Run(ctx, m.loader.Binary, m.args(audioPath, outDir, opts)...); err != nil {
		return Result{}, err
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	data, err := os.ReadFile(filepath.Join(outDir, base+".json"))
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: read output: %w", err)
	}
	var doc cliOutput
	if err := json.Unmarshal(data, &doc); err != nil {
		return Result{}, fmt.Errorf("transcribe: decode output: %w", err)
	}

	res := Result{Language: doc.Language, Model: m.cfg.Model, Config: m.cfg}
	for _, s := range doc.Segments {
		res.Segments = append(res.Segments, Segment{
			Start:            s.Start,
			End:              s.End,
			Text:             strings.TrimSpace(s.Text),
			AvgLogprob:       s.AvgLogprob,
			NoSpeechProb:     s.NoSpeechProb,
			CompressionRatio: s.CompressionRatio,
		})
	}
	return res, nil
}

func (m *commandModel) args(audioPath, outDir string, opts Options) []string {
	args := []string{
		audioPath,
		"--model", m.cfg.Model,
		"--device", m.cfg.Device,
		"--compute_type", m.cfg.Precision,
		"--output_format", "json",
		"--output_dir", outDir,
		"--verbose", "False",
	}
	if opts.BeamSize > 0 {
		args = append(args, "--beam_size", strconv.Itoa(opts.BeamSize))
	}
	args = append(args, "--temperature", strconv.FormatFloat(opts.Temperature, 'f', -1, 64))
	if opts.WordTimestamps {
		args = append(args, "--word_timestamps", "True")
	}
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}
	return args
}

func (m *commandModel) Close() error { return nil }
