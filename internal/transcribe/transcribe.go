// Package transcribe runs speech recognition through a fallback chain over
// device, model and precision, keeping one loaded model cached.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Options are per-request decoding settings.
type Options struct {
	Language       string
	BeamSize       int
	Temperature    float64
	WordTimestamps bool
}

// Segment is one recognised span, in seconds.
type Segment struct {
	Start            float64
	End              float64
	Text             string
	AvgLogprob       *float64
	NoSpeechProb     *float64
	CompressionRatio *float64
	Speaker          string
}

// Result is a full transcription.
type Result struct {
	Language string
	Model    string
	// Requested is the plan's primary model.
	Requested string
	Config    ModelConfig
	Segments  []Segment
}

// Text joins segment texts.
func (r Result) Text() string {
	parts := make([]string, 0, len(r.Segments))
	for _, s := range r.Segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// ModelConfig is one device/model/precision combination.
type ModelConfig struct {
	Model     string
	Device    string
	Precision string
}

func (c ModelConfig) String() string {
	return c.Model + "@" + c.Device + "/" + c.Precision
}

// Model is a loaded recogniser.
type Model interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) (Result, error)
	Close() error
}

// Loader loads a model for one configuration.
type Loader interface {
	Load(ctx context.Context, cfg ModelConfig) (Model, error)
}

// ErrCatastrophic is matched by failures that mean this configuration cannot
// work on this host, as opposed to a problem with the input.
var ErrCatastrophic = errors.New("catastrophic transcription failure")

// CatastrophicError identifies which known failure signature matched.
type CatastrophicError struct {
	Config    ModelConfig
	Signature string
	Err       error
}

func (e *CatastrophicError) Error() string {
	return fmt.Sprintf("transcribe: %s: %s: %v", e.Config, e.Signature, e.Err)
}

func (e *CatastrophicError) Unwrap() []error { return []error{ErrCatastrophic, e.Err} }

// LoadError is a failure to load a model configuration.
type LoadError struct {
	Config ModelConfig
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("transcribe: load %s: %v", e.Config, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// catastrophicSignatures are lower-case substrings of runtime output.
var catastrophicSignatures = []string{
	"cuda out of memory",
	"out of memory",
	"cuda failed",
	"cuda error",
	"no cuda gpus are available",
	"cudnn",
	"cublas",
	"libcudnn",
	"requested float16 compute type",
	"unsupported compute type",
	"compute type",
	"illegal instruction",
	"segmentation fault",
	"core dumped",
}

// DetectCatastrophic reports the first known catastrophic signature in output.
func DetectCatastrophic(output string) (string, bool) {
	lower := strings.ToLower(output)
	for _, sig := range catastrophicSignatures {
		if strings.Contains(lower, sig) {
			return sig, true
		}
	}
	return "", false
}

// Advances reports whether err should move the model chain to its next
// configuration.
func Advances(err error) bool {
	var le *LoadError
	return errors.Is(err, ErrCatastrophic) || errors.As(err, &le)
}

// Plan expands the fallback space in a fixed order: device outer loop, then
// model (primary first, each model once per device), then precision.
func Plan(primary string, fallbacks, devices, precisions []string) []ModelConfig {
	var models []string
	if primary != "" {
		models = append(models, primary)
	}
	for _, m := range fallbacks {
		if m != "" && !slices.Contains(models, m) {
			models = append(models, m)
		}
	}

	var out []ModelConfig
	for _, d := range dedupe(devices) {
		for _, m := range models {
			for _, p := range dedupe(precisions) {
				out = append(out, ModelConfig{Model: m, Device: d, Precision: p})
			}
		}
	}
	return out
}

func dedupe(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
