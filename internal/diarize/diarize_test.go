package diarize

import (
	"context"
	"errors"
	"testing"

	"github.com/zulandar/reelyard/internal/command"
	"github.com/zulandar/reelyard/internal/config"
	"github.com/zulandar/reelyard/internal/transcribe"
)

func TestAssign_MaxOverlap(t *testing.T) {
	segs := []transcribe.Segment{
		{Start: 0, End: 4, Text: "a"},
		{Start: 4, End: 10, Text: "b"},
		{Start: 20, End: 21, Text: "c"},
	}
	turns := []Turn{
		{Start: 0, End: 3, Speaker: "S1"},
		{Start: 3, End: 9, Speaker: "S2"},
		{Start: 9, End: 10, Speaker: "S1"},
	}
	got := Assign(segs, turns)
	if got[0].Speaker != "S1" {
		t.Errorf("seg 0 speaker = %q, want S1", got[0].Speaker)
	}
	if got[1].Speaker != "S2" {
		t.Errorf("seg 1 speaker = %q, want S2", got[1].Speaker)
	}
	if got[2].Speaker != "" {
		t.Errorf("seg 2 speaker = %q, want empty", got[2].Speaker)
	}
	if segs[0].Speaker != "" {
		t.Error("Assign should not modify its input")
	}
}

func TestAssign_SumsTurnsPerSpeaker(t *testing.T) {
	segs := []transcribe.Segment{{Start: 0, End: 10}}
	turns := []Turn{
		{Start: 0, End: 3, Speaker: "A"},
		{Start: 3, End: 7, Speaker: "B"},
		{Start: 7, End: 10, Speaker: "A"},
	}
	if got := Assign(segs, turns); got[0].Speaker != "A" {
		t.Errorf("speaker = %q, want A (6s total vs 4s)", got[0].Speaker)
	}
}

type errDiarizer struct{}

func (errDiarizer) Diarize(context.Context, string) ([]Turn, error) {
	return nil, errors.New("pyannote crashed")
}

func TestApply_FailureIsNonFatal(t *testing.T) {
	segs := []transcribe.Segment{{Start: 0, End: 1, Text: "x"}}
	got := Apply(context.Background(), errDiarizer{}, "a.wav", segs, nil)
	if len(got) != 1 || got[0].Text != "x" || got[0].Speaker != "" {
		t.Errorf("Apply = %+v, want input unchanged", got)
	}
}

func TestApply_NilDiarizer(t *testing.T) {
	segs := []transcribe.Segment{{Text: "x"}}
	if got := Apply(context.Background(), nil, "a.wav", segs, nil); len(got) != 1 {
		t.Errorf("Apply = %+v", got)
	}
}

func TestCommandDiarizer_Placeholder(t *testing.T) {
	runner := &command.FakeRunner{
		Handler: func(string, []string) (command.Result, error) {
			return command.Result{Stdout: `{"turns":[{"start":5,"end":6,"speaker":"B"},{"start":0,"end":5,"speaker":"A"}]}`}, nil
		},
	}
	d := &CommandDiarizer{Binary: "diarize.py", Args: []string{"--input", "{audio}", "--json"}, Runner: runner}
	turns, err := d.Diarize(context.Background(), "/w/a.wav")
	if err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if len(turns) != 2 || turns[0].Speaker != "A" {
		t.Errorf("turns = %+v, want sorted by start", turns)
	}
	args := runner.Calls()[0].Args
	if got := command.ArgValue(args, "--input"); got != "/w/a.wav" {
		t.Errorf("--input = %q", got)
	}
	if args[len(args)-1] != "--json" {
		t.Errorf("audio path should not be appended when substituted: %v", args)
	}
}

func TestCommandDiarizer_AppendsAudioAndParsesArray(t *testing.T) {
	runner := &command.FakeRunner{
		Handler: func(string, []string) (command.Result, error) {
			return command.Result{Stdout: `[{"start":0,"end":1,"speaker":"S0"}]`}, nil
		},
	}
	d := &CommandDiarizer{Binary: "d", Runner: runner}
	turns, err := d.Diarize(context.Background(), "a.wav")
	if err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if len(turns) != 1 {
		t.Errorf("turns = %+v", turns)
	}
	if args := runner.Calls()[0].Args; len(args) != 1 || args[0] != "a.wav" {
		t.Errorf("args = %v", args)
	}
}

func TestCommandDiarizer_BadOutput(t *testing.T) {
	runner := &command.FakeRunner{
		Handler: func(string, []string) (command.Result, error) {
			return command.Result{Stdout: "not json"}, nil
		},
	}
	d := &CommandDiarizer{Binary: "d", Runner: runner}
	if _, err := d.Diarize(context.Background(), "a.wav"); err == nil {
		t.Error("expected decode error")
	}
}

func TestNew_Disabled(t *testing.T) {
	if d := New(config.DiarizeConfig{}, nil); d != nil {
		t.Errorf("New(disabled) = %v, want nil", d)
	}
}
