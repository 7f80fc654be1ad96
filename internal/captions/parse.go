package captions

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type json3Doc struct {
	Events []struct {
		StartMS    int64 `json:"tStartMs"`
		DurationMS int64 `json:"dDurationMs"`
		Segs       []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

// ParseJSON3 decodes the json3 event-list format.
func ParseJSON3(data []byte) ([]Cue, error) {
	var doc json3Doc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("captions: decode json3: %w", err)
	}
	var cues []Cue
	for _, ev := range doc.Events {
		if len(ev.Segs) == 0 {
			continue
		}
		var b strings.Builder
		for _, s := range ev.Segs {
			b.WriteString(s.UTF8)
		}
		text := collapseSpace(b.String())
		if text == "" {
			continue
		}
		start := float64(ev.StartMS) / 1000
		cues = append(cues, Cue{
			Start: start,
			End:   start + float64(ev.DurationMS)/1000,
			Text:  text,
		})
	}
	return cues, nil
}

var (
	vttTagRe    = regexp.MustCompile(`<[^>]*>`)
	vttTimingRe = regexp.MustCompile(`^((?:\d+:)?\d{2}:\d{2}[.,]\d{3})\s+-->\s+((?:\d+:)?\d{2}:\d{2}[.,]\d{3})`)
)

// ParseVTT decodes WebVTT cues. Inline tags are stripped and the rolling
// repeat lines of auto-generated tracks are emitted once.
func ParseVTT(data []byte) ([]Cue, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var (
		cues     []Cue
		cur      *Cue
		lines    []string
		lastLine string
		sawVTT   bool
	)
	flush := func() {
		if cur == nil {
			return
		}
		var kept []string
		for _, l := range lines {
			if l == "" || l == lastLine {
				continue
			}
			kept = append(kept, l)
			lastLine = l
		}
		if len(kept) > 0 {
			cur.Text = strings.Join(kept, " ")
			cues = append(cues, *cur)
		}
		cur = nil
		lines = nil
	}

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if !sawVTT {
			if strings.HasPrefix(strings.TrimPrefix(line, "\ufeff"), "WEBVTT") {
				sawVTT = true
				continue
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			return nil, fmt.Errorf("captions: missing WEBVTT header")
		}
		if m := vttTimingRe.FindStringSubmatch(line); m != nil {
			flush()
			start, err := parseTimestamp(m[1])
			if err != nil {
				return nil, err
			}
			end, err := parseTimestamp(m[2])
			if err != nil {
				return nil, err
			}
			cur = &Cue{Start: start, End: end}
			continue
		}
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if cur != nil {
			lines = append(lines, collapseSpace(vttTagRe.ReplaceAllString(line, "")))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("captions: read vtt: %w", err)
	}
	flush()
	return cues, nil
}

// parseTimestamp converts [hh:]mm:ss.mmm to seconds.
func parseTimestamp(ts string) (float64, error) {
	ts = strings.Replace(ts, ",", ".", 1)
	parts := strings.Split(ts, ":")
	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, fmt.Errorf("captions: bad timestamp %q: %w", ts, err)
		}
		total = total*60 + v
	}
	return total, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
