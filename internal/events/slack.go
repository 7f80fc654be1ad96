package events

import (
	"context"
	"fmt"
	"slices"
	"strings"

	slackapi "github.com/slack-go/slack"

	"github.com/zulandar/reelyard/internal/config"
)

// slackPoster is the part of the Slack API the publisher uses.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts a one-line notice per event to an operator channel. Event
// types outside Types are dropped.
type Slack struct {
	client  slackPoster
	channel string
	types   []string
}

// NewSlack returns a publisher posting to cfg.Channel.
func NewSlack(cfg config.SlackConfig) *Slack {
	var opts []slackapi.Option
	if cfg.APIURL != "" {
		opts = append(opts, slackapi.OptionAPIURL(cfg.APIURL))
	}
	return &Slack{
		client:  slackapi.New(cfg.BotToken, opts...),
		channel: cfg.Channel,
		types:   cfg.Types,
	}
}

func (s *Slack) Publish(ctx context.Context, ev Event) error {
	if len(s.types) > 0 && !slices.Contains(s.types, ev.Type) {
		return nil
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slackapi.MsgOptionText(slackText(ev), false))
	if err != nil {
		return fmt.Errorf("events: slack %s: %w", ev.Type, err)
	}
	return nil
}

func (s *Slack) Close() error { return nil }

func slackText(ev Event) string {
	var b strings.Builder
	switch ev.Type {
	case VideoFailed:
		fmt.Fprintf(&b, ":x: video %s failed", ev.VideoID)
	case VideoCompleted:
		fmt.Fprintf(&b, ":white_check_mark: video %s completed", ev.VideoID)
		if ev.Model != "" {
			fmt.Fprintf(&b, " with %s", ev.Model)
		}
	case JobFinished:
		fmt.Fprintf(&b, "job %s finished: %s", ev.JobID, ev.Status)
	default:
		fmt.Fprintf(&b, "%s", ev.Type)
		if ev.VideoID != "" {
			fmt.Fprintf(&b, " video %s", ev.VideoID)
		}
	}
	if ev.Type != JobFinished && ev.JobID != "" {
		fmt.Fprintf(&b, " (job %s)", ev.JobID)
	}
	if ev.Error != "" {
		fmt.Fprintf(&b, "\n> %s", ev.Error)
	}
	return b.String()
}
