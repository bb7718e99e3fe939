// Package notify forwards alert events from the bus to a Slack channel so
// off-console dispatchers see timeouts and overruns. Delivery is
// best-effort: a failed post is logged and dropped, never retried beyond
// the rate-limit backoff.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/porterline/internal/eventbus"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// Attachment colors by severity.
const (
	colorWarning = "#f2c744"
	colorDanger  = "#d9534f"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Notifier posts formatted alert events to one Slack channel.
type Notifier struct {
	client  slackClient
	channel string
}

// Opts holds parameters for creating a Notifier.
type Opts struct {
	Token   string // xoxb-... Slack bot token
	Channel string // channel ID to post alerts to
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.Client == nil && opts.Token == "" {
		return nil, fmt.Errorf("notify: slack token is required")
	}
	if opts.Channel == "" {
		return nil, fmt.Errorf("notify: slack channel is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.Token)
	}
	return &Notifier{client: client, channel: opts.Channel}, nil
}

// Run subscribes to the bus and forwards alert-class events until ctx is
// cancelled or the bus closes.
func (n *Notifier) Run(ctx context.Context, bus *eventbus.Fanout) {
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			att, isAlert := format(e)
			if !isAlert {
				continue
			}
			if err := n.post(ctx, att); err != nil {
				log.Printf("notify: post alert: %v", err)
			}
		}
	}
}

func (n *Notifier) post(ctx context.Context, att slackapi.Attachment) error {
	return retryOnRateLimit(ctx, func() error {
		_, _, err := n.client.PostMessage(n.channel, slackapi.MsgOptionAttachments(att))
		return err
	})
}

// format maps an alert event to a Slack attachment. Non-alert events return
// false.
func format(e eventbus.Event) (slackapi.Attachment, bool) {
	switch evt := e.(type) {
	case eventbus.TimeoutAlert:
		return slackapi.Attachment{
			Title:    "Acceptance timeout",
			Text:     fmt.Sprintf("%s has not accepted %s after %.0fs", evt.WorkerID, evt.RequestID, evt.ElapsedSeconds),
			Color:    colorWarning,
			Fallback: "Acceptance timeout",
		}, true
	case eventbus.AutoAssignTimeout:
		text := fmt.Sprintf("%s reassigned from %s to %s", evt.RequestID, evt.OldWorkerID, evt.NewWorkerID)
		if evt.NewWorkerID == "" {
			text = fmt.Sprintf("%s returned to queue (%s did not respond): %s", evt.RequestID, evt.OldWorkerID, evt.Reason)
		}
		return slackapi.Attachment{
			Title:    "Auto-assignment timed out",
			Text:     text,
			Color:    colorWarning,
			Fallback: "Auto-assignment timed out",
		}, true
	case eventbus.CycleTimeAlert:
		return slackapi.Attachment{
			Title: "Cycle time overrun",
			Text: fmt.Sprintf("%s %s phase at %.0fs, threshold %.0fs (%s)",
				evt.RequestID, evt.Phase, evt.ElapsedSeconds, evt.BaselineSeconds, evt.Mode),
			Color:    colorWarning,
			Fallback: "Cycle time overrun",
		}, true
	case eventbus.BreakAlert:
		return slackapi.Attachment{
			Title:    "Break overrun",
			Text:     fmt.Sprintf("%s has been on break for %d minutes", evt.WorkerID, evt.MinutesOnBreak),
			Color:    colorWarning,
			Fallback: "Break overrun",
		}, true
	case eventbus.WorkerOffline:
		return slackapi.Attachment{
			Title:    "Worker offline",
			Text:     fmt.Sprintf("%s stopped responding, last heartbeat %s", evt.WorkerID, evt.LastSeen.Format(time.RFC3339)),
			Color:    colorDanger,
			Fallback: "Worker offline",
		}, true
	}
	return slackapi.Attachment{}, false
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit
// errors. It respects context cancellation and the RetryAfter duration from
// Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
