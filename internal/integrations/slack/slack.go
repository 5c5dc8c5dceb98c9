// Package slack delivers notifications to Slack channels.
package slack

import (
	"context"

	"github.com/slack-go/slack"

	"buildwatch/internal/domain"
)

type Transport struct {
	api *slack.Client
}

func New(botToken string) *Transport {
	return &Transport{api: slack.New(botToken)}
}

// Send posts the message text to the target channel. The returned error
// wraps the Slack API failure as transient so the router retries it.
func (t *Transport) Send(ctx context.Context, target domain.NotificationTarget, text string) error {
	_, _, err := t.api.PostMessageContext(ctx, target.Channel, slack.MsgOptionText(text, false))
	if err != nil {
		return &domain.TransientIOError{Op: "slack post to " + target.Channel, Err: err}
	}
	return nil
}
