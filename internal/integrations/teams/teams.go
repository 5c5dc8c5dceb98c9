// Package teams delivers notifications to Microsoft Teams via an incoming
// webhook, rendered as message cards.
package teams

import (
	"context"

	goteamsnotify "github.com/atc0005/go-teams-notify/v2"
	"github.com/atc0005/go-teams-notify/v2/messagecard"

	"buildwatch/internal/domain"
)

type Transport struct {
	client     *goteamsnotify.TeamsClient
	webhookURL string
}

// New builds a transport bound to one incoming-webhook URL. The channel a
// webhook posts into is fixed on the Teams side, so the NotificationTarget
// channel field is informational here.
func New(webhookURL string) *Transport {
	return &Transport{
		client:     goteamsnotify.NewTeamsClient(),
		webhookURL: webhookURL,
	}
}

func (t *Transport) Send(ctx context.Context, target domain.NotificationTarget, text string) error {
	card := messagecard.NewMessageCard()
	card.Title = "Jenkins build failure"
	card.Text = text

	if err := t.client.SendWithContext(ctx, t.webhookURL, card); err != nil {
		return &domain.TransientIOError{Op: "teams post to " + target.Channel, Err: err}
	}
	return nil
}
