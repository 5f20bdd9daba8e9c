// Package notify holds the outbound notification clients used by alert
// routing: Slack chat messages and PagerDuty Events v2 incidents.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
)

var ErrSlackNotConfigured = errors.New("slack is not configured")

// SlackSender is the part of the Slack API the router needs.
type SlackSender interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

type SlackNotifier struct {
	client SlackSender
}

// NewSlackNotifier returns a notifier, or one that fails with
// ErrSlackNotConfigured when no API token is set.
func NewSlackNotifier(apiToken string) *SlackNotifier {
	apiToken = strings.TrimSpace(apiToken)
	if apiToken == "" {
		return &SlackNotifier{}
	}
	return &SlackNotifier{client: slack.New(apiToken)}
}

// NewSlackNotifierWithClient is used by tests to inject a fake sender.
func NewSlackNotifierWithClient(client SlackSender) *SlackNotifier {
	return &SlackNotifier{client: client}
}

func (n *SlackNotifier) Configured() bool {
	return n.client != nil
}

func (n *SlackNotifier) Send(ctx context.Context, channelID, text string) error {
	if n.client == nil {
		return ErrSlackNotConfigured
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return fmt.Errorf("slack channel id is required")
	}
	if _, _, err := n.client.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("post slack message: %w", err)
	}
	return nil
}
