package slack

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	slacklib "github.com/slack-go/slack"

	"github.com/justmike1/promptops/worker"
)

// Client posts messages with the bot token.
type Client struct {
	api  *slacklib.Client
	pool *worker.Pool
}

// NewClient creates a client whose Notify calls are delivered on pool.
func NewClient(botToken string, pool *worker.Pool, opts ...slacklib.Option) *Client {
	return &Client{api: slacklib.New(botToken, opts...), pool: pool}
}

// PostMessage sends text to channelID and returns the message timestamp.
// A response with ok=false is reported as an error.
func (c *Client) PostMessage(ctx context.Context, channelID, text string) (string, error) {
	_, ts, err := c.api.PostMessageContext(ctx, channelID, slacklib.MsgOptionText(text, false))
	if err != nil {
		return "", fmt.Errorf("failed to post message: %w", err)
	}
	return ts, nil
}

// Notify delivers text in the background. Delivery failures are logged by
// the pool and never reach the caller.
func (c *Client) Notify(ctx context.Context, channelID, text string) {
	err := c.pool.Submit(ctx, "chat.postMessage "+channelID, func(ctx context.Context) error {
		_, err := c.PostMessage(ctx, channelID, text)
		return err
	})
	if err != nil {
		log.WithField("channel", channelID).WithError(err).Error("failed to queue slack message")
	}
}

// GetBotUserID returns the Slack user ID of the bot token.
func (c *Client) GetBotUserID(ctx context.Context) (string, error) {
	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to call auth.test: %w", err)
	}
	return resp.UserID, nil
}
