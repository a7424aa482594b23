// Package slack posts operator notices and relay failures to Slack.
package slack

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

var (
	initialBackoff  = 1 * time.Second
	maxBackoffDelay = 30 * time.Second
	maxTotalTimeout = 2 * time.Minute
)

type Client struct {
	client         *slack.Client
	channelID      string
	errorChannelID string
	enabled        bool
}

// NewClient creates a new Slack client. An empty token yields a disabled client.
func NewClient(token, channelID, errorChannelID string) *Client {
	if token == "" {
		return &Client{
			enabled: false,
		}
	}

	if errorChannelID == "" {
		errorChannelID = channelID
	}

	return &Client{
		client:         slack.New(token),
		channelID:      channelID,
		errorChannelID: errorChannelID,
		enabled:        true,
	}
}

// Enabled reports whether a token was configured
func (c *Client) Enabled() bool {
	return c.enabled
}

// PostMessage sends a message to the configured Slack channel
func (c *Client) PostMessage(ctx context.Context, message string) error {
	return c.PostMessageToChannel(ctx, c.channelID, message)
}

// PostErrorMessage sends a message to the configured error channel
func (c *Client) PostErrorMessage(ctx context.Context, message string) error {
	return c.PostMessageToChannel(ctx, c.errorChannelID, message)
}

// PostMessageToChannel sends a message to a specific Slack channel. Rate
// limited calls are retried with backoff until maxTotalTimeout, after which
// the message is dropped with a log line.
func (c *Client) PostMessageToChannel(ctx context.Context, channelID, message string) error {
	if !c.enabled {
		return nil
	}
	if message == "" {
		return nil
	}

	deadline := time.Now().Add(maxTotalTimeout)
	backoff := initialBackoff

	for {
		_, _, err := c.client.PostMessageContext(ctx, channelID, slack.MsgOptionText(message, false))
		if err == nil {
			return nil
		}
		if !isRateLimitedError(err) {
			log.Printf("[slack] post failed: %v", err)
			return err
		}

		wait := backoff
		var rle *slack.RateLimitedError
		if errors.As(err, &rle) && rle.RetryAfter > wait {
			wait = rle.RetryAfter
		}
		if wait > maxBackoffDelay {
			wait = maxBackoffDelay
		}
		if time.Now().Add(wait).After(deadline) {
			log.Printf("[slack] giving up after rate limiting: %v", err)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		backoff *= 2
		if backoff > maxBackoffDelay {
			backoff = maxBackoffDelay
		}
	}
}

// PostMessageAsync sends a message without waiting for the result
func (c *Client) PostMessageAsync(ctx context.Context, message string) {
	if !c.enabled {
		return
	}
	go func() {
		if err := c.PostMessage(ctx, message); err != nil {
			log.Printf("[slack] async post failed: %v", err)
		}
	}()
}

func isRateLimitedError(err error) bool {
	if err == nil {
		return false
	}

	var rle *slack.RateLimitedError
	if errors.As(err, &rle) {
		return true
	}

	var retryable interface{ Retryable() bool }
	if errors.As(err, &retryable) && retryable.Retryable() {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limited") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429")
}
