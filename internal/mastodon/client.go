// Package mastodon is the transport between Mastodon and the relay: mention
// notifications come in as messages, deliveries go out as direct statuses.
package mastodon

import (
	"context"
	"log"
	"strings"
	"time"

	gomastodon "github.com/mattn/go-mastodon"
)

const (
	// DefaultMaxStatusChars is the status length used when none is configured
	DefaultMaxStatusChars = 480

	// VisibilityDirect keeps relayed posts between the bot and the recipient
	VisibilityDirect = "direct"

	// SplitPostDelay は分割投稿時の待機時間
	SplitPostDelay = 200 * time.Millisecond
)

type Config struct {
	Server           string
	AccessToken      string
	BotUsername      string
	AllowRemoteUsers bool
	MaxStatusChars   int
}

type Client struct {
	client *gomastodon.Client
	config Config
}

func NewClient(cfg Config) *Client {
	if cfg.MaxStatusChars <= 0 {
		cfg.MaxStatusChars = DefaultMaxStatusChars
	}
	c := gomastodon.NewClient(&gomastodon.Config{
		Server:      cfg.Server,
		AccessToken: cfg.AccessToken,
	})
	return &Client{
		client: c,
		config: cfg,
	}
}

// VerifyAccount fetches the authenticated account and warns when it does not
// match the configured bot username
func (c *Client) VerifyAccount(ctx context.Context) (*gomastodon.Account, error) {
	account, err := c.client.GetAccountCurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if c.config.BotUsername != "" && !strings.EqualFold(account.Username, c.config.BotUsername) {
		log.Printf("[mastodon] access token belongs to @%s, configured bot is @%s", account.Username, c.config.BotUsername)
	}
	return account, nil
}

func isRemoteUser(acct string) bool {
	return strings.Contains(acct, "@")
}
