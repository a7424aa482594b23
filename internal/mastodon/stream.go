package mastodon

import (
	"context"
	"log"
	"strings"

	gomastodon "github.com/mattn/go-mastodon"
	"golang.org/x/net/html"

	"microblog_bot/internal/model"
)

// Payload node names filled from inbound statuses
const (
	NodeTag     = "tag"
	NodeSpoiler = "spoiler"
)

// Message is one inbound mention addressed to the bot
type Message struct {
	StatusID    string
	Handle      string
	DisplayName string
	Text        string
	Payload     model.Payload
}

type MessageHandler func(ctx context.Context, msg Message)

// StreamMessages listens to the user stream and calls handler for every
// mention of the bot, one at a time. Returns when ctx is cancelled.
func (c *Client) StreamMessages(ctx context.Context, handler MessageHandler) error {
	events, err := c.client.StreamingUser(ctx)
	if err != nil {
		return err
	}

	log.Println("[mastodon] streaming connected")

	for event := range events {
		switch e := event.(type) {
		case *gomastodon.NotificationEvent:
			if !c.shouldProcess(e.Notification) {
				continue
			}
			handler(ctx, MessageFromStatus(e.Notification.Status, c.config.BotUsername))
		case *gomastodon.ErrorEvent:
			if ctx.Err() == nil {
				log.Printf("[mastodon] streaming error: %v", e)
			}
		}
	}

	log.Println("[mastodon] streaming disconnected")
	return ctx.Err()
}

func (c *Client) shouldProcess(n *gomastodon.Notification) bool {
	if n == nil || n.Type != "mention" || n.Status == nil {
		return false
	}
	if strings.EqualFold(n.Account.Username, c.config.BotUsername) && !isRemoteUser(n.Account.Acct) {
		return false
	}
	if !c.config.AllowRemoteUsers && isRemoteUser(n.Account.Acct) {
		log.Printf("[mastodon] skipping mention from remote user @%s", n.Account.Acct)
		return false
	}
	return true
}

// MessageFromStatus converts a status into a message: HTML is stripped and
// leading mentions of the bot are removed. Other mentions stay in the text.
func MessageFromStatus(status *gomastodon.Status, botUsername string) Message {
	text := stripLeadingMentions(strings.TrimSpace(stripHTML(string(status.Content))), botUsername)

	var payload model.Payload
	if status.SpoilerText != "" {
		payload = append(payload, model.Node{Name: NodeSpoiler, Text: status.SpoilerText})
	}
	for _, tag := range status.Tags {
		payload = append(payload, model.Node{Name: NodeTag, Text: tag.Name})
	}

	displayName := status.Account.DisplayName
	if displayName == "" {
		displayName = status.Account.Username
	}

	return Message{
		StatusID:    string(status.ID),
		Handle:      status.Account.Acct,
		DisplayName: displayName,
		Text:        text,
		Payload:     payload,
	}
}

func stripLeadingMentions(text, botUsername string) string {
	for strings.HasPrefix(text, "@") {
		end := strings.IndexAny(text, " \t\n")
		word := text
		if end >= 0 {
			word = text[:end]
		}
		name := strings.TrimPrefix(word, "@")
		if i := strings.Index(name, "@"); i >= 0 {
			name = name[:i]
		}
		if !strings.EqualFold(name, botUsername) {
			break
		}
		if end < 0 {
			return ""
		}
		text = strings.TrimLeft(text[end:], " \t\n")
	}
	return text
}

func stripHTML(htmlStr string) string {
	doc, err := html.Parse(strings.NewReader(htmlStr))
	if err != nil {
		return htmlStr
	}

	var buf strings.Builder
	extractText(doc, &buf)
	return buf.String()
}

func extractText(n *html.Node, buf *strings.Builder) {
	if n.Type == html.TextNode {
		buf.WriteString(n.Data)
	} else if n.Type == html.ElementNode {
		switch n.Data {
		case "br":
			buf.WriteString("\n")
		case "p":
			if buf.Len() > 0 {
				buf.WriteString("\n\n")
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, buf)
	}
}
