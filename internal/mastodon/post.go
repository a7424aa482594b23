package mastodon

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	gomastodon "github.com/mattn/go-mastodon"

	"microblog_bot/internal/model"
)

func BuildMention(acct string) string {
	return "@" + acct + " "
}

// Render turns a delivery into status text without the recipient mention
func Render(d model.Delivery) string {
	var sb strings.Builder
	switch d.Channel {
	case model.ChannelSubscriber:
		sb.WriteString(fmt.Sprintf("@%s: ", d.From))
	case model.ChannelMention:
		sb.WriteString(fmt.Sprintf("Mention by @%s: ", d.From))
	}
	sb.WriteString(d.Body)

	if terms := d.Payload.Values(model.NodeSearchTerm); len(terms) > 0 {
		sb.WriteString("\n\nmatched: ")
		sb.WriteString(strings.Join(terms, ", "))
	}
	return sb.String()
}

// Deliver posts the delivery as a direct status to the recipient's handle
func (c *Client) Deliver(ctx context.Context, d model.Delivery) error {
	if d.To.Handle == "" {
		return fmt.Errorf("recipient %s has no handle", d.To.Username)
	}

	var spoiler string
	if values := d.Payload.Values(NodeSpoiler); len(values) > 0 {
		spoiler = values[0]
	}

	_, err := c.PostSplit(ctx, "", BuildMention(d.To.Handle), Render(d), VisibilityDirect, spoiler)
	return err
}

// PostSplit posts text as a thread, each part prefixed with mention
func (c *Client) PostSplit(ctx context.Context, inReplyToID, mention, text, visibility, spoiler string) ([]*gomastodon.Status, error) {
	parts := splitResponse(text, mention, c.config.MaxStatusChars)

	var posted []*gomastodon.Status
	currentReplyID := inReplyToID
	for i, part := range parts {
		// 2投稿目以降は待機して投稿順序を保証
		if i > 0 {
			select {
			case <-ctx.Done():
				return posted, ctx.Err()
			case <-time.After(SplitPostDelay):
			}
		}

		status, err := c.postStatus(ctx, currentReplyID, mention+part, visibility, spoiler)
		if err != nil {
			log.Printf("[mastodon] split post failed (%d/%d): %v", i+1, len(parts), err)
			return posted, err
		}
		currentReplyID = string(status.ID)
		posted = append(posted, status)
	}
	return posted, nil
}

func (c *Client) postStatus(ctx context.Context, inReplyToID, content, visibility, spoiler string) (*gomastodon.Status, error) {
	toot := &gomastodon.Toot{
		Status:      content,
		InReplyToID: gomastodon.ID(inReplyToID),
		Visibility:  visibility,
		SpoilerText: spoiler,
	}

	status, err := c.client.PostStatus(ctx, toot)
	if err != nil {
		log.Printf("[mastodon] post failed: %v", err)
		if strings.Contains(err.Error(), "422") {
			log.Printf("[mastodon] 422 error detected. Content length: %d", len([]rune(content)))
			log.Printf("Rejected Content: %s", content)
		}
		return nil, err
	}
	return status, nil
}

// Response splitting

func splitResponse(response, mention string, maxChars int) []string {
	mentionLen := len([]rune(mention))
	maxContentLen := maxChars - mentionLen
	if maxContentLen < 1 {
		maxContentLen = 1
	}

	runes := []rune(response)
	if len(runes) <= maxContentLen {
		return []string{response}
	}

	return splitByNewline(runes, maxContentLen)
}

func splitByNewline(runes []rune, maxLen int) []string {
	var parts []string
	start := 0

	for start < len(runes) {
		end := start + maxLen
		if end >= len(runes) {
			parts = append(parts, string(runes[start:]))
			break
		}

		splitPos := findLastNewline(runes, start, end)
		if splitPos == -1 {
			splitPos = end
		}

		parts = append(parts, string(runes[start:splitPos]))
		start = skipLeadingNewlines(runes, splitPos)
	}

	return parts
}

func findLastNewline(runes []rune, start, end int) int {
	for i := end - 1; i > start; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	return -1
}

func skipLeadingNewlines(runes []rune, pos int) int {
	for pos < len(runes) && runes[pos] == '\n' {
		pos++
	}
	return pos
}
