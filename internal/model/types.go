package model

import (
	"strings"
	"time"
)

// Channel identifies why a delivery was made
type Channel string

const (
	// ChannelSubscriber は投稿者のフォロワーへの配信
	ChannelSubscriber Channel = "subscriber"

	// ChannelMention は本文中の @username への配信
	ChannelMention Channel = "mention"

	// ChannelSearch は検索語ウォッチによる配信
	ChannelSearch Channel = "search"

	// ChannelDirect は "d username message" コマンドによる配信
	ChannelDirect Channel = "direct"

	// ChannelReply は "@username message" コマンドによる配信
	ChannelReply Channel = "reply"

	// ChannelNotice はボットからのシステム通知（コマンド応答など）
	ChannelNotice Channel = "notice"
)

// NodeSearchTerm is the payload node name attached for every matched search term
const NodeSearchTerm = "searchTerm"

type User struct {
	Username    string    `json:"username"`
	Handle      string    `json:"handle"` // transport address, e.g. Mastodon acct
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Follow struct {
	Subscriber string    `json:"subscriber"`
	Target     string    `json:"target"`
	CreatedAt  time.Time `json:"created_at"`
}

type SearchTerm struct {
	Term      string    `json:"term"` // normalized phrase
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Node is one extension element carried alongside a message
type Node struct {
	Name  string            `json:"name"`
	Text  string            `json:"text,omitempty"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Payload is an ordered collection of extension nodes. Transports carry it
// unchanged; the core only ever appends to a clone.
type Payload []Node

// Clone returns a deep copy so per-recipient annotations never leak
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for i, n := range p {
		out[i] = Node{Name: n.Name, Text: n.Text}
		if n.Attrs != nil {
			out[i].Attrs = make(map[string]string, len(n.Attrs))
			for k, v := range n.Attrs {
				out[i].Attrs[k] = v
			}
		}
	}
	return out
}

// With returns a clone of p with a node appended
func (p Payload) With(name, text string) Payload {
	out := p.Clone()
	return append(out, Node{Name: name, Text: text})
}

// Values returns the texts of all nodes with the given name, in order
func (p Payload) Values(name string) []string {
	var values []string
	for _, n := range p {
		if n.Name == name {
			values = append(values, n.Text)
		}
	}
	return values
}

type Post struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Payload   Payload   `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Delivery struct {
	To      User
	From    string // author username, empty for bot notices
	Channel Channel
	Body    string
	Payload Payload
}

// NormalizeUsername lowercases and trims a username for lookups
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
