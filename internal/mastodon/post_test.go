package mastodon

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"microblog_bot/internal/model"
)

func TestSplitResponse(t *testing.T) {
	mention := "@user "

	tests := []struct {
		name     string
		response string
		want     int
	}{
		{
			name:     "short",
			response: "hello",
			want:     1,
		},
		{
			name:     "within 480 chars",
			response: strings.Repeat("a", 470),
			want:     1,
		},
		{
			name:     "split at newline",
			response: strings.Repeat("a", 470) + "\n" + strings.Repeat("b", 100),
			want:     2,
		},
		{
			name:     "long without newline",
			response: strings.Repeat("a", 1000),
			want:     3,
		},
		{
			name:     "multibyte runes",
			response: strings.Repeat("あ", 1000),
			want:     3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := splitResponse(tt.response, mention, 480)
			if len(parts) != tt.want {
				t.Errorf("splitResponse() = %d parts, want %d parts", len(parts), tt.want)
			}

			for i, part := range parts {
				contentLen := len([]rune(mention + part))
				if contentLen > 480 {
					t.Errorf("part %d length = %d, exceeds 480 characters", i, contentLen)
				}
			}
		})
	}
}

func TestFindLastNewline(t *testing.T) {
	tests := []struct {
		name  string
		runes []rune
		start int
		end   int
		want  int
	}{
		{"newline", []rune("abc\nde"), 0, 5, 3},
		{"no newline", []rune("abcde"), 0, 5, -1},
		{"several newlines", []rune("a\nb\nc"), 0, 5, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := findLastNewline(tt.runes, tt.start, tt.end)
			if got != tt.want {
				t.Errorf("findLastNewline() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		d    model.Delivery
		want string
	}{
		{
			name: "subscriber",
			d:    model.Delivery{From: "bob", Channel: model.ChannelSubscriber, Body: "hello world @alice"},
			want: "@bob: hello world @alice",
		},
		{
			name: "mention",
			d:    model.Delivery{From: "bob", Channel: model.ChannelMention, Body: "hi @carol"},
			want: "Mention by @bob: hi @carol",
		},
		{
			name: "search with terms",
			d: model.Delivery{
				From:    "bob",
				Channel: model.ChannelSearch,
				Body:    `Search: @bob says "go go"`,
				Payload: model.Payload{{Name: model.NodeSearchTerm, Text: "go"}, {Name: NodeTag, Text: "x"}, {Name: model.NodeSearchTerm, Text: "lang"}},
			},
			want: "Search: @bob says \"go go\"\n\nmatched: go, lang",
		},
		{
			name: "notice",
			d:    model.Delivery{Channel: model.ChannelNotice, Body: "You have no searches."},
			want: "You have no searches.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.d); got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

type postedStatus struct {
	status     string
	visibility string
	spoiler    string
	inReplyTo  string
}

func newStatusServer(t *testing.T) (*httptest.Server, func() []postedStatus) {
	t.Helper()
	var mu sync.Mutex
	var posted []postedStatus

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/statuses" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
			return
		}

		mu.Lock()
		posted = append(posted, postedStatus{
			status:     r.FormValue("status"),
			visibility: r.FormValue("visibility"),
			spoiler:    r.FormValue("spoiler_text"),
			inReplyTo:  r.FormValue("in_reply_to_id"),
		})
		id := len(posted)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id": "%d", "content": "posted"}`, id)
	}))
	t.Cleanup(ts.Close)

	return ts, func() []postedStatus {
		mu.Lock()
		defer mu.Unlock()
		return append([]postedStatus(nil), posted...)
	}
}

func TestDeliver(t *testing.T) {
	ts, posted := newStatusServer(t)
	c := NewClient(Config{Server: ts.URL, AccessToken: "token"})

	err := c.Deliver(context.Background(), model.Delivery{
		To:      model.User{Username: "alice", Handle: "alice@example.com"},
		From:    "bob",
		Channel: model.ChannelSubscriber,
		Body:    "hello",
		Payload: model.Payload{{Name: NodeSpoiler, Text: "cw"}},
	})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	got := posted()
	if len(got) != 1 {
		t.Fatalf("posted %d statuses, want 1", len(got))
	}
	want := postedStatus{status: "@alice@example.com @bob: hello", visibility: VisibilityDirect, spoiler: "cw"}
	if got[0] != want {
		t.Errorf("posted = %+v, want %+v", got[0], want)
	}
}

func TestDeliver_SplitsIntoThread(t *testing.T) {
	ts, posted := newStatusServer(t)
	c := NewClient(Config{Server: ts.URL, AccessToken: "token", MaxStatusChars: 20})

	err := c.Deliver(context.Background(), model.Delivery{
		To:      model.User{Username: "alice", Handle: "alice"},
		Channel: model.ChannelNotice,
		Body:    strings.Repeat("x", 30),
	})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	got := posted()
	if len(got) != 3 {
		t.Fatalf("posted %d statuses, want 3", len(got))
	}
	for i, p := range got {
		if !strings.HasPrefix(p.status, "@alice ") {
			t.Errorf("part %d = %q, want @alice prefix", i, p.status)
		}
		if n := len([]rune(p.status)); n > 20 {
			t.Errorf("part %d length = %d, exceeds 20", i, n)
		}
	}
	if got[0].inReplyTo != "" || got[1].inReplyTo != "1" || got[2].inReplyTo != "2" {
		t.Errorf("thread replies = %q %q %q, want \"\" 1 2", got[0].inReplyTo, got[1].inReplyTo, got[2].inReplyTo)
	}
}

func TestDeliver_NoHandle(t *testing.T) {
	c := NewClient(Config{Server: "http://127.0.0.1:1", AccessToken: "token"})
	err := c.Deliver(context.Background(), model.Delivery{To: model.User{Username: "ghost"}})
	if err == nil {
		t.Error("Deliver() error = nil, want error")
	}
}
