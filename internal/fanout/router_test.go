package fanout

import (
	"context"
	"reflect"
	"testing"

	"microblog_bot/internal/delivery"
	"microblog_bot/internal/graph"
	"microblog_bot/internal/model"
	"microblog_bot/internal/search"
	"microblog_bot/internal/store"
)

type fixture struct {
	store  *store.MemoryStore
	graph  *graph.Graph
	index  *search.Index
	router *Router
}

func setup(t *testing.T, opts Options, usernames ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore(10)
	for _, u := range usernames {
		if err := st.AddUser(ctx, model.User{Username: u, Handle: u + "@example.com"}); err != nil {
			t.Fatalf("AddUser(%s) error = %v", u, err)
		}
	}
	g := graph.New(st, delivery.NewRecorder())
	idx := search.NewIndex(search.DefaultMaxNeighbours)
	return &fixture{store: st, graph: g, index: idx, router: NewRouter(st, g, idx, opts)}
}

func (f *fixture) follow(t *testing.T, subscriber, target string) {
	t.Helper()
	out, err := f.graph.Follow(context.Background(), subscriber, target)
	if err != nil || out != graph.Followed {
		t.Fatalf("Follow(%s, %s) = %v, %v", subscriber, target, out, err)
	}
}

func recipients(ds []model.Delivery) []string {
	var out []string
	for _, d := range ds {
		out = append(out, d.To.Username)
	}
	return out
}

func TestMentions(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"none", "hello world", nil},
		{"one", "hi @Bob!", []string{"bob"}},
		{"leading mention needs a non-word char", "@bob hi", nil},
		{"email is not a mention", "mail me at a@bob.com", nil},
		{"duplicates collapse", "@x @bob and @BOB", []string{"bob"}},
		{"order", "cc @carol, @bob", []string{"carol", "bob"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Mentions(tt.text); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Mentions(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestRoute_FollowerMentionedOnce(t *testing.T) {
	f := setup(t, Options{}, "alice", "bob")
	f.follow(t, "alice", "bob")

	plan, err := f.router.Route(context.Background(), model.Post{Author: "bob", Text: "hello world @alice"})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}

	if len(plan.Subscribers) != 1 {
		t.Fatalf("len(Subscribers) = %d, want 1", len(plan.Subscribers))
	}
	d := plan.Subscribers[0]
	if d.To.Username != "alice" || d.From != "bob" || d.Body != "hello world @alice" || d.Channel != model.ChannelSubscriber {
		t.Errorf("subscriber delivery = %+v", d)
	}
	if len(plan.Mentions) != 0 {
		t.Errorf("Mentions = %+v, want none", plan.Mentions)
	}
}

func TestRoute_SubscribersAndMentions(t *testing.T) {
	f := setup(t, Options{}, "alice", "bob", "carol", "dave", "eve")
	f.follow(t, "alice", "bob")
	f.follow(t, "carol", "bob")

	text := "ping @dave @alice @ghost @bob @dave"
	plan, err := f.router.Route(context.Background(), model.Post{Author: "bob", Text: text})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}

	if got := recipients(plan.Subscribers); !reflect.DeepEqual(got, []string{"alice", "carol"}) {
		t.Errorf("Subscribers = %v, want [alice carol]", got)
	}
	// self mention kept, unknown and followers dropped
	if got := recipients(plan.Mentions); !reflect.DeepEqual(got, []string{"dave", "bob"}) {
		t.Errorf("Mentions = %v, want [dave bob]", got)
	}
	if got := plan.Mentioned(); !reflect.DeepEqual(got, []string{"dave", "bob"}) {
		t.Errorf("Mentioned() = %v, want [dave bob]", got)
	}
	if n := len(plan.All()); n != 4 {
		t.Errorf("len(All()) = %d, want 4", n)
	}
	for _, d := range plan.Mentions {
		if d.Body != text || d.Channel != model.ChannelMention {
			t.Errorf("mention delivery = %+v", d)
		}
	}
}

func TestSearchDeliveries(t *testing.T) {
	ctx := context.Background()
	f := setup(t, Options{}, "alice", "bob", "carol", "dave")
	f.follow(t, "alice", "bob")

	for _, w := range []struct{ phrase, user string }{
		{"go", "alice"},
		{"go", "bob"},
		{"go", "carol"},
		{"lang", "carol"},
		{"go", "dave"},
		{"go", "ghost"},
		{"rust", "dave"},
	} {
		if _, err := f.index.Subscribe(w.phrase, w.user); err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
	}

	post := model.Post{
		Author:  "bob",
		Text:    "Golang rocks @dave",
		Payload: model.Payload{{Name: "client", Text: "cli"}},
	}
	ds, err := f.router.SearchDeliveries(ctx, search.Job{Post: post, Mentioned: []string{"dave"}})
	if err != nil {
		t.Fatalf("SearchDeliveries() error = %v", err)
	}

	// author and followers excluded, unknown users skipped
	if got := recipients(ds); !reflect.DeepEqual(got, []string{"carol", "dave"}) {
		t.Fatalf("recipients = %v, want [carol dave]", got)
	}

	carol := ds[0]
	if carol.Body != `Search: @bob says "Golang rocks @dave"` {
		t.Errorf("Body = %q", carol.Body)
	}
	if got := carol.Payload.Values(model.NodeSearchTerm); !reflect.DeepEqual(got, []string{"go", "lang"}) {
		t.Errorf("searchTerm nodes = %v, want [go lang]", got)
	}
	if got := carol.Payload.Values("client"); !reflect.DeepEqual(got, []string{"cli"}) {
		t.Errorf("client nodes = %v, want [cli]", got)
	}
	if len(post.Payload) != 1 {
		t.Errorf("original payload mutated: %v", post.Payload)
	}
}

func TestSearchDeliveries_DedupAcrossChannels(t *testing.T) {
	f := setup(t, Options{DedupAcrossChannels: true}, "bob", "dave")
	if _, err := f.index.Subscribe("go", "dave"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	job := search.Job{Post: model.Post{Author: "bob", Text: "go @dave"}, Mentioned: []string{"dave"}}
	ds, err := f.router.SearchDeliveries(context.Background(), job)
	if err != nil {
		t.Fatalf("SearchDeliveries() error = %v", err)
	}
	if len(ds) != 0 {
		t.Errorf("deliveries = %+v, want none", ds)
	}
}
