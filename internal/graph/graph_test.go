package graph

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"microblog_bot/internal/delivery"
	"microblog_bot/internal/model"
	"microblog_bot/internal/store"
)

func setupGraph(t *testing.T, usernames ...string) (*Graph, *store.MemoryStore, *delivery.Recorder) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore(10)
	for _, u := range usernames {
		if err := st.AddUser(ctx, model.User{Username: u, Handle: u + "@example.com"}); err != nil {
			t.Fatalf("AddUser(%s) error = %v", u, err)
		}
	}
	rec := delivery.NewRecorder()
	return New(st, rec), st, rec
}

func TestGraph_Follow(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		subscriber string
		target     string
		want       Outcome
		notices    int
	}{
		{"follow", "alice", "bob", Followed, 2},
		{"again", "alice", "bob", AlreadyFollowing, 0},
		{"case insensitive", "Alice", "BOB", AlreadyFollowing, 0},
		{"self", "alice", "alice", SelfFollowRejected, 0},
		{"self unknown user", "zed", "zed", SelfFollowRejected, 0},
		{"unknown target", "alice", "nobody", TargetNotFound, 0},
		{"reverse", "bob", "alice", Followed, 2},
	}

	g, _, rec := setupGraph(t, "alice", "bob")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec.Reset()
			got, err := g.Follow(ctx, tt.subscriber, tt.target)
			if err != nil {
				t.Fatalf("Follow() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Follow() = %v, want %v", got, tt.want)
			}
			if n := len(rec.Deliveries()); n != tt.notices {
				t.Errorf("notices = %d, want %d", n, tt.notices)
			}
		})
	}

	if got := g.Followers("bob"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Errorf("Followers(bob) = %v, want [alice]", got)
	}
	if got := g.Following("bob"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Errorf("Following(bob) = %v, want [alice]", got)
	}
}

func TestGraph_FollowNotices(t *testing.T) {
	g, _, rec := setupGraph(t, "alice", "bob")
	if _, err := g.Follow(context.Background(), "alice", "bob"); err != nil {
		t.Fatalf("Follow() error = %v", err)
	}

	alice := rec.To("alice")
	bob := rec.To("bob")
	if len(alice) != 1 || alice[0].Body != "Now you are following @bob." {
		t.Errorf("alice notices = %+v", alice)
	}
	if len(bob) != 1 || bob[0].Body != "You have a new follower: @alice." {
		t.Errorf("bob notices = %+v", bob)
	}
	if bob[0].Channel != model.ChannelNotice || bob[0].From != "" {
		t.Errorf("notice channel/from = %v/%q, want notice/\"\"", bob[0].Channel, bob[0].From)
	}
}

func TestGraph_Unfollow(t *testing.T) {
	ctx := context.Background()
	g, st, rec := setupGraph(t, "alice", "bob")

	if got, _ := g.Unfollow(ctx, "alice", "bob"); got != NotFollowing {
		t.Errorf("Unfollow() before follow = %v, want %v", got, NotFollowing)
	}
	if got, _ := g.Unfollow(ctx, "alice", "nobody"); got != TargetNotFound {
		t.Errorf("Unfollow() unknown = %v, want %v", got, TargetNotFound)
	}

	if _, err := g.Follow(ctx, "alice", "bob"); err != nil {
		t.Fatalf("Follow() error = %v", err)
	}
	rec.Reset()

	got, err := g.Unfollow(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("Unfollow() error = %v", err)
	}
	if got != Unfollowed {
		t.Errorf("Unfollow() = %v, want %v", got, Unfollowed)
	}
	if n := rec.To("alice"); len(n) != 1 || n[0].Body != "You don't follow @bob anymore." {
		t.Errorf("alice notices = %+v", n)
	}
	if n := rec.To("bob"); len(n) != 1 || n[0].Body != "You lost one of your followers: @alice." {
		t.Errorf("bob notices = %+v", n)
	}
	if g.IsFollower("alice", "bob") {
		t.Error("IsFollower() = true after Unfollow")
	}
	if follows, _ := st.ListFollows(ctx); len(follows) != 0 {
		t.Errorf("persisted follows = %v, want none", follows)
	}
}

func TestGraph_Load(t *testing.T) {
	ctx := context.Background()
	g, st, _ := setupGraph(t, "alice", "bob", "carol")

	require.NoError(t, st.AddFollow(ctx, "alice", "bob"))
	require.NoError(t, st.AddFollow(ctx, "carol", "bob"))
	require.NoError(t, g.Load(ctx))

	require.Equal(t, []string{"alice", "carol"}, g.Followers("bob"))
	require.Equal(t, 2, g.Edges())
	require.Empty(t, g.Followers("alice"))
}

func TestGraph_ConcurrentFollow(t *testing.T) {
	ctx := context.Background()
	users := []string{"target"}
	for i := 0; i < 20; i++ {
		users = append(users, fmt.Sprintf("user%d", i))
	}
	g, _, rec := setupGraph(t, users...)

	var wg sync.WaitGroup
	for _, u := range users[1:] {
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func(u string) {
				defer wg.Done()
				if _, err := g.Follow(ctx, u, "target"); err != nil {
					t.Errorf("Follow() error = %v", err)
				}
			}(u)
		}
	}
	wg.Wait()

	require.Len(t, g.Followers("target"), 20)
	require.Len(t, rec.To("target"), 20)
}
