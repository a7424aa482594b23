// Package graph keeps the follow relation between users in memory, backed by
// the directory for persistence.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"microblog_bot/internal/delivery"
	"microblog_bot/internal/model"
	"microblog_bot/internal/store"
)

// ErrSelfReference is returned when an edge would point a user at themselves
var ErrSelfReference = errors.New("graph: self reference")

type Outcome int

const (
	Followed Outcome = iota
	AlreadyFollowing
	SelfFollowRejected
	TargetNotFound
	Unfollowed
	NotFollowing
)

func (o Outcome) String() string {
	switch o {
	case Followed:
		return "followed"
	case AlreadyFollowing:
		return "already_following"
	case SelfFollowRejected:
		return "self_follow_rejected"
	case TargetNotFound:
		return "target_not_found"
	case Unfollowed:
		return "unfollowed"
	case NotFollowing:
		return "not_following"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Store is the part of the directory the graph needs
type Store interface {
	GetUser(ctx context.Context, username string) (model.User, error)
	AddFollow(ctx context.Context, subscriber, target string) error
	RemoveFollow(ctx context.Context, subscriber, target string) error
	ListFollows(ctx context.Context) ([]model.Follow, error)
}

type set map[string]struct{}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Graph answers follower queries from memory. Notices are delivered after
// the lock is released.
type Graph struct {
	mu        sync.RWMutex
	followers map[string]set // target -> subscribers
	following map[string]set // subscriber -> targets

	store     Store
	deliverer delivery.Deliverer
}

func New(st Store, deliverer delivery.Deliverer) *Graph {
	return &Graph{
		followers: make(map[string]set),
		following: make(map[string]set),
		store:     st,
		deliverer: deliverer,
	}
}

// Load replaces the in-memory edges with the persisted ones
func (g *Graph) Load(ctx context.Context) error {
	follows, err := g.store.ListFollows(ctx)
	if err != nil {
		return fmt.Errorf("failed to load follows: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.followers = make(map[string]set)
	g.following = make(map[string]set)
	loaded := 0
	for _, f := range follows {
		if err := g.addEdge(f.Subscriber, f.Target); err != nil {
			log.Printf("[graph] skipping edge %s -> %s: %v", f.Subscriber, f.Target, err)
			continue
		}
		loaded++
	}
	log.Printf("[graph] %d follows were loaded", loaded)
	return nil
}

// addEdge must be called with mu held for writing
func (g *Graph) addEdge(subscriber, target string) error {
	if subscriber == target {
		return ErrSelfReference
	}
	if g.followers[target] == nil {
		g.followers[target] = make(set)
	}
	if g.following[subscriber] == nil {
		g.following[subscriber] = make(set)
	}
	g.followers[target][subscriber] = struct{}{}
	g.following[subscriber][target] = struct{}{}
	return nil
}

// removeEdge must be called with mu held for writing
func (g *Graph) removeEdge(subscriber, target string) {
	delete(g.followers[target], subscriber)
	delete(g.following[subscriber], target)
}

// IsFollower reports whether subscriber follows target
func (g *Graph) IsFollower(subscriber, target string) bool {
	subscriber = model.NormalizeUsername(subscriber)
	target = model.NormalizeUsername(target)

	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.followers[target][subscriber]
	return ok
}

// Followers returns the users following username, sorted
func (g *Graph) Followers(username string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.followers[model.NormalizeUsername(username)].sorted()
}

// Following returns the users username follows, sorted
func (g *Graph) Following(username string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.following[model.NormalizeUsername(username)].sorted()
}

// Edges returns the number of follow edges
func (g *Graph) Edges() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := 0
	for _, s := range g.following {
		n += len(s)
	}
	return n
}

// lookup resolves a user, mapping a missing one to found=false
func (g *Graph) lookup(ctx context.Context, username string) (model.User, bool, error) {
	user, err := g.store.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, err
	}
	return user, true, nil
}

// Follow makes subscriber follow target and notifies both sides
func (g *Graph) Follow(ctx context.Context, subscriber, target string) (Outcome, error) {
	subscriber = model.NormalizeUsername(subscriber)
	target = model.NormalizeUsername(target)

	if subscriber == target {
		return SelfFollowRejected, nil
	}

	targetUser, ok, err := g.lookup(ctx, target)
	if err != nil {
		return 0, fmt.Errorf("failed to look up %s: %w", target, err)
	}
	if !ok {
		return TargetNotFound, nil
	}
	subscriberUser, ok, err := g.lookup(ctx, subscriber)
	if err != nil {
		return 0, fmt.Errorf("failed to look up %s: %w", subscriber, err)
	}
	if !ok {
		return 0, fmt.Errorf("subscriber %s: %w", subscriber, store.ErrNotFound)
	}

	if g.IsFollower(subscriber, target) {
		return AlreadyFollowing, nil
	}

	err = g.store.AddFollow(ctx, subscriber, target)
	duplicate := errors.Is(err, store.ErrDuplicate)
	if err != nil && !duplicate {
		return 0, fmt.Errorf("failed to persist follow: %w", err)
	}

	g.mu.Lock()
	_ = g.addEdge(subscriber, target)
	g.mu.Unlock()

	if duplicate {
		return AlreadyFollowing, nil
	}

	log.Printf("[graph] %s now follows %s", subscriber, target)
	delivery.DeliverAll(ctx, g.deliverer, []model.Delivery{
		notice(subscriberUser, fmt.Sprintf("Now you are following @%s.", target)),
		notice(targetUser, fmt.Sprintf("You have a new follower: @%s.", subscriber)),
	})
	return Followed, nil
}

// Unfollow removes the edge subscriber -> target and notifies both sides
func (g *Graph) Unfollow(ctx context.Context, subscriber, target string) (Outcome, error) {
	subscriber = model.NormalizeUsername(subscriber)
	target = model.NormalizeUsername(target)

	targetUser, ok, err := g.lookup(ctx, target)
	if err != nil {
		return 0, fmt.Errorf("failed to look up %s: %w", target, err)
	}
	if !ok {
		return TargetNotFound, nil
	}
	if !g.IsFollower(subscriber, target) {
		return NotFollowing, nil
	}
	subscriberUser, ok, err := g.lookup(ctx, subscriber)
	if err != nil {
		return 0, fmt.Errorf("failed to look up %s: %w", subscriber, err)
	}
	if !ok {
		return 0, fmt.Errorf("subscriber %s: %w", subscriber, store.ErrNotFound)
	}

	err = g.store.RemoveFollow(ctx, subscriber, target)
	missing := errors.Is(err, store.ErrNotFound)
	if err != nil && !missing {
		return 0, fmt.Errorf("failed to delete follow: %w", err)
	}

	g.mu.Lock()
	g.removeEdge(subscriber, target)
	g.mu.Unlock()

	if missing {
		return NotFollowing, nil
	}

	log.Printf("[graph] %s stopped following %s", subscriber, target)
	delivery.DeliverAll(ctx, g.deliverer, []model.Delivery{
		notice(subscriberUser, fmt.Sprintf("You don't follow @%s anymore.", target)),
		notice(targetUser, fmt.Sprintf("You lost one of your followers: @%s.", subscriber)),
	})
	return Unfollowed, nil
}

func notice(to model.User, body string) model.Delivery {
	return model.Delivery{To: to, Channel: model.ChannelNotice, Body: body}
}
