// Package fanout decides who receives a post: followers of the author,
// mentioned users, and users watching a matching search phrase.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"

	"microblog_bot/internal/model"
	"microblog_bot/internal/search"
	"microblog_bot/internal/store"
)

var mentionRe = regexp.MustCompile(`\W@(\w+)`)

// Users resolves usernames to recipients
type Users interface {
	GetUser(ctx context.Context, username string) (model.User, error)
}

// Followers lists the subscribers of an author
type Followers interface {
	Followers(username string) []string
}

type Options struct {
	// DedupAcrossChannels drops search deliveries for users already reached by mention
	DedupAcrossChannels bool
	Debug               bool
}

// Plan holds the synchronous deliveries of one post
type Plan struct {
	Subscribers []model.Delivery
	Mentions    []model.Delivery
}

// Mentioned returns the usernames reached through the mention channel
func (p Plan) Mentioned() []string {
	out := make([]string, 0, len(p.Mentions))
	for _, d := range p.Mentions {
		out = append(out, d.To.Username)
	}
	return out
}

// All returns subscriber deliveries followed by mention deliveries
func (p Plan) All() []model.Delivery {
	out := make([]model.Delivery, 0, len(p.Subscribers)+len(p.Mentions))
	out = append(out, p.Subscribers...)
	return append(out, p.Mentions...)
}

type Router struct {
	users     Users
	followers Followers
	index     *search.Index
	opts      Options
}

func NewRouter(users Users, followers Followers, index *search.Index, opts Options) *Router {
	return &Router{users: users, followers: followers, index: index, opts: opts}
}

// Mentions returns the distinct lowercased usernames mentioned in text, in
// order of first appearance. A mention must follow a non-word character.
func Mentions(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		username := model.NormalizeUsername(m[1])
		if _, dup := seen[username]; dup {
			continue
		}
		seen[username] = struct{}{}
		out = append(out, username)
	}
	return out
}

// resolve returns the user, or found=false when it does not exist
func (r *Router) resolve(ctx context.Context, username string) (model.User, bool, error) {
	user, err := r.users.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, fmt.Errorf("failed to resolve %s: %w", username, err)
	}
	return user, true, nil
}

// Route computes the subscriber and mention deliveries of a post
func (r *Router) Route(ctx context.Context, post model.Post) (Plan, error) {
	author := model.NormalizeUsername(post.Author)
	var plan Plan

	subscribers := make(map[string]struct{})
	for _, username := range r.followers.Followers(author) {
		subscribers[username] = struct{}{}
		user, ok, err := r.resolve(ctx, username)
		if err != nil {
			return Plan{}, err
		}
		if !ok {
			log.Printf("[fanout] follower %s of %s no longer exists", username, author)
			continue
		}
		plan.Subscribers = append(plan.Subscribers, model.Delivery{
			To:      user,
			From:    author,
			Channel: model.ChannelSubscriber,
			Body:    post.Text,
			Payload: post.Payload.Clone(),
		})
	}

	for _, username := range Mentions(post.Text) {
		if _, isSubscriber := subscribers[username]; isSubscriber {
			continue
		}
		user, ok, err := r.resolve(ctx, username)
		if err != nil {
			return Plan{}, err
		}
		if !ok {
			if r.opts.Debug {
				log.Printf("[fanout] mentioned user %s not found", username)
			}
			continue
		}
		plan.Mentions = append(plan.Mentions, model.Delivery{
			To:      user,
			From:    author,
			Channel: model.ChannelMention,
			Body:    post.Text,
			Payload: post.Payload.Clone(),
		})
	}
	return plan, nil
}

// SearchDeliveries computes the search notifications for a queued post.
// Recipients are sorted by username.
func (r *Router) SearchDeliveries(ctx context.Context, job search.Job) ([]model.Delivery, error) {
	post := job.Post
	author := model.NormalizeUsername(post.Author)

	excluded := map[string]struct{}{author: {}}
	for _, username := range r.followers.Followers(author) {
		excluded[username] = struct{}{}
	}
	if r.opts.DedupAcrossChannels {
		for _, username := range job.Mentioned {
			excluded[model.NormalizeUsername(username)] = struct{}{}
		}
	}

	phrases := make(map[string][]string)
	for _, b := range r.index.Match(post.Text) {
		for _, username := range b.Usernames {
			if _, skip := excluded[username]; skip {
				continue
			}
			phrases[username] = append(phrases[username], b.Phrase)
		}
	}

	recipients := make([]string, 0, len(phrases))
	for username := range phrases {
		recipients = append(recipients, username)
	}
	sort.Strings(recipients)

	body := fmt.Sprintf("Search: @%s says \"%s\"", author, post.Text)
	deliveries := make([]model.Delivery, 0, len(recipients))
	for _, username := range recipients {
		user, ok, err := r.resolve(ctx, username)
		if err != nil {
			log.Printf("[fanout] skipping search recipient %s: %v", username, err)
			continue
		}
		if !ok {
			log.Printf("[fanout] search recipient %s not found", username)
			continue
		}

		terms := phrases[username]
		sort.Strings(terms)
		payload := post.Payload.Clone()
		for _, term := range terms {
			payload = payload.With(model.NodeSearchTerm, term)
		}

		deliveries = append(deliveries, model.Delivery{
			To:      user,
			From:    author,
			Channel: model.ChannelSearch,
			Body:    body,
			Payload: payload,
		})
	}
	return deliveries, nil
}
