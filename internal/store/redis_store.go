package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"microblog_bot/internal/model"

	"github.com/redis/go-redis/v9"
)

const (
	RedisPrefix = "microblog" // default fallback
	UsersKey    = ":users"
	HandlesKey  = ":handles"
	FollowsKey  = ":follows"
	TermsKey    = ":search_terms"
	PostsKey    = ":posts"

	memberSep = "\t"
)

// RedisStore implements Directory using Redis
type RedisStore struct {
	client   *redis.Client
	prefix   string
	maxPosts int
}

// NewRedisStore creates a new RedisStore
func NewRedisStore(url, prefix string, maxPosts int) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	if prefix == "" {
		prefix = RedisPrefix
	}
	if maxPosts <= 0 {
		maxPosts = DefaultMaxPosts
	}

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client:   client,
		prefix:   prefix,
		maxPosts: maxPosts,
	}, nil
}

func pairMember(a, b string) string {
	return a + memberSep + b
}

func splitMember(member string) (string, string, bool) {
	parts := strings.SplitN(member, memberSep, 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func scoreTime(score float64) time.Time {
	return time.UnixMicro(int64(score))
}

// AddUser registers a user
func (s *RedisStore) AddUser(ctx context.Context, user model.User) error {
	user.Username = model.NormalizeUsername(user.Username)
	if user.Username == "" || user.Handle == "" {
		return fmt.Errorf("user requires username and handle")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	added, err := s.client.HSetNX(ctx, s.prefix+UsersKey, user.Username, userJSON).Result()
	if err != nil {
		return fmt.Errorf("failed to add user: %w", err)
	}
	if !added {
		return fmt.Errorf("username %s: %w", user.Username, ErrDuplicate)
	}

	added, err = s.client.HSetNX(ctx, s.prefix+HandlesKey, user.Handle, user.Username).Result()
	if err != nil || !added {
		// roll back the username claim so the pair stays consistent
		s.client.HDel(ctx, s.prefix+UsersKey, user.Username)
		if err != nil {
			return fmt.Errorf("failed to add handle: %w", err)
		}
		return fmt.Errorf("handle %s: %w", user.Handle, ErrDuplicate)
	}
	return nil
}

// GetUser returns the user by username
func (s *RedisStore) GetUser(ctx context.Context, username string) (model.User, error) {
	data, err := s.client.HGet(ctx, s.prefix+UsersKey, model.NormalizeUsername(username)).Result()
	if errors.Is(err, redis.Nil) {
		return model.User{}, fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("failed to get user %s: %w", username, err)
	}

	var user model.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return model.User{}, fmt.Errorf("failed to unmarshal user %s: %w", username, err)
	}
	return user, nil
}

// GetUserByHandle returns the user owning a handle
func (s *RedisStore) GetUserByHandle(ctx context.Context, handle string) (model.User, error) {
	username, err := s.client.HGet(ctx, s.prefix+HandlesKey, handle).Result()
	if errors.Is(err, redis.Nil) {
		return model.User{}, fmt.Errorf("handle %s: %w", handle, ErrNotFound)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("failed to get handle %s: %w", handle, err)
	}
	return s.GetUser(ctx, username)
}

// ListUsers returns all users ordered by username
func (s *RedisStore) ListUsers(ctx context.Context) ([]model.User, error) {
	vals, err := s.client.HVals(ctx, s.prefix+UsersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	users := make([]model.User, 0, len(vals))
	for _, data := range vals {
		var u model.User
		if err := json.Unmarshal([]byte(data), &u); err != nil {
			// Skip corrupted data
			continue
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
	return users, nil
}

// AddFollow stores the edge subscriber -> target
func (s *RedisStore) AddFollow(ctx context.Context, subscriber, target string) error {
	subscriber = model.NormalizeUsername(subscriber)
	target = model.NormalizeUsername(target)

	for _, name := range []string{subscriber, target} {
		exists, err := s.client.HExists(ctx, s.prefix+UsersKey, name).Result()
		if err != nil {
			return fmt.Errorf("failed to check user %s: %w", name, err)
		}
		if !exists {
			return fmt.Errorf("user %s: %w", name, ErrNotFound)
		}
	}

	added, err := s.client.ZAddNX(ctx, s.prefix+FollowsKey, redis.Z{
		Score:  float64(time.Now().UnixMicro()),
		Member: pairMember(subscriber, target),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add follow: %w", err)
	}
	if added == 0 {
		return fmt.Errorf("follow %s -> %s: %w", subscriber, target, ErrDuplicate)
	}
	return nil
}

// RemoveFollow deletes the edge subscriber -> target
func (s *RedisStore) RemoveFollow(ctx context.Context, subscriber, target string) error {
	subscriber = model.NormalizeUsername(subscriber)
	target = model.NormalizeUsername(target)

	removed, err := s.client.ZRem(ctx, s.prefix+FollowsKey, pairMember(subscriber, target)).Result()
	if err != nil {
		return fmt.Errorf("failed to remove follow: %w", err)
	}
	if removed == 0 {
		return fmt.Errorf("follow %s -> %s: %w", subscriber, target, ErrNotFound)
	}
	return nil
}

// ListFollows returns every edge in creation order
func (s *RedisStore) ListFollows(ctx context.Context) ([]model.Follow, error) {
	zs, err := s.client.ZRangeWithScores(ctx, s.prefix+FollowsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list follows: %w", err)
	}

	follows := make([]model.Follow, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		subscriber, target, ok := splitMember(member)
		if !ok {
			continue
		}
		follows = append(follows, model.Follow{
			Subscriber: subscriber,
			Target:     target,
			CreatedAt:  scoreTime(z.Score),
		})
	}
	return follows, nil
}

// AddSearchTerm persists a watch
func (s *RedisStore) AddSearchTerm(ctx context.Context, term model.SearchTerm) error {
	term.Username = model.NormalizeUsername(term.Username)
	if term.CreatedAt.IsZero() {
		term.CreatedAt = time.Now()
	}

	added, err := s.client.ZAddNX(ctx, s.prefix+TermsKey, redis.Z{
		Score:  float64(term.CreatedAt.UnixMicro()),
		Member: pairMember(term.Username, term.Term),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add search term: %w", err)
	}
	if added == 0 {
		return fmt.Errorf("search term %q for %s: %w", term.Term, term.Username, ErrDuplicate)
	}
	return nil
}

// DeleteSearchTerm removes a watch
func (s *RedisStore) DeleteSearchTerm(ctx context.Context, term, username string) error {
	username = model.NormalizeUsername(username)

	removed, err := s.client.ZRem(ctx, s.prefix+TermsKey, pairMember(username, term)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete search term: %w", err)
	}
	if removed == 0 {
		return fmt.Errorf("search term %q for %s: %w", term, username, ErrNotFound)
	}
	return nil
}

// ListSearchTerms returns a user's watches
func (s *RedisStore) ListSearchTerms(ctx context.Context, username string) ([]model.SearchTerm, error) {
	all, err := s.ListAllSearchTerms(ctx)
	if err != nil {
		return nil, err
	}

	username = model.NormalizeUsername(username)
	var terms []model.SearchTerm
	for _, t := range all {
		if t.Username == username {
			terms = append(terms, t)
		}
	}
	return terms, nil
}

// ListAllSearchTerms returns every watch in registration order
func (s *RedisStore) ListAllSearchTerms(ctx context.Context) ([]model.SearchTerm, error) {
	zs, err := s.client.ZRangeWithScores(ctx, s.prefix+TermsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list search terms: %w", err)
	}

	terms := make([]model.SearchTerm, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		username, term, ok := splitMember(member)
		if !ok {
			continue
		}
		terms = append(terms, model.SearchTerm{
			Term:      term,
			Username:  username,
			CreatedAt: scoreTime(z.Score),
		})
	}
	return terms, nil
}

// SavePost records a posted message and trims the list to maxPosts
func (s *RedisStore) SavePost(ctx context.Context, post model.Post) error {
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now()
	}

	postJSON, err := json.Marshal(post)
	if err != nil {
		return fmt.Errorf("failed to marshal post: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.LPush(ctx, s.prefix+PostsKey, postJSON)
	pipe.LTrim(ctx, s.prefix+PostsKey, 0, int64(s.maxPosts-1))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute redis pipeline: %w", err)
	}
	return nil
}

// RecentPosts returns up to limit of the newest posts, newest first
func (s *RedisStore) RecentPosts(ctx context.Context, limit int) ([]model.Post, error) {
	vals, err := s.client.LRange(ctx, s.prefix+PostsKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get posts: %w", err)
	}

	posts := make([]model.Post, 0, len(vals))
	for _, data := range vals {
		var p model.Post
		if err := json.Unmarshal([]byte(data), &p); err == nil {
			posts = append(posts, p)
		}
	}
	return posts, nil
}

// Close cleans up resources
func (s *RedisStore) Close() error {
	return s.client.Close()
}
