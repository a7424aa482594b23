package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"microblog_bot/internal/model"
)

// snapshot is the serializable state shared by MemoryStore and FileStore
type snapshot struct {
	Users       []model.User       `json:"users"`
	Follows     []model.Follow     `json:"follows"`
	SearchTerms []model.SearchTerm `json:"search_terms"`
	Posts       []model.Post       `json:"posts"`
}

// MemoryStore is an in-memory implementation of Directory
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]model.User
	handles  map[string]string
	follows  []model.Follow
	terms    []model.SearchTerm
	posts    []model.Post
	maxPosts int
}

// NewMemoryStore creates a new MemoryStore. maxPosts <= 0 keeps every post.
func NewMemoryStore(maxPosts int) *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]model.User),
		handles:  make(map[string]string),
		maxPosts: maxPosts,
	}
}

func followKey(subscriber, target string) string {
	return subscriber + "\x00" + target
}

// AddUser registers a user
func (s *MemoryStore) AddUser(ctx context.Context, user model.User) error {
	user.Username = model.NormalizeUsername(user.Username)
	if user.Username == "" || user.Handle == "" {
		return fmt.Errorf("user requires username and handle")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return fmt.Errorf("username %s: %w", user.Username, ErrDuplicate)
	}
	if _, exists := s.handles[user.Handle]; exists {
		return fmt.Errorf("handle %s: %w", user.Handle, ErrDuplicate)
	}

	s.users[user.Username] = user
	s.handles[user.Handle] = user.Username
	return nil
}

// GetUser returns the user by username
func (s *MemoryStore) GetUser(ctx context.Context, username string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[model.NormalizeUsername(username)]
	if !ok {
		return model.User{}, fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	return user, nil
}

// GetUserByHandle returns the user owning a handle
func (s *MemoryStore) GetUserByHandle(ctx context.Context, handle string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	username, ok := s.handles[handle]
	if !ok {
		return model.User{}, fmt.Errorf("handle %s: %w", handle, ErrNotFound)
	}
	return s.users[username], nil
}

// ListUsers returns all users ordered by username
func (s *MemoryStore) ListUsers(ctx context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
	return users, nil
}

// AddFollow stores the edge subscriber -> target
func (s *MemoryStore) AddFollow(ctx context.Context, subscriber, target string) error {
	subscriber = model.NormalizeUsername(subscriber)
	target = model.NormalizeUsername(target)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[subscriber]; !ok {
		return fmt.Errorf("user %s: %w", subscriber, ErrNotFound)
	}
	if _, ok := s.users[target]; !ok {
		return fmt.Errorf("user %s: %w", target, ErrNotFound)
	}

	key := followKey(subscriber, target)
	for _, f := range s.follows {
		if followKey(f.Subscriber, f.Target) == key {
			return fmt.Errorf("follow %s -> %s: %w", subscriber, target, ErrDuplicate)
		}
	}

	s.follows = append(s.follows, model.Follow{
		Subscriber: subscriber,
		Target:     target,
		CreatedAt:  time.Now(),
	})
	return nil
}

// RemoveFollow deletes the edge subscriber -> target
func (s *MemoryStore) RemoveFollow(ctx context.Context, subscriber, target string) error {
	subscriber = model.NormalizeUsername(subscriber)
	target = model.NormalizeUsername(target)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, f := range s.follows {
		if f.Subscriber == subscriber && f.Target == target {
			s.follows = append(s.follows[:i], s.follows[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("follow %s -> %s: %w", subscriber, target, ErrNotFound)
}

// ListFollows returns every edge in creation order
func (s *MemoryStore) ListFollows(ctx context.Context) ([]model.Follow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	follows := make([]model.Follow, len(s.follows))
	copy(follows, s.follows)
	return follows, nil
}

// AddSearchTerm persists a watch
func (s *MemoryStore) AddSearchTerm(ctx context.Context, term model.SearchTerm) error {
	term.Username = model.NormalizeUsername(term.Username)
	if term.CreatedAt.IsZero() {
		term.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.terms {
		if t.Term == term.Term && t.Username == term.Username {
			return fmt.Errorf("search term %q for %s: %w", term.Term, term.Username, ErrDuplicate)
		}
	}
	s.terms = append(s.terms, term)
	return nil
}

// DeleteSearchTerm removes a watch
func (s *MemoryStore) DeleteSearchTerm(ctx context.Context, term, username string) error {
	username = model.NormalizeUsername(username)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.terms {
		if t.Term == term && t.Username == username {
			s.terms = append(s.terms[:i], s.terms[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("search term %q for %s: %w", term, username, ErrNotFound)
}

// ListSearchTerms returns a user's watches
func (s *MemoryStore) ListSearchTerms(ctx context.Context, username string) ([]model.SearchTerm, error) {
	username = model.NormalizeUsername(username)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var terms []model.SearchTerm
	for _, t := range s.terms {
		if t.Username == username {
			terms = append(terms, t)
		}
	}
	return terms, nil
}

// ListAllSearchTerms returns every watch
func (s *MemoryStore) ListAllSearchTerms(ctx context.Context) ([]model.SearchTerm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := make([]model.SearchTerm, len(s.terms))
	copy(terms, s.terms)
	return terms, nil
}

// SavePost records a posted message, dropping the oldest beyond maxPosts
func (s *MemoryStore) SavePost(ctx context.Context, post model.Post) error {
	if strings.TrimSpace(post.Author) == "" {
		return fmt.Errorf("post requires an author")
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now()
	}
	post.Payload = post.Payload.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.posts = append(s.posts, post)
	if s.maxPosts > 0 && len(s.posts) > s.maxPosts {
		s.posts = s.posts[len(s.posts)-s.maxPosts:]
	}
	return nil
}

// RecentPosts returns up to limit of the newest posts, newest first
func (s *MemoryStore) RecentPosts(limit int) []model.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var posts []model.Post
	for i := len(s.posts) - 1; i >= 0 && len(posts) < limit; i-- {
		posts = append(posts, s.posts[i])
	}
	return posts
}

func (s *MemoryStore) export() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{
		Users:       make([]model.User, 0, len(s.users)),
		Follows:     append([]model.Follow(nil), s.follows...),
		SearchTerms: append([]model.SearchTerm(nil), s.terms...),
		Posts:       append([]model.Post(nil), s.posts...),
	}
	for _, u := range s.users {
		snap.Users = append(snap.Users, u)
	}
	sort.Slice(snap.Users, func(i, j int) bool {
		return snap.Users[i].Username < snap.Users[j].Username
	})
	return snap
}

func (s *MemoryStore) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = make(map[string]model.User, len(snap.Users))
	s.handles = make(map[string]string, len(snap.Users))
	for _, u := range snap.Users {
		s.users[u.Username] = u
		s.handles[u.Handle] = u.Username
	}
	s.follows = snap.Follows
	s.terms = snap.SearchTerms
	s.posts = snap.Posts
}

// Close no-op
func (s *MemoryStore) Close() error {
	return nil
}
