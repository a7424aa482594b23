// Package search owns the live keyword watches: the in-memory term index,
// the watch service that keeps it in step with the directory, and the
// serialized worker that matches posts against it.
package search

import (
	"errors"
	"strings"
	"sync"

	"microblog_bot/internal/model"
)

// DefaultMaxNeighbours caps the "also watching" list returned by Subscribe
const DefaultMaxNeighbours = 20

// ErrEmptyPhrase is returned for phrases without any token
var ErrEmptyPhrase = errors.New("search: empty phrase")

type SubscribeStatus int

const (
	Subscribed SubscribeStatus = iota
	AlreadySubscribed
)

func (s SubscribeStatus) String() string {
	switch s {
	case Subscribed:
		return "subscribed"
	case AlreadySubscribed:
		return "already_subscribed"
	default:
		return "unknown"
	}
}

type SubscribeResult struct {
	Status SubscribeStatus
	// Neighbours are users already watching the phrase, in insertion order
	Neighbours []string
	// More is set when the bucket held more watchers than were returned
	More bool
}

// Bucket is a copy of one index entry
type Bucket struct {
	Phrase    string
	Tokens    []string
	Usernames []string
}

type bucket struct {
	tokens    []string
	usernames []string
	members   map[string]struct{}
}

// Index maps normalized phrases to their tokens and watching users.
// Buckets are created lazily and never freed.
type Index struct {
	mu            sync.RWMutex
	buckets       map[string]*bucket
	maxNeighbours int
}

// NewIndex creates an empty index. maxNeighbours <= 0 uses the default.
func NewIndex(maxNeighbours int) *Index {
	if maxNeighbours <= 0 {
		maxNeighbours = DefaultMaxNeighbours
	}
	return &Index{
		buckets:       make(map[string]*bucket),
		maxNeighbours: maxNeighbours,
	}
}

// Normalize lowercases a phrase and collapses whitespace. The result is the
// bucket key and the value persisted as the search term.
func Normalize(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}

// Tokenize returns the distinct tokens of a normalized phrase in order
func Tokenize(normalized string) []string {
	seen := make(map[string]struct{})
	var tokens []string
	for _, word := range strings.Fields(normalized) {
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		tokens = append(tokens, word)
	}
	return tokens
}

// getOrCreate must be called with mu held for writing
func (idx *Index) getOrCreate(key string) *bucket {
	b, ok := idx.buckets[key]
	if !ok {
		b = &bucket{
			tokens:  Tokenize(key),
			members: make(map[string]struct{}),
		}
		idx.buckets[key] = b
	}
	return b
}

// Subscribe adds username to the phrase's bucket
func (idx *Index) Subscribe(phrase, username string) (SubscribeResult, error) {
	key := Normalize(phrase)
	if key == "" {
		return SubscribeResult{}, ErrEmptyPhrase
	}
	username = model.NormalizeUsername(username)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	b := idx.getOrCreate(key)
	if _, exists := b.members[username]; exists {
		return SubscribeResult{Status: AlreadySubscribed}, nil
	}

	n := len(b.usernames)
	if n > idx.maxNeighbours {
		n = idx.maxNeighbours
	}
	result := SubscribeResult{
		Status:     Subscribed,
		Neighbours: append([]string(nil), b.usernames[:n]...),
		More:       len(b.usernames) > idx.maxNeighbours,
	}

	b.members[username] = struct{}{}
	b.usernames = append(b.usernames, username)
	return result, nil
}

// Unsubscribe removes username from the phrase's bucket if present
func (idx *Index) Unsubscribe(phrase, username string) {
	key := Normalize(phrase)
	username = model.NormalizeUsername(username)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	b, ok := idx.buckets[key]
	if !ok {
		return
	}
	if _, exists := b.members[username]; !exists {
		return
	}
	delete(b.members, username)
	for i, u := range b.usernames {
		if u == username {
			b.usernames = append(b.usernames[:i], b.usernames[i+1:]...)
			break
		}
	}
}

// Match returns every bucket whose tokens all occur as substrings of the
// lowercased text. Order is unspecified.
func (idx *Index) Match(text string) []Bucket {
	text = strings.ToLower(text)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var matched []Bucket
	for phrase, b := range idx.buckets {
		if len(b.usernames) == 0 || len(b.tokens) == 0 {
			continue
		}
		if !containsAll(text, b.tokens) {
			continue
		}
		matched = append(matched, Bucket{
			Phrase:    phrase,
			Tokens:    append([]string(nil), b.tokens...),
			Usernames: append([]string(nil), b.usernames...),
		})
	}
	return matched
}

func containsAll(text string, tokens []string) bool {
	for _, token := range tokens {
		if !strings.Contains(text, token) {
			return false
		}
	}
	return true
}

// Load replaces the index contents with the persisted watches
func (idx *Index) Load(terms []model.SearchTerm) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.buckets = make(map[string]*bucket)
	loaded := 0
	for _, t := range terms {
		key := Normalize(t.Term)
		if key == "" {
			continue
		}
		b := idx.getOrCreate(key)
		username := model.NormalizeUsername(t.Username)
		if _, exists := b.members[username]; exists {
			continue
		}
		b.members[username] = struct{}{}
		b.usernames = append(b.usernames, username)
		loaded++
	}
	return loaded
}

// Watchers returns a copy of the users watching phrase
func (idx *Index) Watchers(phrase string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	b, ok := idx.buckets[Normalize(phrase)]
	if !ok {
		return nil
	}
	return append([]string(nil), b.usernames...)
}

// Stats returns the number of buckets and of (phrase, user) watches
func (idx *Index) Stats() (phrases int, watches int) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for _, b := range idx.buckets {
		phrases++
		watches += len(b.usernames)
	}
	return phrases, watches
}
