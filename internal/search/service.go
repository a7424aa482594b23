package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"microblog_bot/internal/model"
	"microblog_bot/internal/store"
)

// TermStore is the part of the directory the watch service needs
type TermStore interface {
	AddSearchTerm(ctx context.Context, term model.SearchTerm) error
	DeleteSearchTerm(ctx context.Context, term, username string) error
	ListSearchTerms(ctx context.Context, username string) ([]model.SearchTerm, error)
	ListAllSearchTerms(ctx context.Context) ([]model.SearchTerm, error)
}

// Service keeps the index a subset of the persisted watches: rows are
// written before indexing and removed after de-indexing.
type Service struct {
	// mu serializes persist+index against de-index+delete
	mu    sync.Mutex
	index *Index
	terms TermStore
}

func NewService(index *Index, terms TermStore) *Service {
	return &Service{index: index, terms: terms}
}

// Index exposes the underlying index
func (s *Service) Index() *Index {
	return s.index
}

// Watch registers phrase for username
func (s *Service) Watch(ctx context.Context, phrase, username string) (SubscribeResult, error) {
	term := Normalize(phrase)
	if term == "" {
		return SubscribeResult{}, ErrEmptyPhrase
	}
	username = model.NormalizeUsername(username)

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.terms.AddSearchTerm(ctx, model.SearchTerm{
		Term:      term,
		Username:  username,
		CreatedAt: time.Now(),
	})
	if errors.Is(err, store.ErrDuplicate) {
		// the row exists; make sure the index agrees with it
		if _, err := s.index.Subscribe(term, username); err != nil {
			return SubscribeResult{}, err
		}
		return SubscribeResult{Status: AlreadySubscribed}, nil
	}
	if err != nil {
		return SubscribeResult{}, fmt.Errorf("failed to persist search term: %w", err)
	}

	log.Printf("[search] new search term %q for %s", term, username)
	return s.index.Subscribe(term, username)
}

// Unwatch drops phrase for username. Unknown watches are not an error.
func (s *Service) Unwatch(ctx context.Context, phrase, username string) error {
	term := Normalize(phrase)
	username = model.NormalizeUsername(username)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.index.Unsubscribe(term, username)

	err := s.terms.DeleteSearchTerm(ctx, term, username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to delete search term: %w", err)
	}
	log.Printf("[search] removed search term %q for %s", term, username)
	return nil
}

// List returns the phrases username watches in registration order
func (s *Service) List(ctx context.Context, username string) ([]string, error) {
	terms, err := s.terms.ListSearchTerms(ctx, username)
	if err != nil {
		return nil, err
	}
	phrases := make([]string, 0, len(terms))
	for _, t := range terms {
		phrases = append(phrases, t.Term)
	}
	return phrases, nil
}

// Reload rebuilds the index from the persisted watches
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	terms, err := s.terms.ListAllSearchTerms(ctx)
	if err != nil {
		return fmt.Errorf("failed to load search terms: %w", err)
	}
	loaded := s.index.Load(terms)
	log.Printf("[search] %d terms were loaded", loaded)
	return nil
}
