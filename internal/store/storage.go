package store

import (
	"context"
	"errors"

	"microblog_bot/internal/model"
)

var (
	// ErrNotFound is returned when a user, edge or term does not exist
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a uniqueness constraint would be violated
	ErrDuplicate = errors.New("store: duplicate")
)

// Directory defines the persistence backend for users, the follow graph,
// search term subscriptions and posted messages
type Directory interface {
	// AddUser registers a user. Username and handle must both be unique.
	AddUser(ctx context.Context, user model.User) error

	// GetUser returns the user by username (case-insensitive)
	GetUser(ctx context.Context, username string) (model.User, error)

	// GetUserByHandle returns the user owning a transport handle
	GetUserByHandle(ctx context.Context, handle string) (model.User, error)

	// ListUsers returns all users ordered by username
	ListUsers(ctx context.Context) ([]model.User, error)

	// AddFollow stores the edge subscriber -> target
	AddFollow(ctx context.Context, subscriber, target string) error

	// RemoveFollow deletes the edge, ErrNotFound if absent
	RemoveFollow(ctx context.Context, subscriber, target string) error

	// ListFollows returns every edge (for graph rebuild)
	ListFollows(ctx context.Context) ([]model.Follow, error)

	// AddSearchTerm persists a watch, ErrDuplicate if the pair exists
	AddSearchTerm(ctx context.Context, term model.SearchTerm) error

	// DeleteSearchTerm removes a watch, ErrNotFound if absent
	DeleteSearchTerm(ctx context.Context, term, username string) error

	// ListSearchTerms returns a user's watches in registration order
	ListSearchTerms(ctx context.Context, username string) ([]model.SearchTerm, error)

	// ListAllSearchTerms returns every watch in registration order
	ListAllSearchTerms(ctx context.Context) ([]model.SearchTerm, error)

	// SavePost records a posted message
	SavePost(ctx context.Context, post model.Post) error

	// Close cleans up resources
	Close() error
}
