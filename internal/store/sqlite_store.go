package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"microblog_bot/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	username     TEXT PRIMARY KEY,
	handle       TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS follows (
	subscriber TEXT NOT NULL REFERENCES users(username),
	target     TEXT NOT NULL REFERENCES users(username),
	created_at INTEGER NOT NULL,
	PRIMARY KEY (subscriber, target)
);
CREATE TABLE IF NOT EXISTS search_terms (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	term       TEXT NOT NULL,
	username   TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE (term, username)
);
CREATE TABLE IF NOT EXISTS posts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	author     TEXT NOT NULL,
	text       TEXT NOT NULL,
	payload    TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);`

// SQLiteStore implements Directory on a SQLite database file
type SQLiteStore struct {
	db       *sql.DB
	maxPosts int
}

// NewSQLiteStore opens (or creates) the database at path and applies the schema
func NewSQLiteStore(path string, maxPosts int) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if maxPosts <= 0 {
		maxPosts = DefaultMaxPosts
	}

	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer keeps the uniqueness checks below race free
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db, maxPosts: maxPosts}, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func (s *SQLiteStore) AddUser(ctx context.Context, user model.User) error {
	user.Username = model.NormalizeUsername(user.Username)
	if user.Username == "" || user.Handle == "" {
		return fmt.Errorf("user requires username and handle")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, handle, display_name, created_at) VALUES (?, ?, ?, ?)`,
		user.Username, user.Handle, user.DisplayName, user.CreatedAt.UnixMicro())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s (%s): %w", user.Username, user.Handle, ErrDuplicate)
		}
		return fmt.Errorf("failed to add user: %w", err)
	}
	return nil
}

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var (
		u       model.User
		created int64
	)
	if err := row.Scan(&u.Username, &u.Handle, &u.DisplayName, &created); err != nil {
		return model.User{}, err
	}
	u.CreatedAt = time.UnixMicro(created)
	return u, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, username string) (model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT username, handle, display_name, created_at FROM users WHERE username = ?`,
		model.NormalizeUsername(username))
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) GetUserByHandle(ctx context.Context, handle string) (model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT username, handle, display_name, created_at FROM users WHERE handle = ?`, handle)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("handle %s: %w", handle, ErrNotFound)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("failed to get user by handle: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, handle, display_name, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) userExists(ctx context.Context, username string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE username = ?`, username).Scan(&n)
	return n > 0, err
}

func (s *SQLiteStore) AddFollow(ctx context.Context, subscriber, target string) error {
	subscriber = model.NormalizeUsername(subscriber)
	target = model.NormalizeUsername(target)

	for _, name := range []string{subscriber, target} {
		exists, err := s.userExists(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to check user %s: %w", name, err)
		}
		if !exists {
			return fmt.Errorf("user %s: %w", name, ErrNotFound)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO follows (subscriber, target, created_at) VALUES (?, ?, ?)`,
		subscriber, target, time.Now().UnixMicro())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("follow %s -> %s: %w", subscriber, target, ErrDuplicate)
		}
		return fmt.Errorf("failed to add follow: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveFollow(ctx context.Context, subscriber, target string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM follows WHERE subscriber = ? AND target = ?`,
		model.NormalizeUsername(subscriber), model.NormalizeUsername(target))
	if err != nil {
		return fmt.Errorf("failed to delete follow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("follow %s -> %s: %w", subscriber, target, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListFollows(ctx context.Context) ([]model.Follow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subscriber, target, created_at FROM follows ORDER BY created_at, subscriber, target`)
	if err != nil {
		return nil, fmt.Errorf("failed to list follows: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var follows []model.Follow
	for rows.Next() {
		var (
			f       model.Follow
			created int64
		)
		if err := rows.Scan(&f.Subscriber, &f.Target, &created); err != nil {
			return nil, fmt.Errorf("failed to scan follow: %w", err)
		}
		f.CreatedAt = time.UnixMicro(created)
		follows = append(follows, f)
	}
	return follows, rows.Err()
}

func (s *SQLiteStore) AddSearchTerm(ctx context.Context, term model.SearchTerm) error {
	term.Username = model.NormalizeUsername(term.Username)
	if term.CreatedAt.IsZero() {
		term.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_terms (term, username, created_at) VALUES (?, ?, ?)`,
		term.Term, term.Username, term.CreatedAt.UnixMicro())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("search term %q for %s: %w", term.Term, term.Username, ErrDuplicate)
		}
		return fmt.Errorf("failed to add search term: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSearchTerm(ctx context.Context, term, username string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM search_terms WHERE term = ? AND username = ?`,
		term, model.NormalizeUsername(username))
	if err != nil {
		return fmt.Errorf("failed to delete search term: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("search term %q for %s: %w", term, username, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) querySearchTerms(ctx context.Context, query string, args ...any) ([]model.SearchTerm, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list search terms: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var terms []model.SearchTerm
	for rows.Next() {
		var (
			t       model.SearchTerm
			created int64
		)
		if err := rows.Scan(&t.Term, &t.Username, &created); err != nil {
			return nil, fmt.Errorf("failed to scan search term: %w", err)
		}
		t.CreatedAt = time.UnixMicro(created)
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

func (s *SQLiteStore) ListSearchTerms(ctx context.Context, username string) ([]model.SearchTerm, error) {
	return s.querySearchTerms(ctx,
		`SELECT term, username, created_at FROM search_terms WHERE username = ? ORDER BY id`,
		model.NormalizeUsername(username))
}

func (s *SQLiteStore) ListAllSearchTerms(ctx context.Context) ([]model.SearchTerm, error) {
	return s.querySearchTerms(ctx, `SELECT term, username, created_at FROM search_terms ORDER BY id`)
}

// SavePost records a post and drops everything older than the newest maxPosts
func (s *SQLiteStore) SavePost(ctx context.Context, post model.Post) error {
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now()
	}
	payload, err := json.Marshal(post.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO posts (author, text, payload, created_at) VALUES (?, ?, ?, ?)`,
		model.NormalizeUsername(post.Author), post.Text, string(payload), post.CreatedAt.UnixMicro()); err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM posts WHERE id NOT IN (SELECT id FROM posts ORDER BY id DESC LIMIT ?)`,
		s.maxPosts); err != nil {
		return fmt.Errorf("failed to trim posts: %w", err)
	}
	return tx.Commit()
}

// RecentPosts returns up to limit of the newest posts, newest first
func (s *SQLiteStore) RecentPosts(ctx context.Context, limit int) ([]model.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT author, text, payload, created_at FROM posts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get posts: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var posts []model.Post
	for rows.Next() {
		var (
			p       model.Post
			payload string
			created int64
		)
		if err := rows.Scan(&p.Author, &p.Text, &payload, &created); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &p.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}
		p.CreatedAt = time.UnixMicro(created)
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
