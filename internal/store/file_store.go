package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"microblog_bot/internal/model"

	"github.com/gofrs/flock"
)

// DefaultMaxPosts is the number of posts the file backend keeps
const DefaultMaxPosts = 1000

// FileStore persists a MemoryStore as a JSON file guarded by a file lock
type FileStore struct {
	*MemoryStore
	saveFilePath string
	fileLock     *flock.Flock
}

// NewFileStore loads path if it exists, or starts empty
func NewFileStore(path string, maxPosts int) (*FileStore, error) {
	if maxPosts <= 0 {
		maxPosts = DefaultMaxPosts
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	s := &FileStore{
		MemoryStore:  NewMemoryStore(maxPosts),
		saveFilePath: path,
		fileLock:     flock.New(path + ".lock"),
	}

	if err := s.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		log.Printf("ディレクトリファイルが見つかりません（新規作成します）: %s", path)
	}
	return s, nil
}

func (s *FileStore) load() error {
	ctx, cancel := context.WithTimeout(context.Background(), 1000*time.Millisecond)
	defer cancel()

	locked, err := s.fileLock.TryRLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return fmt.Errorf("failed to acquire file lock for load: %v", err)
	}
	defer s.fileLock.Unlock() //nolint:errcheck

	data, err := os.ReadFile(s.saveFilePath)
	if err != nil {
		return err
	}

	var snap snapshot
	if len(data) > 0 {
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("failed to parse directory file: %w", err)
		}
	}
	s.restore(snap)

	log.Printf("ディレクトリ読み込み成功: ユーザー%d件, フォロー%d件, 検索語%d件 (ファイル: %s)",
		len(snap.Users), len(snap.Follows), len(snap.SearchTerms), s.saveFilePath)
	return nil
}

// Save writes the current state to disk under the file lock
func (s *FileStore) Save() error {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	locked, err := s.fileLock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil || !locked {
		return fmt.Errorf("failed to acquire file lock: %v", err)
	}
	defer s.fileLock.Unlock() //nolint:errcheck

	data, err := json.MarshalIndent(s.export(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal directory: %w", err)
	}
	return s.atomicWriteFile(data)
}

// persist saves after a successful mutation. A failed save is logged and
// retried implicitly by the next mutation.
func (s *FileStore) persist(err error) error {
	if err != nil {
		return err
	}
	if saveErr := s.Save(); saveErr != nil {
		log.Printf("ディレクトリ保存エラー（次回保存時に再試行）: %v", saveErr)
	}
	return nil
}

// atomicWriteFile writes data to a temporary file and renames it over the target
func (s *FileStore) atomicWriteFile(data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(s.saveFilePath), "directory_tmp_*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath) //nolint:errcheck
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		log.Printf("failed to chmod temp file: %v", err)
	}
	if err := os.Rename(tmpPath, s.saveFilePath); err != nil {
		return fmt.Errorf("failed to rename temp file to target: %w", err)
	}
	return nil
}

func (s *FileStore) AddUser(ctx context.Context, user model.User) error {
	return s.persist(s.MemoryStore.AddUser(ctx, user))
}

func (s *FileStore) AddFollow(ctx context.Context, subscriber, target string) error {
	return s.persist(s.MemoryStore.AddFollow(ctx, subscriber, target))
}

func (s *FileStore) RemoveFollow(ctx context.Context, subscriber, target string) error {
	return s.persist(s.MemoryStore.RemoveFollow(ctx, subscriber, target))
}

func (s *FileStore) AddSearchTerm(ctx context.Context, term model.SearchTerm) error {
	return s.persist(s.MemoryStore.AddSearchTerm(ctx, term))
}

func (s *FileStore) DeleteSearchTerm(ctx context.Context, term, username string) error {
	return s.persist(s.MemoryStore.DeleteSearchTerm(ctx, term, username))
}

func (s *FileStore) SavePost(ctx context.Context, post model.Post) error {
	return s.persist(s.MemoryStore.SavePost(ctx, post))
}

// Close flushes the state one last time
func (s *FileStore) Close() error {
	return s.Save()
}
