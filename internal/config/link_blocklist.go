package config

import (
	"bufio"
	"context"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"mvdan.cc/xurls/v2"

	"microblog_bot/internal/util"
)

// LinkBlocklist holds blocked link domains and reloads them when the backing
// file changes. Patterns are exact hosts, wildcards ("*.example.com"), or a
// domain that also covers its subdomains.
type LinkBlocklist struct {
	mu        sync.RWMutex
	domains   []string
	filePath  string
	watcher   *fsnotify.Watcher
	extractor *regexp.Regexp
}

// NewLinkBlocklist creates a blocklist from a file
func NewLinkBlocklist(filePath string) *LinkBlocklist {
	b := &LinkBlocklist{
		filePath:  filePath,
		domains:   []string{},
		extractor: xurls.Strict(),
	}

	if err := b.reload(); err != nil {
		log.Printf("リンクブロックリスト初期読み込みエラー（空のリストで起動します）: %v", err)
	}

	return b
}

// NewStaticLinkBlocklist creates a blocklist that never reloads
func NewStaticLinkBlocklist(domains []string) *LinkBlocklist {
	return &LinkBlocklist{
		domains:   append([]string{}, domains...),
		extractor: xurls.Strict(),
	}
}

// Get returns a copy of the current domains
func (b *LinkBlocklist) Get() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]string, len(b.domains))
	copy(result, b.domains)
	return result
}

// Blocked returns the first link in text whose host is blocked
func (b *LinkBlocklist) Blocked(text string) (string, bool) {
	links := b.extractor.FindAllString(text, -1)
	if len(links) == 0 {
		return "", false
	}

	domains := b.Get()
	for _, link := range links {
		u, err := url.Parse(link)
		if err != nil {
			continue
		}
		if isBlocked(u.Hostname(), domains) {
			return link, true
		}
	}
	return "", false
}

func isBlocked(host string, domains []string) bool {
	host = strings.ToLower(host)
	if host == "" {
		return false
	}
	for _, pattern := range domains {
		pattern = strings.ToLower(pattern)

		if host == pattern || strings.HasSuffix(host, "."+pattern) {
			return true
		}

		matched, err := filepath.Match(pattern, host)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func (b *LinkBlocklist) reload() error {
	file, err := os.Open(b.filePath)
	if err != nil {
		return err
	}
	defer file.Close() //nolint:errcheck

	var domains []string
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		domains = append(domains, line)
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	b.domains = domains
	b.mu.Unlock()

	log.Printf("リンクブロックリスト再読み込み完了: %d件 (ファイル: %s)", len(domains), b.filePath)
	return nil
}

// StartWatching starts watching the blocklist file for changes
func (b *LinkBlocklist) StartWatching(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	b.watcher = watcher

	if err := watcher.Add(b.filePath); err != nil {
		watcher.Close() //nolint:errcheck
		return err
	}

	go b.watchLoop(ctx)
	log.Printf("リンクブロックリスト監視開始: %s", b.filePath)

	return nil
}

func (b *LinkBlocklist) watchLoop(ctx context.Context) {
	defer b.watcher.Close() //nolint:errcheck

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			b.handleFileEvent(ctx, event)
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("リンクブロックリスト監視エラー: %v", err)
		}
	}
}

func (b *LinkBlocklist) handleFileEvent(ctx context.Context, event fsnotify.Event) {
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
		if err := b.reload(); err != nil {
			log.Printf("リンクブロックリスト再読み込みエラー: %v", err)
		}
		return
	}

	// editors often replace the file instead of writing it
	if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
		go b.attemptRewatch(ctx)
	}
}

func (b *LinkBlocklist) attemptRewatch(ctx context.Context) {
	for range 5 {
		if b.tryAddWatcher() {
			if err := b.reload(); err != nil {
				log.Printf("リンクブロックリスト再読み込みエラー: %v", err)
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (b *LinkBlocklist) tryAddWatcher() bool {
	if _, err := os.Stat(b.filePath); err != nil {
		return false
	}
	return b.watcher.Add(b.filePath) == nil
}

// InitializeLinkBlocklist uses link_blocklist.txt from the data directory when
// it exists and falls back to the LINK_BLOCKLIST setting otherwise
func InitializeLinkBlocklist(ctx context.Context, envDomains []string) *LinkBlocklist {
	path, ok := util.FindFilePath(LinkBlocklistFileName)
	if ok {
		blocklist := NewLinkBlocklist(path)
		if err := blocklist.StartWatching(ctx); err != nil {
			log.Printf("リンクブロックリスト監視開始エラー: %v", err)
		}
		return blocklist
	}

	log.Printf("%sが見つかりません。環境変数LINK_BLOCKLISTを使用します", LinkBlocklistFileName)
	blocklist := NewStaticLinkBlocklist(envDomains)
	log.Printf("リンクブロックリスト読み込み完了: %d件 (環境変数)", len(envDomains))
	return blocklist
}
