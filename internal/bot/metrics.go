package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"microblog_bot/internal/delivery"
	"microblog_bot/internal/util"
)

type metricsLogEntry struct {
	Timestamp    string `json:"timestamp"`
	Level        string `json:"level"`
	Msg          string `json:"msg"`
	BotUsername  string `json:"bot_username"`
	UsersCount   int    `json:"users_count"`
	FollowsCount int    `json:"follows_count"`
	PhrasesCount int    `json:"search_phrases_count"`
	WatchesCount int    `json:"search_watches_count"`
	QueueDepth   int    `json:"queue_depth"`
}

type counterLogEntry struct {
	Timestamp   string `json:"timestamp"`
	Level       string `json:"level"`
	Msg         string `json:"msg"`
	BotUsername string `json:"bot_username"`
	Counter     string `json:"counter"`
	Count       int    `json:"count"`
}

// Stats is a point-in-time view of the relay
type Stats struct {
	Users      int
	Follows    int
	Phrases    int
	Watches    int
	QueueDepth int
}

// Stats collects the current relay sizes
func (b *Bot) Stats(ctx context.Context) (Stats, error) {
	users, err := b.directory.ListUsers(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list users: %w", err)
	}
	phrases, watches := b.search.Index().Stats()
	return Stats{
		Users:      len(users),
		Follows:    b.graph.Edges(),
		Phrases:    phrases,
		Watches:    watches,
		QueueDepth: b.worker.Pending(),
	}, nil
}

// Counters sums every counter still retained by the in-memory sink, keyed by
// flattened name, e.g. "microblog.delivery.count;channel=search"
func (b *Bot) Counters() map[string]int {
	totals := make(map[string]int)
	for _, interval := range b.inmem.Data() {
		for key, v := range interval.Counters {
			if v.AggregateSample != nil {
				totals[key] += int(v.Sum)
			}
		}
	}
	return totals
}

func (b *Bot) startMetricsLogger(ctx context.Context) {
	interval := time.Duration(b.config.MetricsLogIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// 初回ログ出力
	if err := b.collectAndLogMetrics(ctx); err != nil {
		log.Printf("メトリクスログ出力失敗: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.collectAndLogMetrics(ctx); err != nil {
				log.Printf("メトリクスログ出力失敗: %v", err)
			}
		}
	}
}

func (b *Bot) collectAndLogMetrics(ctx context.Context) error {
	stats, err := b.Stats(ctx)
	if err != nil {
		return err
	}
	b.sink.SetGauge(delivery.MetricQueueDepth, float32(stats.QueueDepth))

	f, err := os.OpenFile(util.DataFilePath(b.config.MetricsLogFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open metrics log file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	timestamp := time.Now().Format(time.RFC3339)
	enc := json.NewEncoder(f)

	entry := metricsLogEntry{
		Timestamp:    timestamp,
		Level:        "info",
		Msg:          "metrics",
		BotUsername:  b.config.BotUsername,
		UsersCount:   stats.Users,
		FollowsCount: stats.Follows,
		PhrasesCount: stats.Phrases,
		WatchesCount: stats.Watches,
		QueueDepth:   stats.QueueDepth,
	}
	if err := enc.Encode(entry); err != nil {
		return fmt.Errorf("failed to write summary log: %w", err)
	}

	return writeCounters(enc, timestamp, b.config.BotUsername, b.Counters())
}

func writeCounters(enc *json.Encoder, timestamp, botUsername string, counters map[string]int) error {
	keys := make([]string, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		l := counterLogEntry{
			Timestamp:   timestamp,
			Level:       "info",
			Msg:         "counter",
			BotUsername: botUsername,
			Counter:     k,
			Count:       counters[k],
		}
		if err := enc.Encode(l); err != nil {
			return fmt.Errorf("failed to encode counter %s: %w", k, err)
		}
	}
	return nil
}
