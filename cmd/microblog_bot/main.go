package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"microblog_bot/internal/bot"
	"microblog_bot/internal/config"
	"microblog_bot/internal/delivery"
	"microblog_bot/internal/mastodon"
	"microblog_bot/internal/slack"
	"microblog_bot/internal/store"
	"microblog_bot/internal/util"
)

func main() {
	envFile := flag.String("env", "", "Path to .env file (default: .env)")
	dryRun := flag.Bool("dry-run", false, "Log deliveries instead of posting them")
	flag.Parse()

	if err := config.LoadEnvironment(*envFile); err != nil {
		log.Printf("%v (環境変数のみで起動します)", err)
	}
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("設定エラー:\n%v", err)
	}

	// シグナルハンドリング（SIGINT, SIGTERM）
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	directory, err := openDirectory(cfg)
	if err != nil {
		log.Fatalf("ストレージ初期化失敗: %v", err)
	}
	defer func() {
		if err := directory.Close(); err != nil {
			log.Printf("ストレージのクローズに失敗: %v", err)
		}
	}()

	client := mastodon.NewClient(mastodon.Config{
		Server:           cfg.MastodonServer,
		AccessToken:      cfg.MastodonAccessToken,
		BotUsername:      cfg.BotUsername,
		AllowRemoteUsers: cfg.AllowRemoteUsers,
		MaxStatusChars:   cfg.MaxStatusChars,
	})
	if _, err := client.VerifyAccount(ctx); err != nil {
		log.Fatalf("Mastodonアカウントの確認に失敗: %v", err)
	}

	slackClient := slack.NewClient(cfg.SlackBotToken, cfg.SlackChannelID, cfg.SlackErrorChannelID)
	blocklist := config.InitializeLinkBlocklist(ctx, cfg.LinkBlocklist)

	var deliverer delivery.Deliverer = client
	if *dryRun {
		log.Println("ドライランモード: 配信はログ出力のみ")
		deliverer = delivery.LogDeliverer{}
	}

	b := bot.New(cfg, directory, deliverer, blocklist, slackClient)

	log.Println("Botを開始します...")
	if err := b.Run(ctx, client); err != nil && err != context.Canceled {
		log.Printf("Bot停止エラー: %v", err)
	}
	log.Println("Botを停止しました (Shutdown signal received)")
}

func openDirectory(cfg *config.Config) (store.Directory, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendMemory:
		return store.NewMemoryStore(cfg.MaxStoredPosts), nil
	case config.StorageBackendFile:
		return store.NewFileStore(util.DataFilePath(cfg.StorageFile), cfg.MaxStoredPosts)
	case config.StorageBackendSQLite:
		return store.NewSQLiteStore(util.DataFilePath(cfg.SQLiteFile), cfg.MaxStoredPosts)
	case config.StorageBackendRedis:
		return store.NewRedisStore(cfg.RedisURL, cfg.RedisPrefix, cfg.MaxStoredPosts)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}
