package bot

import (
	"context"
	"log"
	"time"

	"github.com/hashicorp/go-metrics"
	prommetrics "github.com/hashicorp/go-metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"

	"microblog_bot/internal/command"
	"microblog_bot/internal/config"
	"microblog_bot/internal/delivery"
	"microblog_bot/internal/fanout"
	"microblog_bot/internal/graph"
	"microblog_bot/internal/mastodon"
	"microblog_bot/internal/search"
	"microblog_bot/internal/slack"
	"microblog_bot/internal/store"
)

const (
	// StopTimeout bounds how long Run waits for queued search jobs on shutdown
	StopTimeout = 30 * time.Second

	metricsInterval = time.Minute
)

// Source delivers inbound messages, e.g. the Mastodon user stream
type Source interface {
	StreamMessages(ctx context.Context, handler mastodon.MessageHandler) error
}

type Bot struct {
	config    *config.Config
	directory store.Directory
	deliverer delivery.Deliverer
	blocklist *config.LinkBlocklist
	slack     *slack.Client

	graph    *graph.Graph
	search   *search.Service
	worker   *search.Worker
	router   *fanout.Router
	commands *command.Router

	inmem    *metrics.InmemSink
	sink     metrics.MetricSink
	registry *prometheus.Registry
}

// New wires the relay around directory. Deliveries go through deliverer,
// counted per channel. blocklist and slackClient may be nil.
func New(cfg *config.Config, directory store.Directory, deliverer delivery.Deliverer, blocklist *config.LinkBlocklist, slackClient *slack.Client) *Bot {
	if blocklist == nil {
		blocklist = config.NewStaticLinkBlocklist(cfg.LinkBlocklist)
	}

	retain := time.Duration(cfg.MetricsLogIntervalMinutes) * time.Minute
	if retain < metricsInterval {
		retain = metricsInterval
	}
	inmem := metrics.NewInmemSink(metricsInterval, retain)
	var sink metrics.MetricSink = inmem

	var registry *prometheus.Registry
	if cfg.MetricsAddr != "" {
		registry = prometheus.NewRegistry()
		promSink, err := prommetrics.NewPrometheusSinkFrom(prommetrics.PrometheusOpts{
			Registerer: registry,
			Expiration: retain,
		})
		if err != nil {
			log.Printf("[bot] prometheus sink disabled: %v", err)
			registry = nil
		} else {
			sink = metrics.FanoutSink{inmem, promSink}
		}
	}
	counted := delivery.NewCounting(deliverer, sink)

	index := search.NewIndex(cfg.MaxNeighbours)
	searchService := search.NewService(index, directory)
	g := graph.New(directory, counted)
	router := fanout.NewRouter(directory, g, index, fanout.Options{
		DedupAcrossChannels: cfg.DedupAcrossChannels,
		Debug:               cfg.Debug,
	})

	worker := search.NewWorker(searchService, router, counted)
	worker.SetMetricSink(sink)
	if slackClient != nil && slackClient.Enabled() {
		worker.SetAlerter(slackClient)
	}

	return &Bot{
		config:    cfg,
		directory: directory,
		deliverer: counted,
		blocklist: blocklist,
		slack:     slackClient,
		graph:     g,
		search:    searchService,
		worker:    worker,
		router:    router,
		commands:  command.NewRouter(),
		inmem:     inmem,
		sink:      sink,
		registry:  registry,
	}
}

// Start loads the social graph, starts the search worker and the metrics logger
func (b *Bot) Start(ctx context.Context) error {
	if err := b.graph.Load(ctx); err != nil {
		return err
	}
	if err := b.worker.Start(ctx); err != nil {
		return err
	}
	if b.config.MetricsLogFile != "" {
		go b.startMetricsLogger(ctx)
	}
	if b.registry != nil {
		go b.serveMetrics(ctx)
	}
	return nil
}

// Stop asks the worker to finish queued jobs and waits up to timeout
func (b *Bot) Stop(timeout time.Duration) {
	b.worker.Stop()
	select {
	case <-b.worker.Done():
		log.Println("[bot] search worker stopped")
	case <-time.After(timeout):
		log.Printf("[bot] search worker still has %d pending jobs after %v", b.worker.Pending(), timeout)
	}
}

// Run handles messages from source until ctx is cancelled
func (b *Bot) Run(ctx context.Context, source Source) error {
	b.logStartupInfo()

	if err := b.Start(ctx); err != nil {
		return err
	}
	defer b.Stop(StopTimeout)

	if b.slack != nil {
		b.slack.PostMessageAsync(ctx, "microblog bot @"+b.config.BotUsername+" started")
	}

	err := source.StreamMessages(ctx, func(ctx context.Context, msg mastodon.Message) {
		b.HandleMessage(ctx, msg)
	})
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (b *Bot) logStartupInfo() {
	log.Printf("=== Microblog Bot 設定情報 ===")
	log.Printf("Botユーザー名: @%s", b.config.BotUsername)
	log.Printf("Mastodonサーバー: %s", b.config.MastodonServer)
	log.Printf("リモートユーザー許可: %t", b.config.AllowRemoteUsers)
	log.Printf("ユーザー自動登録: %t", b.config.AutoRegisterUsers)

	log.Printf("=== ストレージ設定 ===")
	log.Printf("バックエンド: %s", b.config.StorageBackend)

	log.Printf("=== 配信設定 ===")
	log.Printf("最大投稿文字数: %d", b.config.MaxPostChars)
	log.Printf("最大ステータス文字数: %d", b.config.MaxStatusChars)
	log.Printf("検索の近傍ユーザー数: %d", b.config.MaxNeighbours)
	log.Printf("チャネル間重複排除: %t", b.config.DedupAcrossChannels)
	log.Printf("ブロック対象リンク: %d件", len(b.blocklist.Get()))
	log.Printf("=== Bot 起動完了 ===")
}
