package bot

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsShutdownTimeout = 5 * time.Second

// MetricsHandler serves the relay counters in Prometheus text format. It is
// nil unless METRICS_ADDR is configured.
func (b *Bot) MetricsHandler() http.Handler {
	if b.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{})
}

func (b *Bot) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", b.MetricsHandler())

	srv := &http.Server{
		Addr:              b.config.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[metrics] shutdown error: %v", err)
		}
	}()

	log.Printf("[metrics] listening on %s", b.config.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("[metrics] server error: %v", err)
	}
}
