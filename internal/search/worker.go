package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/hashicorp/go-metrics"

	"microblog_bot/internal/delivery"
	"microblog_bot/internal/model"
)

// ErrWorkerStopped is returned by Enqueue after Stop
var ErrWorkerStopped = errors.New("search: worker stopped")

// Router computes the search-channel deliveries for a job
type Router interface {
	SearchDeliveries(ctx context.Context, job Job) ([]model.Delivery, error)
}

// Alerter receives per-event failures, e.g. an operator chat channel
type Alerter interface {
	PostErrorMessage(ctx context.Context, message string) error
}

// Worker drains the match queue one job at a time
type Worker struct {
	service   *Service
	router    Router
	deliverer delivery.Deliverer
	alerter   Alerter
	msink     metrics.MetricSink

	queue     *queue
	startOnce sync.Once
	done      chan struct{}
}

func NewWorker(service *Service, router Router, deliverer delivery.Deliverer) *Worker {
	return &Worker{
		service:   service,
		router:    router,
		deliverer: deliverer,
		msink:     metrics.Default(),
		queue:     newQueue(),
		done:      make(chan struct{}),
	}
}

// SetAlerter registers an optional failure sink
func (w *Worker) SetAlerter(a Alerter) {
	w.alerter = a
}

// SetMetricSink replaces the global metrics instance
func (w *Worker) SetMetricSink(sink metrics.MetricSink) {
	w.msink = sink
}

// Start reloads the index from the directory and spawns the loop. Jobs
// enqueued before Start wait in the queue until the reload is done. The loop
// keeps ctx's values but not its cancellation: only Stop ends it, so jobs
// queued before Stop are still delivered during shutdown.
func (w *Worker) Start(ctx context.Context) error {
	var err error
	w.startOnce.Do(func() {
		log.Println("[search] loading search terms")
		if err = w.service.Reload(ctx); err != nil {
			return
		}
		go w.loop(context.WithoutCancel(ctx))
	})
	return err
}

// Enqueue queues a post for matching
func (w *Worker) Enqueue(job Job) error {
	if !w.queue.push(job) {
		return ErrWorkerStopped
	}
	return nil
}

// Stop queues the stop sentinel. Jobs queued before it are still processed.
func (w *Worker) Stop() {
	log.Println("[search] trying to stop search worker")
	w.queue.stop()
}

// Done is closed when the loop has exited
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Pending returns the number of queued items
func (w *Worker) Pending() int {
	return w.queue.len()
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	log.Println("[search] starting search worker")

	for {
		it := w.queue.pop()
		if it.kind == itemStop {
			log.Println("[search] stopping search worker")
			return
		}

		w.msink.IncrCounter(delivery.MetricWorkerEventCount, 1)
		if err := w.process(ctx, it.job); err != nil {
			w.msink.IncrCounter(delivery.MetricWorkerErrorCount, 1)
			log.Printf("[search] error processing post by @%s %q: %v", it.job.Post.Author, it.job.Post.Text, err)
			w.alert(ctx, it.job, err)
		}
	}
}

// process matches one job; a panic is turned into an error so the loop survives
func (w *Worker) process(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	deliveries, err := w.router.SearchDeliveries(ctx, job)
	if err != nil {
		return err
	}

	sent := delivery.DeliverAll(ctx, w.deliverer, deliveries)
	log.Printf("[search] post by @%s was received by %d recipients", job.Post.Author, sent)
	return nil
}

func (w *Worker) alert(ctx context.Context, job Job, cause error) {
	if w.alerter == nil {
		return
	}
	msg := fmt.Sprintf("search worker failed for post by @%s: %v", job.Post.Author, cause)
	if err := w.alerter.PostErrorMessage(ctx, msg); err != nil {
		log.Printf("[search] alert failed: %v", err)
	}
}
