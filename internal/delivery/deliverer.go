// Package delivery is the outbound side of the relay: anything that can hand
// a model.Delivery to a user.
package delivery

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"microblog_bot/internal/model"
)

// Deliverer sends one delivery to its recipient
type Deliverer interface {
	Deliver(ctx context.Context, d model.Delivery) error
}

// DeliverAll sends every delivery in order. A failure for one recipient is
// logged and does not stop the rest. Returns the number delivered.
func DeliverAll(ctx context.Context, deliverer Deliverer, deliveries []model.Delivery) int {
	sent := 0
	for _, d := range deliveries {
		if err := deliverer.Deliver(ctx, d); err != nil {
			log.Printf("[delivery] %s to @%s failed: %v", d.Channel, d.To.Username, err)
			continue
		}
		sent++
	}
	return sent
}

// Recorder keeps every delivery in memory. Used by tests and dry runs.
type Recorder struct {
	mu         sync.Mutex
	deliveries []model.Delivery
	failFor    map[string]error
}

func NewRecorder() *Recorder {
	return &Recorder{failFor: make(map[string]error)}
}

// FailFor makes deliveries to username return err
func (r *Recorder) FailFor(username string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failFor[model.NormalizeUsername(username)] = err
}

func (r *Recorder) Deliver(_ context.Context, d model.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err, ok := r.failFor[model.NormalizeUsername(d.To.Username)]; ok {
		return err
	}
	d.Payload = d.Payload.Clone()
	r.deliveries = append(r.deliveries, d)
	return nil
}

// Deliveries returns a copy of everything recorded so far
func (r *Recorder) Deliveries() []model.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.Delivery, len(r.deliveries))
	copy(out, r.deliveries)
	return out
}

// To returns the recorded deliveries for one recipient
func (r *Recorder) To(username string) []model.Delivery {
	username = model.NormalizeUsername(username)
	var out []model.Delivery
	for _, d := range r.Deliveries() {
		if d.To.Username == username {
			out = append(out, d)
		}
	}
	return out
}

// Reset drops recorded deliveries
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = nil
}

// LogDeliverer writes deliveries to the process log instead of a network
type LogDeliverer struct{}

func (LogDeliverer) Deliver(_ context.Context, d model.Delivery) error {
	from := d.From
	if from == "" {
		from = "-"
	}
	log.Printf("[delivery] %s %s -> @%s: %s%s", d.Channel, from, d.To.Username, d.Body, formatPayload(d.Payload))
	return nil
}

func formatPayload(p model.Payload) string {
	if len(p) == 0 {
		return ""
	}
	parts := make([]string, 0, len(p))
	for _, n := range p {
		parts = append(parts, n.Name+"="+n.Text)
	}
	return fmt.Sprintf(" [%s]", strings.Join(parts, " "))
}
