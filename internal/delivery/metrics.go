package delivery

import (
	"context"

	"github.com/hashicorp/go-metrics"

	"microblog_bot/internal/model"
)

var (
	MetricDeliveredCount     = []string{"microblog", "delivery", "count"}
	MetricDeliveryErrorCount = []string{"microblog", "delivery", "error", "count"}
	MetricPostCount          = []string{"microblog", "post", "count"}
	MetricPostRejectedCount  = []string{"microblog", "post", "rejected", "count"}
	MetricWorkerEventCount   = []string{"microblog", "worker", "event", "count"}
	MetricWorkerErrorCount   = []string{"microblog", "worker", "error", "count"}
	MetricQueueDepth         = []string{"microblog", "worker", "queue", "depth"}
)

// LabelChannel tags a counter with the delivery channel
const LabelChannel = "channel"

func ChannelLabel(c model.Channel) metrics.Label {
	return metrics.Label{Name: LabelChannel, Value: string(c)}
}

// Counting wraps a Deliverer and counts outcomes per channel
type Counting struct {
	next  Deliverer
	msink metrics.MetricSink
}

// NewCounting wraps next. A nil sink falls back to the global metrics instance.
func NewCounting(next Deliverer, sink metrics.MetricSink) *Counting {
	if sink == nil {
		sink = metrics.Default()
	}
	return &Counting{next: next, msink: sink}
}

func (c *Counting) Deliver(ctx context.Context, d model.Delivery) error {
	labels := []metrics.Label{ChannelLabel(d.Channel)}
	if err := c.next.Deliver(ctx, d); err != nil {
		c.msink.IncrCounterWithLabels(MetricDeliveryErrorCount, 1, labels)
		return err
	}
	c.msink.IncrCounterWithLabels(MetricDeliveredCount, 1, labels)
	return nil
}
