package analytics

import (
	"context"
	"log/slog"

	"github.com/phrasewatch/phrasewatch/pkg/kafka"
)

// Collector buffers scored events in a channel and publishes them to the
// score-events topic off the request path. Tracking never blocks: when the
// buffer is full the event is dropped and counted in the logs.
type Collector struct {
	producer *kafka.Producer
	eventCh  chan any
	logger   *slog.Logger
	done     chan struct{}
}

// NewCollector creates a Collector with the given buffer size.
func NewCollector(producer *kafka.Producer, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		producer: producer,
		eventCh:  make(chan any, bufferSize),
		logger:   slog.Default().With("component", "score-event-collector"),
		done:     make(chan struct{}),
	}
}

// Start launches the publish loop. It returns immediately; the loop drains
// remaining events on ctx cancellation.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, event)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("collector started", "buffer_size", cap(c.eventCh))
}

// Track enqueues an event for publishing.
func (c *Collector) Track(event any) {
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("score event dropped (buffer full)")
	}
}

// Close waits for the publish loop to finish.
func (c *Collector) Close() {
	close(c.eventCh)
	<-c.done
}

func (c *Collector) publish(ctx context.Context, event any) {
	key := "score"
	if se, ok := event.(ScoreEvent); ok {
		key = se.Model
	}
	if err := c.producer.Publish(ctx, kafka.Event{Key: key, Value: event}); err != nil {
		c.logger.Error("failed to publish score event", "error", err)
	}
}

func (c *Collector) drainRemaining() {
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.publish(context.Background(), event)
		default:
			return
		}
	}
}
