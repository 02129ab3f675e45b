package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/herdwatch/internal/circuitbreaker"
	"github.com/lalithlochan/herdwatch/internal/metrics"
	"github.com/lalithlochan/herdwatch/internal/sqs"
)

// Queue is the receiving side of the delivery queue.
type Queue interface {
	Receive(ctx context.Context, max int32) ([]sqs.Received, error)
	Delete(ctx context.Context, receiptHandle string) error
	ChangeVisibility(ctx context.Context, receiptHandle string, d time.Duration) error
}

// Requeuer re-sends a failed delivery after a delay.
type Requeuer interface {
	EnqueueDelayed(ctx context.Context, msg sqs.Message, delay time.Duration) (string, error)
}

// OutcomeFunc is called once per delivery when it succeeds or is given up
// on. err is nil on success.
type OutcomeFunc func(ctx context.Context, d Delivery, err error)

type ConsumerConfig struct {
	PollInterval time.Duration
	BatchSize    int32
	MaxRetries   int
	// OpenBackoff is how long a message stays hidden while the provider's
	// breaker is open.
	OpenBackoff time.Duration
}

// Consumer drains the delivery queue and transmits through sender.
type Consumer struct {
	queue     Queue
	requeue   Requeuer
	sender    Sender
	config    ConsumerConfig
	logger    *zap.Logger
	onOutcome OutcomeFunc
}

func NewConsumer(queue Queue, requeue Requeuer, sender Sender, cfg ConsumerConfig, logger *zap.Logger) *Consumer {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.OpenBackoff == 0 {
		cfg.OpenBackoff = 30 * time.Second
	}

	return &Consumer{
		queue:   queue,
		requeue: requeue,
		sender:  sender,
		config:  cfg,
		logger:  logger,
	}
}

// OnOutcome registers the completion hook.
func (c *Consumer) OnOutcome(fn OutcomeFunc) {
	c.onOutcome = fn
}

// Start polls until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("delivery consumer stopping")
			return
		case <-ticker.C:
			c.processBatch(ctx)
		}
	}
}

func (c *Consumer) processBatch(ctx context.Context) {
	batch, err := c.queue.Receive(ctx, c.config.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("failed to receive deliveries", zap.Error(err))
		}
		return
	}
	if len(batch) == 0 {
		return
	}

	metrics.SetSQSMessagesInFlight(len(batch))
	defer metrics.SetSQSMessagesInFlight(0)

	for _, r := range batch {
		c.process(ctx, r)
	}
}

func (c *Consumer) process(ctx context.Context, r sqs.Received) {
	d, err := FromMessage(r.Message)
	if err != nil {
		c.logger.Error("dropping undecodable delivery", zap.Error(err))
		c.delete(ctx, r.ReceiptHandle)
		return
	}

	err = c.sender.Send(ctx, &d)
	if err == nil {
		c.delete(ctx, r.ReceiptHandle)
		c.complete(ctx, d, nil)
		return
	}

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		if verr := c.queue.ChangeVisibility(ctx, r.ReceiptHandle, c.config.OpenBackoff); verr != nil {
			c.logger.Warn("failed to defer delivery", zap.Error(verr))
		}
		return
	}

	attempt := d.Attempt + 1
	c.logger.Error("failed to send delivery",
		zap.String("delivery_id", d.ID.String()),
		zap.String("channel", string(d.Channel)),
		zap.Int("attempt", attempt),
		zap.Error(err),
	)

	if attempt >= c.config.MaxRetries {
		c.logger.Warn("delivery dropped after max retries",
			zap.String("delivery_id", d.ID.String()),
			zap.Int("attempts", attempt),
		)
		c.delete(ctx, r.ReceiptHandle)
		c.complete(ctx, d, err)
		return
	}

	retry := d
	retry.Attempt = attempt
	if _, rerr := c.requeue.EnqueueDelayed(ctx, ToMessage(retry), retryDelay(attempt)); rerr != nil {
		c.logger.Warn("failed to requeue delivery, leaving it for redelivery", zap.Error(rerr))
		return
	}
	c.delete(ctx, r.ReceiptHandle)
}

func (c *Consumer) delete(ctx context.Context, handle string) {
	if err := c.queue.Delete(ctx, handle); err != nil {
		c.logger.Warn("failed to delete delivery message", zap.Error(err))
	}
}

func (c *Consumer) complete(ctx context.Context, d Delivery, err error) {
	if c.onOutcome != nil {
		c.onOutcome(ctx, d, err)
	}
}
