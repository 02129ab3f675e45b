package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/herdwatch/internal/alert"
	"github.com/lalithlochan/herdwatch/internal/metrics"
)

// ErrNoSender is returned when no sender accepts a delivery.
var ErrNoSender = errors.New("no sender for channel")

// Delivery is one message bound for one channel. Exactly one of
// NotificationID and DigestID is set.
type Delivery struct {
	ID             uuid.UUID
	Owner          string
	Channel        alert.Channel
	Address        string
	Subject        string
	Body           string
	Severity       alert.Severity
	NotificationID *uuid.UUID
	DigestID       *uuid.UUID
	Attempt        int
}

// Result is the outcome of handing a delivery to a sender. Queued means the
// delivery was accepted by the hand-off queue and will complete later.
type Result struct {
	Channel   alert.Channel
	Delivered bool
	Queued    bool
	Err       error
}

// Sender transmits deliveries for the channels it supports.
type Sender interface {
	Send(ctx context.Context, d *Delivery) error
	Supports(d *Delivery) bool
}

// deferred is implemented by senders that enqueue instead of transmitting.
type deferred interface {
	Deferred() bool
}

// Dispatcher routes a delivery to the first sender that supports it.
type Dispatcher struct {
	senders []Sender
	logger  *zap.Logger
}

// NewDispatcher creates a router over the given senders, tried in order.
func NewDispatcher(logger *zap.Logger, senders ...Sender) *Dispatcher {
	return &Dispatcher{
		senders: senders,
		logger:  logger,
	}
}

// Deliver sends d and reports the outcome. It never panics on a missing
// sender; the error is returned in the Result.
func (m *Dispatcher) Deliver(ctx context.Context, d Delivery) Result {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}

	sender := m.route(&d)
	if sender == nil {
		return Result{Channel: d.Channel, Err: fmt.Errorf("%w: %s", ErrNoSender, d.Channel)}
	}

	start := time.Now()
	err := sender.Send(ctx, &d)
	queued := false
	if q, ok := sender.(deferred); ok {
		queued = q.Deferred()
	}

	status := "delivered"
	switch {
	case err != nil:
		status = "failed"
	case queued:
		status = "queued"
	}
	metrics.RecordDelivery(string(d.Channel), status, time.Since(start))

	if err != nil {
		m.logger.Warn("delivery failed",
			zap.String("delivery_id", d.ID.String()),
			zap.String("owner", d.Owner),
			zap.String("channel", string(d.Channel)),
			zap.Error(err),
		)
		return Result{Channel: d.Channel, Err: err}
	}

	return Result{Channel: d.Channel, Delivered: !queued, Queued: queued}
}

// Send makes the dispatcher usable as a Sender.
func (m *Dispatcher) Send(ctx context.Context, d *Delivery) error {
	return m.Deliver(ctx, *d).Err
}

// Supports reports whether any sender accepts d.
func (m *Dispatcher) Supports(d *Delivery) bool {
	return m.route(d) != nil
}

func (m *Dispatcher) route(d *Delivery) Sender {
	for _, sender := range m.senders {
		if sender.Supports(d) {
			m.logger.Debug("routing delivery to sender",
				zap.String("channel", string(d.Channel)),
				zap.String("delivery_id", d.ID.String()),
			)
			return sender
		}
	}
	return nil
}
