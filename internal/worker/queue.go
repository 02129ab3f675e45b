package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/herdwatch/internal/alert"
	"github.com/lalithlochan/herdwatch/internal/sqs"
)

// Enqueuer hands a message to the delivery queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg sqs.Message) (string, error)
}

// QueueSender defers external deliveries to the SQS queue; a Consumer
// transmits them later. In-app deliveries are never queued.
type QueueSender struct {
	queue  Enqueuer
	logger *zap.Logger
}

func NewQueueSender(queue Enqueuer, logger *zap.Logger) *QueueSender {
	return &QueueSender{queue: queue, logger: logger}
}

func (q *QueueSender) Send(ctx context.Context, d *Delivery) error {
	messageID, err := q.queue.Enqueue(ctx, ToMessage(*d))
	if err != nil {
		return err
	}
	q.logger.Debug("delivery queued",
		zap.String("delivery_id", d.ID.String()),
		zap.String("channel", string(d.Channel)),
		zap.String("message_id", messageID),
	)
	return nil
}

func (q *QueueSender) Supports(d *Delivery) bool {
	return d.Channel != alert.ChannelApp && d.Channel.Valid()
}

func (q *QueueSender) Deferred() bool { return true }

// ToMessage converts a delivery to its queue form.
func ToMessage(d Delivery) sqs.Message {
	msg := sqs.Message{
		DeliveryID: d.ID.String(),
		Owner:      d.Owner,
		Channel:    string(d.Channel),
		Address:    d.Address,
		Subject:    d.Subject,
		Body:       d.Body,
		Severity:   string(d.Severity),
		Attempt:    d.Attempt,
	}
	if d.NotificationID != nil {
		msg.NotificationID = d.NotificationID.String()
	}
	if d.DigestID != nil {
		msg.DigestID = d.DigestID.String()
	}
	return msg
}

// FromMessage converts a queue message back to a delivery.
func FromMessage(msg sqs.Message) (Delivery, error) {
	id, err := uuid.Parse(msg.DeliveryID)
	if err != nil {
		return Delivery{}, fmt.Errorf("invalid delivery id: %w", err)
	}
	d := Delivery{
		ID:       id,
		Owner:    msg.Owner,
		Channel:  alert.Channel(msg.Channel),
		Address:  msg.Address,
		Subject:  msg.Subject,
		Body:     msg.Body,
		Severity: alert.Severity(msg.Severity),
		Attempt:  msg.Attempt,
	}
	if msg.NotificationID != "" {
		nid, err := uuid.Parse(msg.NotificationID)
		if err != nil {
			return Delivery{}, fmt.Errorf("invalid notification id: %w", err)
		}
		d.NotificationID = &nid
	}
	if msg.DigestID != "" {
		did, err := uuid.Parse(msg.DigestID)
		if err != nil {
			return Delivery{}, fmt.Errorf("invalid digest id: %w", err)
		}
		d.DigestID = &did
	}
	return d, nil
}

// retryDelay is the backoff before attempt n+1.
func retryDelay(attempt int) time.Duration {
	delays := []time.Duration{
		1 * time.Minute,
		5 * time.Minute,
		15 * time.Minute,
	}

	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	return delays[idx]
}
