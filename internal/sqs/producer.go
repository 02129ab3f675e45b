package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// MaxDelay is the longest per-message delay SQS accepts.
const MaxDelay = 15 * time.Minute

// Config holds SQS configuration. Endpoint overrides the AWS endpoint for
// LocalStack.
type Config struct {
	Region   string
	QueueURL string
	Endpoint string
}

// Message is a delivery handed off to the queue.
type Message struct {
	DeliveryID     string `json:"delivery_id"`
	Owner          string `json:"owner"`
	Channel        string `json:"channel"`
	Address        string `json:"address"`
	Subject        string `json:"subject,omitempty"`
	Body           string `json:"body"`
	Severity       string `json:"severity,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
	DigestID       string `json:"digest_id,omitempty"`
	Attempt        int    `json:"attempt"`
	EnqueuedAt     int64  `json:"enqueued_at"`
}

// API is the subset of the SQS client used here.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// NewClient loads the default AWS configuration for the queue region.
func NewClient(ctx context.Context, cfg Config) (API, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Producer sends deliveries to SQS.
type Producer struct {
	client   API
	queueURL string
	logger   *zap.Logger
}

// NewProducer creates a producer over an existing client.
func NewProducer(client API, queueURL string, logger *zap.Logger) *Producer {
	logger.Info("sqs producer initialized", zap.String("queue_url", queueURL))
	return &Producer{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Enqueue sends a delivery for asynchronous processing and returns the
// SQS message id.
func (p *Producer) Enqueue(ctx context.Context, msg Message) (string, error) {
	return p.EnqueueDelayed(ctx, msg, 0)
}

// EnqueueDelayed sends a delivery that becomes visible after delay, capped
// at MaxDelay.
func (p *Producer) EnqueueDelayed(ctx context.Context, msg Message, delay time.Duration) (string, error) {
	if delay > MaxDelay {
		delay = MaxDelay
	}
	msg.EnqueuedAt = time.Now().UnixNano()

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(p.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: int32(delay / time.Second),
	}

	result, err := p.client.SendMessage(ctx, input)
	if err != nil {
		p.logger.Error("failed to send message to sqs",
			zap.Error(err),
			zap.String("delivery_id", msg.DeliveryID),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}

// Received is a message pulled off the queue.
type Received struct {
	Message       Message
	ReceiptHandle string
}

// Consumer reads deliveries from SQS.
type Consumer struct {
	client   API
	queueURL string
	logger   *zap.Logger
}

// NewConsumer creates a consumer over an existing client.
func NewConsumer(client API, queueURL string, logger *zap.Logger) *Consumer {
	logger.Info("sqs consumer initialized", zap.String("queue_url", queueURL))
	return &Consumer{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Receive long-polls for up to max messages. Bodies that fail to decode are
// deleted so they do not block the queue.
func (c *Consumer) Receive(ctx context.Context, max int32) ([]Received, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: max,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
	}

	result, err := c.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("sqs receive failed: %w", err)
	}

	out := make([]Received, 0, len(result.Messages))
	for _, m := range result.Messages {
		handle := aws.ToString(m.ReceiptHandle)
		var msg Message
		if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &msg); err != nil {
			c.logger.Error("dropping malformed queue message",
				zap.String("message_id", aws.ToString(m.MessageId)),
				zap.Error(err),
			)
			if err := c.Delete(ctx, handle); err != nil {
				c.logger.Warn("failed to delete malformed message", zap.Error(err))
			}
			continue
		}
		out = append(out, Received{Message: msg, ReceiptHandle: handle})
	}
	return out, nil
}

// Delete removes a message after processing.
func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}

// ChangeVisibility hides a message for the given duration before it is
// redelivered.
func (c *Consumer) ChangeVisibility(ctx context.Context, receiptHandle string, d time.Duration) error {
	_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: int32(d / time.Second),
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility failed: %w", err)
	}
	return nil
}
