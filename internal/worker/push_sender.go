package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/herdwatch/internal/alert"
	"github.com/lalithlochan/herdwatch/internal/sns"
)

// EndpointPublisher sends a push payload to an SNS platform endpoint.
type EndpointPublisher interface {
	PublishToEndpoint(ctx context.Context, endpointARN string, payload sns.PushPayload) (string, error)
}

// PushSender delivers push notifications. Addresses that are SNS endpoint
// ARNs go through SNS; http(s) addresses receive a JSON webhook.
type PushSender struct {
	endpoints EndpointPublisher
	client    *http.Client
	logger    *zap.Logger
}

type PushConfig struct {
	WebhookTimeout time.Duration
}

// NewPushSender creates a push sender. endpoints may be nil, in which case
// only webhook addresses are supported.
func NewPushSender(endpoints EndpointPublisher, cfg PushConfig, logger *zap.Logger) *PushSender {
	timeout := cfg.WebhookTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &PushSender{
		endpoints: endpoints,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

// webhookPayload is the body posted to push webhooks.
type webhookPayload struct {
	DeliveryID     string `json:"delivery_id"`
	Owner          string `json:"owner"`
	Subject        string `json:"subject,omitempty"`
	Body           string `json:"body"`
	Severity       string `json:"severity,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
	DigestID       string `json:"digest_id,omitempty"`
}

func (s *PushSender) Send(ctx context.Context, d *Delivery) error {
	if d.Channel != alert.ChannelPush {
		return fmt.Errorf("push sender only supports push, got: %s", d.Channel)
	}

	switch {
	case isEndpointARN(d.Address):
		if s.endpoints == nil {
			return errors.New("push endpoint publishing is not configured")
		}
		return s.sendEndpoint(ctx, d)
	case isWebhookURL(d.Address):
		return s.sendWebhook(ctx, d)
	default:
		return fmt.Errorf("unsupported push address: %q", d.Address)
	}
}

func (s *PushSender) sendEndpoint(ctx context.Context, d *Delivery) error {
	data := map[string]string{"delivery_id": d.ID.String()}
	if d.NotificationID != nil {
		data["notification_id"] = d.NotificationID.String()
	}
	if d.DigestID != nil {
		data["digest_id"] = d.DigestID.String()
	}

	title := d.Subject
	if title == "" {
		title = defaultEmailSubject
	}

	messageID, err := s.endpoints.PublishToEndpoint(ctx, d.Address, sns.PushPayload{
		Title: title,
		Body:  d.Body,
		Data:  data,
	})
	if err != nil {
		return err
	}

	s.logger.Info("push sent via SNS endpoint",
		zap.String("delivery_id", d.ID.String()),
		zap.String("message_id", messageID),
	)
	return nil
}

func (s *PushSender) sendWebhook(ctx context.Context, d *Delivery) error {
	payload := webhookPayload{
		DeliveryID: d.ID.String(),
		Owner:      d.Owner,
		Subject:    d.Subject,
		Body:       d.Body,
		Severity:   string(d.Severity),
	}
	if d.NotificationID != nil {
		payload.NotificationID = d.NotificationID.String()
	}
	if d.DigestID != nil {
		payload.DigestID = d.DigestID.String()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Address, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Herdwatch/1.0")
	req.Header.Set("X-Herdwatch-Delivery-ID", d.ID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d, body: %s", resp.StatusCode, string(preview))
	}

	s.logger.Info("push webhook delivered",
		zap.String("delivery_id", d.ID.String()),
		zap.Int("status_code", resp.StatusCode),
	)
	return nil
}

func (s *PushSender) Supports(d *Delivery) bool {
	if d.Channel != alert.ChannelPush {
		return false
	}
	return isWebhookURL(d.Address) || (s.endpoints != nil && isEndpointARN(d.Address))
}

func isEndpointARN(addr string) bool {
	return strings.HasPrefix(addr, "arn:")
}

func isWebhookURL(addr string) bool {
	return strings.HasPrefix(addr, "https://") || strings.HasPrefix(addr, "http://")
}
