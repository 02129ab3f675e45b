package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/herdwatch/internal/alert"
)

// smsMaxLength keeps a message within a few SMS segments.
const smsMaxLength = 320

// SMSPublisher sends a text message and returns the provider message id.
type SMSPublisher interface {
	PublishSMS(ctx context.Context, phoneNumber, message string) (string, error)
}

// SMSSender sends SMS notifications via AWS SNS.
type SMSSender struct {
	publisher SMSPublisher
	logger    *zap.Logger
}

func NewSMSSender(publisher SMSPublisher, logger *zap.Logger) *SMSSender {
	return &SMSSender{publisher: publisher, logger: logger}
}

func (s *SMSSender) Send(ctx context.Context, d *Delivery) error {
	if d.Channel != alert.ChannelSMS {
		return fmt.Errorf("SMS sender only supports sms, got: %s", d.Channel)
	}
	if d.Address == "" {
		return errors.New("sms delivery missing phone number")
	}

	text := d.Body
	if d.DigestID != nil && d.Subject != "" {
		text = d.Subject
	}
	if r := []rune(text); len(r) > smsMaxLength {
		text = string(r[:smsMaxLength-1]) + "…"
	}

	messageID, err := s.publisher.PublishSMS(ctx, d.Address, text)
	if err != nil {
		return err
	}

	s.logger.Info("SMS sent via SNS",
		zap.String("delivery_id", d.ID.String()),
		zap.String("owner", d.Owner),
		zap.String("message_id", messageID),
	)
	return nil
}

func (s *SMSSender) Supports(d *Delivery) bool {
	return d.Channel == alert.ChannelSMS
}
