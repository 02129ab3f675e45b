package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalithlochan/herdwatch/internal/alert"
)

// AppSender completes in-app deliveries. The stored notification is what
// the user sees, so there is nothing to transmit.
type AppSender struct {
	logger *zap.Logger
}

func NewAppSender(logger *zap.Logger) *AppSender {
	return &AppSender{logger: logger}
}

func (s *AppSender) Send(ctx context.Context, d *Delivery) error {
	s.logger.Debug("in-app delivery recorded",
		zap.String("delivery_id", d.ID.String()),
		zap.String("owner", d.Owner),
	)
	return nil
}

func (s *AppSender) Supports(d *Delivery) bool {
	return d.Channel == alert.ChannelApp
}

// LogSender logs external deliveries instead of sending them. It stands in
// for providers that are not configured in development.
type LogSender struct {
	logger   *zap.Logger
	channels map[alert.Channel]bool
}

// NewLogSender creates a logging sender for the given channels, or for every
// external channel when none are given.
func NewLogSender(logger *zap.Logger, channels ...alert.Channel) *LogSender {
	if len(channels) == 0 {
		channels = []alert.Channel{alert.ChannelEmail, alert.ChannelSMS, alert.ChannelPush}
	}
	set := make(map[alert.Channel]bool, len(channels))
	for _, c := range channels {
		set[c] = true
	}
	return &LogSender{logger: logger, channels: set}
}

func (s *LogSender) Send(ctx context.Context, d *Delivery) error {
	s.logger.Info("logging delivery (development mode)",
		zap.String("delivery_id", d.ID.String()),
		zap.String("owner", d.Owner),
		zap.String("channel", string(d.Channel)),
		zap.String("address", d.Address),
		zap.String("subject", d.Subject),
		zap.String("body", d.Body),
	)
	return nil
}

func (s *LogSender) Supports(d *Delivery) bool {
	return s.channels[d.Channel]
}
