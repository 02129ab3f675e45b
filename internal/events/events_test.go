package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	subject := uuid.New()
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var e Event
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		if e.Type != NotificationCreated {
			return errors.New("unexpected type " + e.Type)
		}
		if e.Owner != "owner-1" || e.SubjectID != subject {
			return errors.New("unexpected owner or subject")
		}
		return nil
	})

	p := newKafkaPublisher(producer, "herdwatch.events", zap.NewNop())
	e := New(NotificationCreated, "owner-1", subject, time.Now(), map[string]any{"stage": "week"})

	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func TestKafkaPublisher_PublishError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := newKafkaPublisher(producer, "herdwatch.events", zap.NewNop())
	err := p.Publish(context.Background(), New(DigestSent, "owner-1", uuid.New(), time.Now(), nil))
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Errorf("expected ErrOutOfBrokers, got %v", err)
	}
}

func TestKafkaPublisher_CancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newKafkaPublisher(producer, "herdwatch.events", zap.NewNop())
	if err := p.Publish(ctx, New(DigestCreated, "owner-1", uuid.New(), time.Now(), nil)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNewKafkaPublisher_Validation(t *testing.T) {
	if _, err := NewKafkaPublisher(KafkaConfig{Topic: "t"}, zap.NewNop()); err == nil {
		t.Error("expected error for empty brokers")
	}
	if _, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}}, zap.NewNop()); err == nil {
		t.Error("expected error for empty topic")
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), Event{}); err != nil {
		t.Errorf("Nop.Publish returned %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Nop.Close returned %v", err)
	}
}
