package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestPublishSendsKeyedMessage(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if msg.Topic != "chat.events.v1" || string(key) != "c1" {
			return errors.New("unexpected routing")
		}
		if len(msg.Headers) != 2 || string(msg.Headers[0].Key) != "content-type" || string(msg.Headers[1].Key) != "request_id" {
			return errors.New("headers must be sorted by key")
		}
		return nil
	})
	p := NewProducerFrom(sp, nil)
	defer p.Close()

	err := p.Publish(context.Background(), "chat.events.v1", "c1", []byte(`{}`), map[string]string{
		"request_id":   "r1",
		"content-type": "application/cloudevents+json",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestPublishWrapsBrokerError(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	p := NewProducerFrom(sp, nil)
	defer p.Close()

	err := p.Publish(context.Background(), "chat.events.v1", "c1", []byte(`{}`), nil)
	if !errors.Is(err, sarama.ErrNotLeaderForPartition) {
		t.Fatalf("expected broker error, got %v", err)
	}
}

func TestPublishHonoursCancelledContext(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	p := NewProducerFrom(sp, nil)
	defer p.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Publish(ctx, "chat.events.v1", "c1", nil, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	if _, err := NewProducer(nil, nil, nil); !errors.Is(err, ErrNoBrokers) {
		t.Fatalf("expected ErrNoBrokers, got %v", err)
	}
	cfg := NewConfig("marketchat-test")
	if !cfg.Producer.Idempotent || cfg.Net.MaxOpenRequests != 1 || cfg.ClientID != "marketchat-test" {
		t.Fatalf("unexpected producer config %+v", cfg.Producer)
	}
}
