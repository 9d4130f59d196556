// Package relay moves upstream post and engagement events from Kafka onto the
// push channels feed stores subscribe to.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"

	"github.com/jdholdren/classfeed/internal/classfeed"
)

const (
	KindEngagement = "engagement"
	KindInsert     = "insert"
	KindUpdate     = "update"
	KindDelete     = "delete"
)

var messagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "classfeed_relay_messages_total",
	Help: "Upstream messages handled by the relay, by kind and outcome",
}, []string{"kind", "outcome"})

var contentPolicy = bluemonday.UGCPolicy()

type (
	// Message is the upstream shape on the topic. Engagement messages carry
	// Engagement, the rest carry Post.
	Message struct {
		Kind       string                     `json:"kind"`
		Post       *classfeed.Post            `json:"post,omitempty"`
		Engagement *classfeed.EngagementDelta `json:"engagement,omitempty"`
	}

	// Reader is the part of a [kafka.Reader] the relay uses.
	Reader interface {
		FetchMessage(ctx context.Context) (kafka.Message, error)
		CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	}

	Publisher interface {
		PublishEngagement(ctx context.Context, d classfeed.EngagementDelta) (int64, error)
		PublishPostEvent(ctx context.Context, ev classfeed.PostEvent) (int64, error)
	}

	Relay struct {
		reader      Reader
		pub         Publisher
		maxRetries  uint64
		backoffBase time.Duration
	}
)

// NewReader builds a consumer group reader for the topic.
func NewReader(brokers []string, groupID, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		MaxWait:        2 * time.Second,
		StartOffset:    kafka.LastOffset,
		CommitInterval: time.Second,
	})
}

func New(r Reader, pub Publisher) *Relay {
	return &Relay{
		reader:      r,
		pub:         pub,
		maxRetries:  5,
		backoffBase: 100 * time.Millisecond,
	}
}

// Run relays until ctx is done. A message is only committed once it has been
// published, or once it is known to be garbage. It returns an error if
// publishing keeps failing, leaving the message to be redelivered.
func (rl *Relay) Run(ctx context.Context) error {
	for {
		m, err := rl.reader.FetchMessage(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error fetching message: %w", err)
		}

		msg, err := decode(m.Value)
		if err != nil {
			slog.ErrorContext(ctx, "skipping bad message", "offset", m.Offset, "partition", m.Partition, "error", err)
			messagesRelayed.WithLabelValues("unknown", "invalid").Inc()
			if err := rl.reader.CommitMessages(ctx, m); err != nil {
				return fmt.Errorf("error committing message: %w", err)
			}
			continue
		}

		backoff := retry.WithMaxRetries(rl.maxRetries, retry.NewFibonacci(rl.backoffBase))
		if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := rl.publish(ctx, msg); err != nil {
				slog.WarnContext(ctx, "retrying publish", "kind", msg.Kind, "error", err)
				return retry.RetryableError(err)
			}
			return nil
		}); err != nil {
			messagesRelayed.WithLabelValues(msg.Kind, "failed").Inc()
			return fmt.Errorf("error relaying %s message: %w", msg.Kind, err)
		}
		messagesRelayed.WithLabelValues(msg.Kind, "published").Inc()

		if err := rl.reader.CommitMessages(ctx, m); err != nil {
			return fmt.Errorf("error committing message: %w", err)
		}
	}
}

func (rl *Relay) publish(ctx context.Context, msg Message) error {
	var (
		n   int64
		err error
	)
	if msg.Kind == KindEngagement {
		n, err = rl.pub.PublishEngagement(ctx, *msg.Engagement)
	} else {
		n, err = rl.pub.PublishPostEvent(ctx, classfeed.PostEvent{Type: eventType(msg.Kind), Post: *msg.Post})
	}
	if err != nil {
		return err
	}

	slog.DebugContext(ctx, "relayed message", "kind", msg.Kind, "subscribers", n)
	return nil
}

// decode parses and checks an upstream message, sanitizing any post content.
func decode(value []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(value, &msg); err != nil {
		return msg, fmt.Errorf("error decoding message: %w", err)
	}

	switch msg.Kind {
	case KindEngagement:
		if msg.Engagement == nil || msg.Engagement.ID == "" {
			return msg, errors.New("engagement message without a post id")
		}
	case KindInsert, KindUpdate, KindDelete:
		if msg.Post == nil || msg.Post.ID == "" {
			return msg, fmt.Errorf("%s message without a post id", msg.Kind)
		}
		msg.Post.Content = contentPolicy.Sanitize(msg.Post.Content)
	default:
		return msg, fmt.Errorf("unknown message kind %q", msg.Kind)
	}

	return msg, nil
}

func eventType(kind string) classfeed.EventType {
	switch kind {
	case KindInsert:
		return classfeed.EventInsert
	case KindUpdate:
		return classfeed.EventUpdate
	default:
		return classfeed.EventDelete
	}
}
