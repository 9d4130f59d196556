// Package push carries engagement deltas and post events over Redis pub/sub.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/jdholdren/classfeed/internal/classfeed"
)

var (
	_ classfeed.EngagementSource = (*Source)(nil)
	_ classfeed.PostEventSource  = (*Source)(nil)
)

// Source opens pub/sub channels for a feed store.
type Source struct {
	rdb *redis.Client
}

func NewSource(rdb *redis.Client) *Source {
	return &Source{rdb: rdb}
}

// SubscribeEngagement listens on every post's engagement channel. fn runs on
// the subscription's own goroutine.
func (s *Source) SubscribeEngagement(ctx context.Context, postIDs []string, fn func(classfeed.EngagementPayload)) (func() error, error) {
	channels := make([]string, 0, len(postIDs))
	for _, id := range postIDs {
		channels = append(channels, classfeed.EngagementChannel(id))
	}

	return s.subscribe(ctx, channels, func(msg *redis.Message) {
		payload, err := decodeEngagement(msg)
		if err != nil {
			slog.Error("dropping engagement message", "channel", msg.Channel, "error", err)
			return
		}
		fn(payload)
	})
}

// SubscribePostEvents listens for inserted, updated, and deleted posts.
func (s *Source) SubscribePostEvents(ctx context.Context, fn func(classfeed.PostEvent)) (func() error, error) {
	return s.subscribe(ctx, []string{classfeed.PostEventsChannel}, func(msg *redis.Message) {
		ev, err := decodePostEvent(msg)
		if err != nil {
			slog.Error("dropping post event", "channel", msg.Channel, "error", err)
			return
		}
		fn(ev)
	})
}

func (s *Source) subscribe(ctx context.Context, channels []string, handle func(*redis.Message)) (func() error, error) {
	ps := s.rdb.Subscribe(ctx, channels...)
	// Wait for the confirmation so a bad connection fails here and not later.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("error subscribing to %v: %w", channels, err)
	}

	msgs := ps.Channel()
	go func() {
		// Closes when ps does.
		for msg := range msgs {
			handle(msg)
		}
	}()

	return ps.Close, nil
}

func decodeEngagement(msg *redis.Message) (classfeed.EngagementPayload, error) {
	var payload classfeed.EngagementPayload
	if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
		return payload, fmt.Errorf("error decoding engagement payload: %w", err)
	}
	if payload.New.ID == "" {
		return payload, fmt.Errorf("engagement payload has no post id")
	}
	return payload, nil
}

func decodePostEvent(msg *redis.Message) (classfeed.PostEvent, error) {
	var ev classfeed.PostEvent
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		return ev, fmt.Errorf("error decoding post event: %w", err)
	}
	switch ev.Type {
	case classfeed.EventInsert, classfeed.EventUpdate, classfeed.EventDelete:
	default:
		return ev, fmt.Errorf("unknown post event type %q", ev.Type)
	}
	if ev.Post.ID == "" {
		return ev, fmt.Errorf("post event has no post id")
	}
	return ev, nil
}

// publisher is the one method of a Redis client the [Publisher] needs.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Publisher sends engagement deltas and post events to subscribers.
type Publisher struct {
	rdb publisher
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// PublishEngagement pushes new counters to the post's engagement channel and
// returns how many subscribers got it.
func (p *Publisher) PublishEngagement(ctx context.Context, d classfeed.EngagementDelta) (int64, error) {
	byts, err := json.Marshal(classfeed.EngagementPayload{New: d})
	if err != nil {
		return 0, fmt.Errorf("error encoding engagement payload: %w", err)
	}

	n, err := p.rdb.Publish(ctx, classfeed.EngagementChannel(d.ID), byts).Result()
	if err != nil {
		return 0, fmt.Errorf("error publishing engagement: %w", err)
	}
	return n, nil
}

// PublishPostEvent pushes an event to every post event subscriber.
func (p *Publisher) PublishPostEvent(ctx context.Context, ev classfeed.PostEvent) (int64, error) {
	byts, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("error encoding post event: %w", err)
	}

	n, err := p.rdb.Publish(ctx, classfeed.PostEventsChannel, byts).Result()
	if err != nil {
		return 0, fmt.Errorf("error publishing post event: %w", err)
	}
	return n, nil
}
