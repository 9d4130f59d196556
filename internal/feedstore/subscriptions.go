package feedstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jdholdren/classfeed/internal/classfeed"
	seyerrs "github.com/jdholdren/classfeed/internal/errors"
)

// FeedSubscriptionKey holds the single feed wide engagement subscription.
const FeedSubscriptionKey = "engagement:feed"

var errNoPush = seyerrs.E("real-time updates are not configured", http.StatusServiceUnavailable, seyerrs.CodeUnavailable)

// Subscribe listens for engagement changes on one post. Subscribing to a post
// twice keeps the first subscription.
func (s *Store) Subscribe(ctx context.Context, postID string) error {
	if s.engagement == nil {
		return errNoPush
	}

	key := classfeed.EngagementChannel(postID)
	if s.subscribed(key) {
		return nil
	}

	teardown, err := s.engagement.SubscribeEngagement(ctx, []string{postID}, s.HandleEngagementUpdate)
	if err != nil {
		return fmt.Errorf("error subscribing to %s: %w", key, err)
	}

	s.register(ctx, key, teardown, false)
	return nil
}

// SubscribeFeed listens for engagement changes on every visible post with a
// single subscription, replacing the previous feed wide one.
func (s *Store) SubscribeFeed(ctx context.Context) error {
	if s.engagement == nil {
		return errNoPush
	}

	s.mu.Lock()
	ids := postIDs(s.posts)
	s.mu.Unlock()

	if len(ids) == 0 {
		return s.unsubscribeKey(ctx, FeedSubscriptionKey)
	}

	teardown, err := s.engagement.SubscribeEngagement(ctx, ids, s.HandleEngagementUpdate)
	if err != nil {
		return fmt.Errorf("error subscribing to feed engagement: %w", err)
	}

	s.register(ctx, FeedSubscriptionKey, teardown, true)
	return nil
}

// SubscribePostEvents routes pushed inserts, updates, and deletes into
// [Store.HandleRealtimeEvent].
func (s *Store) SubscribePostEvents(ctx context.Context) error {
	if s.postEvents == nil {
		return errNoPush
	}
	if s.subscribed(classfeed.PostEventsChannel) {
		return nil
	}

	teardown, err := s.postEvents.SubscribePostEvents(ctx, func(ev classfeed.PostEvent) {
		s.HandleRealtimeEvent(ev.Post, ev.Type)
	})
	if err != nil {
		return fmt.Errorf("error subscribing to post events: %w", err)
	}

	s.register(ctx, classfeed.PostEventsChannel, teardown, false)
	return nil
}

// Unsubscribe stops listening to one post. It is a no-op if there is no
// subscription.
func (s *Store) Unsubscribe(ctx context.Context, postID string) error {
	return s.unsubscribeKey(ctx, classfeed.EngagementChannel(postID))
}

// UnsubscribeAll runs every teardown, even when some of them fail, and
// empties the registry. The failures are joined.
func (s *Store) UnsubscribeAll() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]func() error)
	s.mu.Unlock()

	var errs []error
	for _, key := range sortedKeys(subs) {
		if err := s.runTeardown(key, subs[key]); err != nil {
			slog.Error("error tearing down subscription", "viewer_id", s.viewerID, "key", key, "error", err)
			errs = append(errs, fmt.Errorf("error tearing down %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

// Subscriptions lists the active subscription keys in order.
func (s *Store) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedKeys(s.subs)
}

func (s *Store) subscribed(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.subs[key]
	return ok
}

// register stores a teardown under key. Without replace, a handle that won a
// race for the same key is kept and the new one is torn down.
func (s *Store) register(ctx context.Context, key string, teardown func() error, replace bool) {
	s.mu.Lock()
	old, exists := s.subs[key]
	if exists && !replace {
		s.mu.Unlock()
		if err := s.runTeardown(key, teardown); err != nil {
			slog.ErrorContext(ctx, "error tearing down duplicate subscription", "key", key, "error", err)
		}
		return
	}
	s.subs[key] = teardown
	s.mu.Unlock()

	if exists {
		if err := s.runTeardown(key, old); err != nil {
			slog.ErrorContext(ctx, "error tearing down replaced subscription", "key", key, "error", err)
		}
	}
	slog.DebugContext(ctx, "subscribed", "viewer_id", s.viewerID, "key", key)
}

func (s *Store) unsubscribeKey(ctx context.Context, key string) error {
	s.mu.Lock()
	teardown, ok := s.subs[key]
	delete(s.subs, key)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	if err := s.runTeardown(key, teardown); err != nil {
		slog.ErrorContext(ctx, "error tearing down subscription", "key", key, "error", err)
		return fmt.Errorf("error tearing down %s: %w", key, err)
	}
	return nil
}

// runTeardown calls fn and returns a panic inside it as an error.
func (s *Store) runTeardown(key string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic tearing down subscription", "viewer_id", s.viewerID, "key", key, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return fn()
}
