package feedstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jdholdren/classfeed/internal/classfeed"
)

type (
	// Interaction is an optimistic like or save that has been applied locally
	// and not yet confirmed. It remembers enough to undo itself.
	Interaction struct {
		PostID   string             `json:"post_id"`
		Reaction classfeed.Reaction `json:"reaction"`
		On       bool               `json:"on"` // State after the toggle

		wasInSet bool
		visible  bool // Whether a visible post was changed
	}

	// InteractionState lists the ids the viewer touched this session, whether or
	// not the posts are still visible.
	InteractionState struct {
		Viewed []string `json:"viewed"`
		Liked  []string `json:"liked"`
		Saved  []string `json:"saved"`
	}
)

// ToggleLike flips the like on a post and moves its like count by one, never
// below zero.
func (s *Store) ToggleLike(postID string) Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	in := Interaction{PostID: postID, Reaction: classfeed.ReactionLike}
	_, in.wasInSet = s.liked[postID]
	in.On = !in.wasInSet

	if i := s.indexOf(postID); i >= 0 {
		p := &s.posts[i]
		in.visible = true
		in.On = !p.HasLiked
		setLike(p, in.On)
	}

	toggleSet(s.liked, postID, in.On)
	return in
}

// ToggleSave flips the saved flag on a post. There is no counter for saves.
func (s *Store) ToggleSave(postID string) Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	in := Interaction{PostID: postID, Reaction: classfeed.ReactionSave}
	_, in.wasInSet = s.saved[postID]
	in.On = !in.wasInSet

	if i := s.indexOf(postID); i >= 0 {
		p := &s.posts[i]
		in.visible = true
		in.On = !p.HasSaved
		p.HasSaved = in.On
	}

	toggleSet(s.saved, postID, in.On)
	return in
}

// Revert undoes a toggle. Counter changes that arrived since are kept; only
// the toggle's own step is taken back.
func (s *Store) Revert(in Interaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.liked
	if in.Reaction == classfeed.ReactionSave {
		set = s.saved
	}
	toggleSet(set, in.PostID, in.wasInSet)

	if !in.visible {
		return
	}
	i := s.indexOf(in.PostID)
	if i < 0 {
		return
	}

	p := &s.posts[i]
	switch in.Reaction {
	case classfeed.ReactionLike:
		if p.HasLiked == in.On {
			setLike(p, !in.On)
		}
	case classfeed.ReactionSave:
		p.HasSaved = !in.On
	}
}

// Confirm sends a toggle to the provider and reverts it locally if the
// provider refuses.
func (s *Store) Confirm(ctx context.Context, in Interaction) error {
	if s.reactions == nil {
		return nil
	}

	err := s.reactions.SetReaction(ctx, s.viewerID, in.PostID, in.Reaction, in.On)
	providerCalls.WithLabelValues("reaction", result(err)).Inc()
	if err != nil {
		s.Revert(in)
		slog.WarnContext(ctx, "reverted unconfirmed interaction",
			"viewer_id", s.viewerID,
			"post_id", in.PostID,
			"reaction", in.Reaction,
			"error", err,
		)
		return fmt.Errorf("error confirming %s: %w", in.Reaction, err)
	}

	return nil
}

// MarkViewed counts a view. Unlike likes it is not a toggle: every call adds
// one to the view count.
func (s *Store) MarkViewed(postID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.viewed[postID] = struct{}{}
	if i := s.indexOf(postID); i >= 0 {
		s.posts[i].HasViewed = true
		s.posts[i].ViewCount++
	}
}

// IncrementShareCount records a share locally. Shares can't be undone.
func (s *Store) IncrementShareCount(postID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(postID); i >= 0 {
		s.posts[i].ShareCount++
		s.posts[i].HasShared = true
	}
}

// Share increments the share count and tells the provider. The local count
// stays even if the provider fails.
func (s *Store) Share(ctx context.Context, postID string) error {
	s.IncrementShareCount(postID)
	if s.reactions == nil {
		return nil
	}

	err := s.reactions.RecordShare(ctx, s.viewerID, postID)
	providerCalls.WithLabelValues("share", result(err)).Inc()
	if err != nil {
		slog.WarnContext(ctx, "error recording share", "viewer_id", s.viewerID, "post_id", postID, "error", err)
		return fmt.Errorf("error recording share: %w", err)
	}
	return nil
}

// RecordPostViews adds the ids to the viewed set and reports them to the
// provider. A failure is logged and nothing is rolled back.
func (s *Store) RecordPostViews(ctx context.Context, postIDs []string) {
	if len(postIDs) == 0 {
		return
	}

	s.mu.Lock()
	for _, id := range postIDs {
		s.viewed[id] = struct{}{}
	}
	s.mu.Unlock()

	n, err := s.provider.RecordViews(ctx, s.viewerID, postIDs)
	providerCalls.WithLabelValues("record_views", result(err)).Inc()
	if err != nil {
		slog.WarnContext(ctx, "error recording post views", "viewer_id", s.viewerID, "count", len(postIDs), "error", err)
		return
	}

	slog.DebugContext(ctx, "recorded post views", "viewer_id", s.viewerID, "recorded", n)
}

// Interactions copies the viewed, liked, and saved sets.
func (s *Store) Interactions() InteractionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return InteractionState{
		Viewed: sortedKeys(s.viewed),
		Liked:  sortedKeys(s.liked),
		Saved:  sortedKeys(s.saved),
	}
}

func setLike(p *classfeed.Post, on bool) {
	p.HasLiked = on
	if on {
		p.LikeCount++
		return
	}
	p.LikeCount = max(0, p.LikeCount-1)
}

func toggleSet(set map[string]struct{}, id string, in bool) {
	if in {
		set[id] = struct{}{}
		return
	}
	delete(set, id)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
