package feedstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/jdholdren/classfeed/internal/classfeed"
)

// HandleRealtimeEvent folds a pushed post event into the store.
//
// Inserts the viewer may see wait in the pending buffer until
// [Store.ApplyPendingUpdates]. Updates replace a visible post in place and are
// dropped otherwise; an update the viewer may no longer see removes the post.
// Deletes remove a visible post.
func (s *Store) HandleRealtimeEvent(post classfeed.Post, typ classfeed.EventType) {
	visible := true
	if typ == classfeed.EventInsert || typ == classfeed.EventUpdate {
		visible = s.canSee(post)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	outcome := "applied"
	switch typ {
	case classfeed.EventInsert:
		if !visible {
			outcome = "hidden"
			break
		}
		s.pending = append(s.pending, post.Clone())
		outcome = "pending"
	case classfeed.EventUpdate:
		i := s.indexOf(post.ID)
		if i < 0 {
			outcome = "dropped"
			break
		}
		if !visible {
			s.posts = append(s.posts[:i], s.posts[i+1:]...)
			outcome = "hidden"
			break
		}
		// Pushed rows are not viewer specific, so the viewer's flags stay.
		updated := post.Clone()
		old := s.posts[i]
		updated.HasLiked = old.HasLiked
		updated.HasSaved = old.HasSaved
		updated.HasShared = old.HasShared
		updated.HasViewed = old.HasViewed
		s.posts[i] = updated
	case classfeed.EventDelete:
		i := s.indexOf(post.ID)
		if i < 0 {
			outcome = "dropped"
			break
		}
		s.posts = append(s.posts[:i], s.posts[i+1:]...)
	default:
		outcome = "unknown"
		slog.Warn("ignoring post event of unknown type", "type", typ, "post_id", post.ID)
	}

	realtimeEvents.WithLabelValues(string(typ), outcome).Inc()
}

const visibilityTimeout = 2 * time.Second

// canSee applies the ranked feed's rules to a post that arrived by push.
// Sensitive posts follow the last query's include_sensitive. A failed check
// hides the post.
func (s *Store) canSee(post classfeed.Post) bool {
	s.mu.Lock()
	includeSensitive := s.lastQuery.IncludeSensitive
	s.mu.Unlock()

	if post.IsSensitive && !includeSensitive {
		return false
	}
	if s.visibility == nil {
		return post.Public() || post.AuthorID == s.viewerID
	}

	ctx, cancel := context.WithTimeout(context.Background(), visibilityTimeout)
	defer cancel()
	ok, err := s.visibility.CanSee(ctx, s.viewerID, post)
	if err != nil {
		slog.Warn("error checking post visibility, hiding it", "viewer_id", s.viewerID, "post_id", post.ID, "error", err)
		return false
	}
	return ok
}

// ApplyPendingUpdates moves every buffered insert to the front of the visible
// list, oldest arrival first, and returns how many there were.
func (s *Store) ApplyPendingUpdates() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.pending)
	if n == 0 {
		return 0
	}

	posts := make([]classfeed.Post, 0, n+len(s.posts))
	posts = append(posts, s.pending...)
	posts = append(posts, s.posts...)
	s.posts = posts
	s.pending = nil

	return n
}

// HandleEngagementUpdate merges the counters present in the payload into the
// matching visible post. Nothing else on the post changes.
func (s *Store) HandleEngagementUpdate(payload classfeed.EngagementPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(payload.New.ID)
	if i < 0 {
		realtimeEvents.WithLabelValues("ENGAGEMENT", "dropped").Inc()
		return
	}

	payload.New.Apply(&s.posts[i])
	realtimeEvents.WithLabelValues("ENGAGEMENT", "applied").Inc()
}

func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}
