package feedstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/classfeed/internal/classfeed"
)

func TestHandleRealtimeEvent_InsertWaitsForApply(t *testing.T) {
	s, _ := loadedStore(t, makePosts("a", 2, baseTime), nil)
	before := ids(s.Snapshot().Posts)

	s.HandleRealtimeEvent(classfeed.Post{ID: "new-1", Content: "first"}, classfeed.EventInsert)
	s.HandleRealtimeEvent(classfeed.Post{ID: "new-2", Content: "second"}, classfeed.EventInsert)

	st := s.Snapshot()
	assert.Equal(t, before, ids(st.Posts))
	assert.Equal(t, 2, st.PendingCount)
	assert.Equal(t, 2, s.PendingCount())

	n := s.ApplyPendingUpdates()
	assert.Equal(t, 2, n)

	st = s.Snapshot()
	assert.Equal(t, []string{"new-1", "new-2", "a-0", "a-1"}, ids(st.Posts))
	assert.Equal(t, 0, st.PendingCount)

	assert.Equal(t, 0, s.ApplyPendingUpdates())
}

func TestHandleRealtimeEvent_Update(t *testing.T) {
	posts := makePosts("a", 3, baseTime)
	posts[1].HasLiked = true
	posts[1].LikeCount = 1
	s, _ := loadedStore(t, posts, nil)

	edited := posts[1].Clone()
	edited.Content = "edited"
	edited.HasLiked = false
	edited.LikeCount = 9
	s.HandleRealtimeEvent(edited, classfeed.EventUpdate)

	st := s.Snapshot()
	require.Equal(t, []string{"a-0", "a-1", "a-2"}, ids(st.Posts))
	assert.Equal(t, "edited", st.Posts[1].Content)
	assert.Equal(t, 9, st.Posts[1].LikeCount)
	assert.True(t, st.Posts[1].HasLiked, "viewer flags survive a pushed update")

	// Updates for posts that aren't visible are dropped, not buffered.
	s.HandleRealtimeEvent(classfeed.Post{ID: "elsewhere"}, classfeed.EventUpdate)
	st = s.Snapshot()
	assert.Len(t, st.Posts, 3)
	assert.Equal(t, 0, st.PendingCount)
}

type fakeVisibility struct {
	mu      sync.Mutex
	allowed map[string]bool // by post id
	err     error
	viewers []string
}

func (f *fakeVisibility) CanSee(_ context.Context, viewerID string, post classfeed.Post) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.viewers = append(f.viewers, viewerID)
	return f.allowed[post.ID], f.err
}

func TestHandleRealtimeEvent_HiddenInsertNeverBuffered(t *testing.T) {
	s, _ := loadedStore(t, makePosts("a", 2, baseTime), nil)

	for _, post := range []classfeed.Post{
		{ID: "secret", AuthorID: "stranger", Privacy: classfeed.PrivacyPrivate, IsSensitive: true},
		{ID: "class-only", AuthorID: "stranger", Privacy: classfeed.PrivacyFollowers},
		{ID: "graphic", AuthorID: "stranger", Privacy: classfeed.PrivacyPublic, IsSensitive: true},
	} {
		s.HandleRealtimeEvent(post, classfeed.EventInsert)
	}
	assert.Equal(t, 0, s.PendingCount())
	assert.Equal(t, 0, s.ApplyPendingUpdates())
	assert.Equal(t, []string{"a-0", "a-1"}, ids(s.Snapshot().Posts))

	// The viewer's own drafts still show up.
	s.HandleRealtimeEvent(classfeed.Post{ID: "mine", AuthorID: "viewer-1", Privacy: classfeed.PrivacyPrivate}, classfeed.EventInsert)
	assert.Equal(t, 1, s.ApplyPendingUpdates())
	assert.Equal(t, []string{"mine", "a-0", "a-1"}, ids(s.Snapshot().Posts))
}

func TestHandleRealtimeEvent_SensitiveFollowsLastQuery(t *testing.T) {
	p := &fakeProvider{feed: staticFeed(makePosts("a", 2, baseTime))}
	s := New(Config{ViewerID: "viewer-1", Provider: p})
	require.NoError(t, s.LoadFeed(context.Background(), classfeed.FeedQuery{Limit: 2, IncludeSensitive: true}))
	t.Cleanup(func() { _ = s.Close() })

	s.HandleRealtimeEvent(classfeed.Post{ID: "graphic", AuthorID: "stranger", IsSensitive: true}, classfeed.EventInsert)
	assert.Equal(t, 1, s.PendingCount())
}

func TestHandleRealtimeEvent_UsesVisibilityChecker(t *testing.T) {
	vis := &fakeVisibility{allowed: map[string]bool{"class-only": true}}
	p := &fakeProvider{feed: staticFeed(makePosts("a", 2, baseTime))}
	s := New(Config{ViewerID: "viewer-1", Provider: p, Visibility: vis})
	require.NoError(t, s.LoadFeed(context.Background(), classfeed.FeedQuery{Limit: 2}))
	t.Cleanup(func() { _ = s.Close() })

	s.HandleRealtimeEvent(classfeed.Post{ID: "class-only", AuthorID: "teacher-1", Privacy: classfeed.PrivacyFollowers}, classfeed.EventInsert)
	s.HandleRealtimeEvent(classfeed.Post{ID: "other-class", AuthorID: "teacher-2", Privacy: classfeed.PrivacyFollowers}, classfeed.EventInsert)
	// Sensitive posts are hidden before the checker is asked.
	s.HandleRealtimeEvent(classfeed.Post{ID: "graphic", AuthorID: "teacher-1", IsSensitive: true}, classfeed.EventInsert)
	assert.Equal(t, 1, s.ApplyPendingUpdates())
	assert.Equal(t, []string{"class-only", "a-0", "a-1"}, ids(s.Snapshot().Posts))

	vis.mu.Lock()
	assert.Equal(t, []string{"viewer-1", "viewer-1"}, vis.viewers)
	vis.err = errors.New("database is locked")
	vis.allowed["late"] = true
	vis.mu.Unlock()

	// A failed check hides the post.
	s.HandleRealtimeEvent(classfeed.Post{ID: "late", AuthorID: "teacher-1"}, classfeed.EventInsert)
	assert.Equal(t, 0, s.PendingCount())
}

func TestHandleRealtimeEvent_UpdateThatHidesRemoves(t *testing.T) {
	posts := makePosts("a", 3, baseTime)
	s, _ := loadedStore(t, posts, nil)

	locked := posts[1].Clone()
	locked.Privacy = classfeed.PrivacyPrivate
	s.HandleRealtimeEvent(locked, classfeed.EventUpdate)

	st := s.Snapshot()
	assert.Equal(t, []string{"a-0", "a-2"}, ids(st.Posts))
	assert.Equal(t, 0, st.PendingCount)
}

func TestHandleRealtimeEvent_Delete(t *testing.T) {
	s, _ := loadedStore(t, makePosts("a", 3, baseTime), nil)

	s.HandleRealtimeEvent(classfeed.Post{ID: "a-1"}, classfeed.EventDelete)
	assert.Equal(t, []string{"a-0", "a-2"}, ids(s.Snapshot().Posts))

	s.HandleRealtimeEvent(classfeed.Post{ID: "missing"}, classfeed.EventDelete)
	assert.Equal(t, []string{"a-0", "a-2"}, ids(s.Snapshot().Posts))
}

func TestHandleEngagementUpdate_MergesOnlyPresentFields(t *testing.T) {
	posts := makePosts("a", 1, baseTime)
	posts[0].LikeCount = 1
	posts[0].CommentCount = 2
	posts[0].ShareCount = 3
	posts[0].ViewCount = 4
	posts[0].HasLiked = true
	posts[0].HasSaved = true
	s, _ := loadedStore(t, posts, nil)

	comments := 20
	score := 7.5
	active := baseTime.Add(time.Minute)
	s.HandleEngagementUpdate(classfeed.EngagementPayload{New: classfeed.EngagementDelta{
		ID:              "a-0",
		CommentCount:    &comments,
		EngagementScore: &score,
		LastActivityAt:  &active,
	}})

	got, ok := s.Post("a-0")
	require.True(t, ok)
	assert.Equal(t, 20, got.CommentCount)
	assert.Equal(t, 7.5, got.EngagementScore)
	require.NotNil(t, got.LastActivityAt)
	assert.Equal(t, active, *got.LastActivityAt)

	assert.Equal(t, 1, got.LikeCount)
	assert.Equal(t, 3, got.ShareCount)
	assert.Equal(t, 4, got.ViewCount)
	assert.Equal(t, posts[0].Content, got.Content)
	assert.Equal(t, posts[0].AuthorID, got.AuthorID)
	assert.Equal(t, posts[0].AuthorName, got.AuthorName)
	assert.True(t, got.HasLiked)
	assert.True(t, got.HasSaved)

	// Unknown posts are ignored.
	s.HandleEngagementUpdate(classfeed.EngagementPayload{New: classfeed.EngagementDelta{ID: "nope", CommentCount: &comments}})
	assert.Len(t, s.Snapshot().Posts, 1)
}
