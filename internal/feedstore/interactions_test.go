package feedstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/classfeed/internal/classfeed"
)

type fakeReactions struct {
	mu        sync.Mutex
	reactions []string
	shares    []string
	err       error
}

func (f *fakeReactions) SetReaction(_ context.Context, _, postID string, reaction classfeed.Reaction, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	state := "off"
	if on {
		state = "on"
	}
	f.reactions = append(f.reactions, postID+":"+string(reaction)+":"+state)
	return f.err
}

func (f *fakeReactions) RecordShare(_ context.Context, _, postID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.shares = append(f.shares, postID)
	return f.err
}

// loadedStore returns a store showing posts.
func loadedStore(t *testing.T, posts []classfeed.Post, reactions classfeed.ReactionRecorder) (*Store, *fakeProvider) {
	t.Helper()

	p := &fakeProvider{feed: staticFeed(posts)}
	s := New(Config{ViewerID: "viewer-1", Provider: p, Reactions: reactions})
	require.NoError(t, s.LoadFeed(context.Background(), classfeed.FeedQuery{Limit: len(posts)}))
	t.Cleanup(func() { _ = s.Close() })
	return s, p
}

func TestToggleLike_TwiceRestores(t *testing.T) {
	posts := makePosts("a", 3, baseTime)
	posts[1].LikeCount = 7
	s, _ := loadedStore(t, posts, nil)

	in := s.ToggleLike("a-1")
	assert.True(t, in.On)
	post, _ := s.Post("a-1")
	assert.Equal(t, 8, post.LikeCount)
	assert.True(t, post.HasLiked)
	assert.Equal(t, []string{"a-1"}, s.Interactions().Liked)

	in = s.ToggleLike("a-1")
	assert.False(t, in.On)
	post, _ = s.Post("a-1")
	assert.Equal(t, 7, post.LikeCount)
	assert.False(t, post.HasLiked)
	assert.Empty(t, s.Interactions().Liked)
}

func TestToggleLike_CountNeverNegative(t *testing.T) {
	posts := makePosts("a", 1, baseTime)
	posts[0].HasLiked = true
	posts[0].LikeCount = 0
	s, _ := loadedStore(t, posts, nil)

	s.ToggleLike("a-0")

	post, _ := s.Post("a-0")
	assert.Equal(t, 0, post.LikeCount)
	assert.False(t, post.HasLiked)
}

func TestToggleLike_PostNotVisible(t *testing.T) {
	s, _ := loadedStore(t, makePosts("a", 1, baseTime), nil)

	in := s.ToggleLike("gone")
	assert.True(t, in.On)
	assert.Equal(t, []string{"gone"}, s.Interactions().Liked)

	in = s.ToggleLike("gone")
	assert.False(t, in.On)
	assert.Empty(t, s.Interactions().Liked)
}

func TestToggleSave(t *testing.T) {
	s, _ := loadedStore(t, makePosts("a", 2, baseTime), nil)

	s.ToggleSave("a-0")
	post, _ := s.Post("a-0")
	assert.True(t, post.HasSaved)
	assert.Equal(t, 0, post.LikeCount)
	assert.Equal(t, []string{"a-0"}, s.Interactions().Saved)

	s.ToggleSave("a-0")
	post, _ = s.Post("a-0")
	assert.False(t, post.HasSaved)
	assert.Empty(t, s.Interactions().Saved)
}

func TestMarkViewed_IsCumulative(t *testing.T) {
	posts := makePosts("a", 1, baseTime)
	posts[0].ViewCount = 10
	s, _ := loadedStore(t, posts, nil)

	s.MarkViewed("a-0")
	post, _ := s.Post("a-0")
	assert.True(t, post.HasViewed)
	assert.Equal(t, 11, post.ViewCount)

	s.MarkViewed("a-0")
	s.MarkViewed("a-0")
	post, _ = s.Post("a-0")
	assert.Equal(t, 13, post.ViewCount)
	assert.Contains(t, s.Interactions().Viewed, "a-0")
}

func TestIncrementShareCount(t *testing.T) {
	s, _ := loadedStore(t, makePosts("a", 1, baseTime), nil)

	s.IncrementShareCount("a-0")
	s.IncrementShareCount("a-0")

	post, _ := s.Post("a-0")
	assert.Equal(t, 2, post.ShareCount)
	assert.True(t, post.HasShared)
}

func TestConfirm(t *testing.T) {
	t.Run("success keeps the toggle", func(t *testing.T) {
		r := &fakeReactions{}
		s, _ := loadedStore(t, makePosts("a", 1, baseTime), r)

		in := s.ToggleLike("a-0")
		require.NoError(t, s.Confirm(context.Background(), in))

		post, _ := s.Post("a-0")
		assert.True(t, post.HasLiked)
		assert.Equal(t, 1, post.LikeCount)
		assert.Equal(t, []string{"a-0:like:on"}, r.reactions)
	})

	t.Run("failure reverts the toggle", func(t *testing.T) {
		r := &fakeReactions{err: errors.New("rejected")}
		posts := makePosts("a", 1, baseTime)
		posts[0].LikeCount = 4
		s, _ := loadedStore(t, posts, r)

		in := s.ToggleLike("a-0")
		require.Error(t, s.Confirm(context.Background(), in))

		post, _ := s.Post("a-0")
		assert.False(t, post.HasLiked)
		assert.Equal(t, 4, post.LikeCount)
		assert.Empty(t, s.Interactions().Liked)
	})

	t.Run("revert keeps counts pushed meanwhile", func(t *testing.T) {
		r := &fakeReactions{err: errors.New("rejected")}
		s, _ := loadedStore(t, makePosts("a", 1, baseTime), r)

		in := s.ToggleLike("a-0")
		likes := 50
		s.HandleEngagementUpdate(classfeed.EngagementPayload{New: classfeed.EngagementDelta{ID: "a-0", LikeCount: &likes}})
		require.Error(t, s.Confirm(context.Background(), in))

		post, _ := s.Post("a-0")
		assert.False(t, post.HasLiked)
		assert.Equal(t, 49, post.LikeCount)
	})

	t.Run("failed save is reverted", func(t *testing.T) {
		r := &fakeReactions{err: errors.New("rejected")}
		posts := makePosts("a", 1, baseTime)
		posts[0].HasSaved = true
		s, _ := loadedStore(t, posts, r)

		in := s.ToggleSave("a-0")
		assert.False(t, in.On)
		require.Error(t, s.Confirm(context.Background(), in))

		post, _ := s.Post("a-0")
		assert.True(t, post.HasSaved)
		assert.Equal(t, []string{"a-0:save:off"}, r.reactions)
	})

	t.Run("no recorder is a local only toggle", func(t *testing.T) {
		s, _ := loadedStore(t, makePosts("a", 1, baseTime), nil)

		in := s.ToggleLike("a-0")
		require.NoError(t, s.Confirm(context.Background(), in))
		post, _ := s.Post("a-0")
		assert.True(t, post.HasLiked)
	})
}

func TestShare_NotReverted(t *testing.T) {
	r := &fakeReactions{err: errors.New("rejected")}
	s, _ := loadedStore(t, makePosts("a", 1, baseTime), r)

	require.Error(t, s.Share(context.Background(), "a-0"))

	post, _ := s.Post("a-0")
	assert.Equal(t, 1, post.ShareCount)
	assert.True(t, post.HasShared)
	assert.Equal(t, []string{"a-0"}, r.shares)
}

func TestRecordPostViews_FailureIsNotRolledBack(t *testing.T) {
	s, p := loadedStore(t, makePosts("a", 1, baseTime), nil)
	require.NoError(t, s.Close())

	p.mu.Lock()
	p.viewErr = errors.New("telemetry down")
	p.mu.Unlock()

	s.RecordPostViews(context.Background(), []string{"x", "y"})

	assert.Subset(t, s.Interactions().Viewed, []string{"x", "y"})
	assert.Nil(t, s.Snapshot().Err)
}

func TestLoadFeed_RecordsViewsForEveryPost(t *testing.T) {
	posts := makePosts("a", 4, baseTime)
	s, p := loadedStore(t, posts, nil)
	require.NoError(t, s.Close())

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.viewCalls, 1)
	assert.Equal(t, ids(posts), p.viewCalls[0])
	assert.Equal(t, ids(posts), s.Interactions().Viewed)
}
