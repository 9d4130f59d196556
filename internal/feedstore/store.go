// Package feedstore is the per-viewer feed state: it fetches ranked pages from
// a provider, caches them by query fingerprint, tracks optimistic interactions,
// and folds push updates into the visible list.
//
// A Store is safe for concurrent use. Provider and push calls are made without
// holding the store's lock.
package feedstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/jdholdren/classfeed/internal/classfeed"
	seyerrs "github.com/jdholdren/classfeed/internal/errors"
	"github.com/jdholdren/classfeed/internal/ttlcache"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

type (
	// FeedError is the last provider failure, kept next to the posts that were
	// already on screen.
	FeedError struct {
		Message   string    `json:"message"`
		Code      string    `json:"code,omitempty"`
		Timestamp time.Time `json:"timestamp"`
	}

	// State is a point in time copy of everything a UI reads from the store.
	State struct {
		Status        Status              `json:"status"`
		Refreshing    bool                `json:"refreshing"`
		LoadingMore   bool                `json:"loading_more"`
		Posts         []classfeed.Post    `json:"posts"`
		HasMore       bool                `json:"has_more"`
		NextCursor    string              `json:"next_cursor,omitempty"`
		AlgorithmUsed classfeed.Algorithm `json:"algorithm_used,omitempty"`
		TotalCount    *int                `json:"total_count,omitempty"`
		Err           *FeedError          `json:"error,omitempty"`
		PendingCount  int                 `json:"pending_count"`
		LastQuery     classfeed.FeedQuery `json:"last_query"`
	}

	Config struct {
		ViewerID string
		Provider classfeed.FeedProvider

		// Optional. Without it Confirm and Share only update local state.
		Reactions classfeed.ReactionRecorder
		// Optional. Without them the subscription calls fail with 503.
		Engagement classfeed.EngagementSource
		PostEvents classfeed.PostEventSource
		// Decides whether a pushed insert or update may be shown. Without it
		// only public posts and the viewer's own posts are.
		Visibility classfeed.VisibilityChecker

		// Defaults to a fresh cache with the default TTL and size.
		Cache *ttlcache.Cache[classfeed.Page]
		Now   func() time.Time
	}

	Store struct {
		viewerID   string
		provider   classfeed.FeedProvider
		reactions  classfeed.ReactionRecorder
		engagement classfeed.EngagementSource
		postEvents classfeed.PostEventSource
		visibility classfeed.VisibilityChecker
		cache      *ttlcache.Cache[classfeed.Page]
		now        func() time.Time

		mu          sync.Mutex
		status      Status
		refreshing  bool
		loadingMore bool
		posts       []classfeed.Post
		hasMore     bool
		nextCursor  string
		algorithm   classfeed.Algorithm
		totalCount  *int
		err         *FeedError
		lastQuery   classfeed.FeedQuery

		// The query of the newest in-flight load, nil when nothing is loading.
		inflight *classfeed.FeedQuery
		// Bumped on every load so that older responses can be recognized.
		generation uint64

		pending []classfeed.Post
		viewed  map[string]struct{}
		liked   map[string]struct{}
		saved   map[string]struct{}

		subs map[string]func() error

		telemetry sync.WaitGroup
	}
)

func New(cfg Config) *Store {
	cache := cfg.Cache
	if cache == nil {
		cache = ttlcache.New[classfeed.Page]("feed")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		viewerID:   cfg.ViewerID,
		provider:   cfg.Provider,
		reactions:  cfg.Reactions,
		engagement: cfg.Engagement,
		postEvents: cfg.PostEvents,
		visibility: cfg.Visibility,
		cache:      cache,
		now:        now,
		status:     StatusIdle,
		viewed:     make(map[string]struct{}),
		liked:      make(map[string]struct{}),
		saved:      make(map[string]struct{}),
		subs:       make(map[string]func() error),
	}
}

// LoadFeed shows the first page of the feed described by q.
//
// An invalid query is rejected before anything else happens. A load already in
// flight for an equal query makes this a no-op, and a cached page is adopted
// without calling the provider. If the provider fails, the error is recorded
// and returned while the visible posts stay as they were.
func (s *Store) LoadFeed(ctx context.Context, q classfeed.FeedQuery) error {
	if err := q.Validate(); err != nil {
		return err
	}
	q = q.WithDefaults().Clone()

	key, err := q.Fingerprint()
	if err != nil {
		return fmt.Errorf("error fingerprinting query: %w", err)
	}

	s.mu.Lock()
	if s.inflight != nil && reflect.DeepEqual(*s.inflight, q) {
		s.mu.Unlock()
		return nil
	}

	if page, ok := s.cache.Get(key); ok {
		// Anything still in flight is older than this.
		s.generation++
		s.inflight = nil
		s.lastQuery = q
		s.adopt(page)
		s.mu.Unlock()

		slog.DebugContext(ctx, "feed served from cache", "viewer_id", s.viewerID, "fingerprint", key)
		return nil
	}

	if len(s.posts) == 0 || !reflect.DeepEqual(s.lastQuery, q) {
		s.status = StatusLoading
	}
	s.generation++
	gen := s.generation
	issued := q.Clone()
	s.inflight = &issued
	s.lastQuery = q
	s.mu.Unlock()

	posts, err := s.rankedFeed(ctx, "load", q)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()

		staleResponses.WithLabelValues("load").Inc()
		slog.InfoContext(ctx, "discarding superseded feed response", "viewer_id", s.viewerID, "generation", gen)
		if err != nil {
			return fmt.Errorf("error loading feed: %w", err)
		}
		// Still a valid page for its own query.
		s.cache.Put(key, classfeed.NewPage(posts, q.Limit, q.FeedType))
		return nil
	}
	s.inflight = nil

	if err != nil {
		s.status = StatusError
		s.err = newFeedError(err, s.now())
		s.mu.Unlock()

		slog.ErrorContext(ctx, "error loading feed", "viewer_id", s.viewerID, "error", err)
		return fmt.Errorf("error loading feed: %w", err)
	}

	page := classfeed.NewPage(posts, q.Limit, q.FeedType)
	s.cache.Put(key, page)
	s.adopt(page)
	s.mu.Unlock()

	s.recordViewsAsync(ctx, postIDs(page.Posts))
	return nil
}

// RefreshFeed drops every cached page and reloads the last query.
func (s *Store) RefreshFeed(ctx context.Context) error {
	s.mu.Lock()
	s.refreshing = true
	q := s.lastQuery.Clone()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.refreshing = false
		s.mu.Unlock()
	}()

	s.cache.Clear()
	return s.LoadFeed(ctx, q)
}

// LoadMorePosts appends the next page after the visible posts. It does nothing
// when there is no next page or another load is running. A failure is recorded
// but never removes posts that are already visible.
func (s *Store) LoadMorePosts(ctx context.Context) error {
	s.mu.Lock()
	if !s.hasMore || s.loadingMore || s.inflight != nil {
		s.mu.Unlock()
		return nil
	}

	q := s.lastQuery.Clone()
	q.Cursor = s.nextCursor
	q.Offset = len(s.posts)
	s.loadingMore = true
	gen := s.generation
	s.mu.Unlock()

	posts, err := s.rankedFeed(ctx, "load_more", q)

	s.mu.Lock()
	s.loadingMore = false
	if gen != s.generation {
		s.mu.Unlock()

		staleResponses.WithLabelValues("load_more").Inc()
		slog.InfoContext(ctx, "discarding page for a replaced feed", "viewer_id", s.viewerID, "generation", gen)
		return nil
	}

	if err != nil {
		s.err = newFeedError(err, s.now())
		s.mu.Unlock()

		slog.ErrorContext(ctx, "error loading more posts", "viewer_id", s.viewerID, "offset", q.Offset, "error", err)
		return fmt.Errorf("error loading more posts: %w", err)
	}

	page := classfeed.NewPage(posts, q.Limit, q.FeedType)
	s.posts = append(s.posts, clonePosts(page.Posts)...)
	s.hasMore = page.HasMore
	if page.NextCursor != "" {
		s.nextCursor = page.NextCursor
	}
	s.err = nil
	s.mu.Unlock()

	s.recordViewsAsync(ctx, postIDs(page.Posts))
	return nil
}

// Analytics passes through to the provider. Failures are logged and returned
// but never become feed state.
func (s *Store) Analytics(ctx context.Context, from, to time.Time) (classfeed.AnalyticsSummary, error) {
	start := time.Now()
	summary, err := s.provider.Analytics(ctx, s.viewerID, from, to)
	providerDuration.WithLabelValues("analytics").Observe(time.Since(start).Seconds())
	providerCalls.WithLabelValues("analytics", result(err)).Inc()
	if err != nil {
		slog.WarnContext(ctx, "error fetching analytics", "viewer_id", s.viewerID, "error", err)
		return classfeed.AnalyticsSummary{}, fmt.Errorf("error fetching analytics: %w", err)
	}

	return summary, nil
}

// Snapshot copies the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Status:        s.status,
		Refreshing:    s.refreshing,
		LoadingMore:   s.loadingMore,
		Posts:         clonePosts(s.posts),
		HasMore:       s.hasMore,
		NextCursor:    s.nextCursor,
		AlgorithmUsed: s.algorithm,
		PendingCount:  len(s.pending),
		LastQuery:     s.lastQuery.Clone(),
	}
	if st.Posts == nil {
		st.Posts = []classfeed.Post{}
	}
	if s.totalCount != nil {
		n := *s.totalCount
		st.TotalCount = &n
	}
	if s.err != nil {
		e := *s.err
		st.Err = &e
	}
	return st
}

// Post returns the visible post with the given id.
func (s *Store) Post(id string) (classfeed.Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return classfeed.Post{}, false
	}
	return s.posts[i].Clone(), true
}

func (s *Store) ViewerID() string {
	return s.viewerID
}

// Close tears down every subscription and waits for background view
// recording to finish.
func (s *Store) Close() error {
	err := s.UnsubscribeAll()
	s.telemetry.Wait()
	return err
}

func (s *Store) rankedFeed(ctx context.Context, op string, q classfeed.FeedQuery) ([]classfeed.Post, error) {
	start := time.Now()
	posts, err := s.provider.RankedFeed(ctx, classfeed.FeedRequest{ViewerID: s.viewerID, FeedQuery: q})
	providerDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	providerCalls.WithLabelValues(op, result(err)).Inc()
	return posts, err
}

// adopt replaces the visible list with page. Callers hold mu.
func (s *Store) adopt(page classfeed.Page) {
	// The cache keeps its own copy so local edits never leak into it.
	s.posts = clonePosts(page.Posts)
	s.hasMore = page.HasMore
	s.nextCursor = page.NextCursor
	s.algorithm = page.AlgorithmUsed
	s.totalCount = page.TotalCount
	s.status = StatusSuccess
	s.err = nil
}

// indexOf finds a visible post. Callers hold mu.
func (s *Store) indexOf(id string) int {
	for i := range s.posts {
		if s.posts[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) recordViewsAsync(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}

	// The request that triggered this may end before the provider answers.
	ctx = context.WithoutCancel(ctx)
	s.telemetry.Add(1)
	go func() {
		defer s.telemetry.Done()
		s.RecordPostViews(ctx, ids)
	}()
}

func newFeedError(err error, at time.Time) *FeedError {
	fe := &FeedError{
		Message:   err.Error(),
		Timestamp: at,
	}

	var sErr *seyerrs.Error
	if errors.As(err, &sErr) {
		if sErr.Err != nil {
			fe.Message = sErr.Err.Error()
		}
		fe.Code = string(sErr.Code)
		if fe.Code == "" {
			fe.Code = strconv.Itoa(sErr.Status)
		}
	}
	return fe
}

func clonePosts(posts []classfeed.Post) []classfeed.Post {
	if posts == nil {
		return nil
	}
	out := make([]classfeed.Post, len(posts))
	for i, p := range posts {
		out[i] = p.Clone()
	}
	return out
}

func postIDs(posts []classfeed.Post) []string {
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	return ids
}
