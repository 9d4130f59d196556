// Package classfeed holds the domain types shared by the feed store, the
// ranking providers, the push transport, and the API.
package classfeed

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("resource not found")
)

// Algorithm selects the server side ranking strategy for a feed.
type Algorithm string

const (
	AlgorithmSmart        Algorithm = "smart"
	AlgorithmFollowing    Algorithm = "following"
	AlgorithmTrending     Algorithm = "trending"
	AlgorithmRecent       Algorithm = "recent"
	AlgorithmPopular      Algorithm = "popular"
	AlgorithmPersonalized Algorithm = "personalized"
)

// Algorithms is the closed set of known ranking strategies.
var Algorithms = []Algorithm{
	AlgorithmSmart,
	AlgorithmFollowing,
	AlgorithmTrending,
	AlgorithmRecent,
	AlgorithmPopular,
	AlgorithmPersonalized,
}

func (a Algorithm) Valid() bool {
	for _, known := range Algorithms {
		if a == known {
			return true
		}
	}
	return false
}

type (
	// FeedQuery describes a requested slice of a feed.
	//
	// Optional numeric filters are pointers so that an omitted filter and a
	// zero-valued one can be told apart.
	FeedQuery struct {
		Limit    int       `json:"limit,omitempty"`
		Offset   int       `json:"offset,omitempty"`
		Cursor   string    `json:"cursor,omitempty"`
		FeedType Algorithm `json:"feed_type,omitempty"`

		PostTypes   []string `json:"post_types,omitempty"`
		Category    string   `json:"category,omitempty"`
		Tags        []string `json:"tags,omitempty"`
		AuthorID    string   `json:"author_id,omitempty"`
		Privacy     string   `json:"privacy,omitempty"`
		SearchQuery string   `json:"search_query,omitempty"`

		LocationRadiusKM *float64     `json:"location_radius_km,omitempty"`
		UserCoordinates  *Coordinates `json:"user_coordinates,omitempty"`

		TimeWindowHours *int   `json:"time_window_hours,omitempty"`
		PostedAfter     string `json:"posted_after,omitempty"`
		PostedBefore    string `json:"posted_before,omitempty"`

		ExcludeSeen        bool     `json:"exclude_seen,omitempty"`
		IncludeSensitive   bool     `json:"include_sensitive,omitempty"`
		MinEngagementScore *float64 `json:"min_engagement_score,omitempty"`
	}

	Coordinates struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	}

	// FeedRequest is what gets sent to the ranking provider.
	FeedRequest struct {
		ViewerID string `json:"viewer_id"`
		FeedQuery
	}

	// Page is one fetched page of ranked posts.
	Page struct {
		Posts         []Post    `json:"posts"`
		HasMore       bool      `json:"has_more"`
		NextCursor    string    `json:"next_cursor,omitempty"`
		AlgorithmUsed Algorithm `json:"algorithm_used"`
		TotalCount    *int      `json:"total_count,omitempty"`
	}
)

const DefaultLimit = 20

// WithDefaults fills in the limit and algorithm when they were omitted.
func (q FeedQuery) WithDefaults() FeedQuery {
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.FeedType == "" {
		q.FeedType = AlgorithmSmart
	}
	return q
}

// Clone returns a copy that shares no slices or pointers with q.
func (q FeedQuery) Clone() FeedQuery {
	out := q
	if q.PostTypes != nil {
		out.PostTypes = append([]string(nil), q.PostTypes...)
	}
	if q.Tags != nil {
		out.Tags = append([]string(nil), q.Tags...)
	}
	if q.LocationRadiusKM != nil {
		v := *q.LocationRadiusKM
		out.LocationRadiusKM = &v
	}
	if q.UserCoordinates != nil {
		v := *q.UserCoordinates
		out.UserCoordinates = &v
	}
	if q.TimeWindowHours != nil {
		v := *q.TimeWindowHours
		out.TimeWindowHours = &v
	}
	if q.MinEngagementScore != nil {
		v := *q.MinEngagementScore
		out.MinEngagementScore = &v
	}
	return out
}

// NewPage wraps a provider result. HasMore is only a guess: a full page
// means there might be more.
func NewPage(posts []Post, limit int, algo Algorithm) Page {
	p := Page{
		Posts:         posts,
		HasMore:       len(posts) == limit,
		AlgorithmUsed: algo,
	}
	if len(posts) > 0 {
		p.NextCursor = posts[len(posts)-1].CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return p
}

type (
	// FeedProvider computes ranked feeds. The ranking itself is opaque to the store.
	FeedProvider interface {
		RankedFeed(ctx context.Context, req FeedRequest) ([]Post, error)
		// RecordViews is best effort and returns how many views were recorded.
		RecordViews(ctx context.Context, viewerID string, postIDs []string) (int, error)
		Analytics(ctx context.Context, viewerID string, from, to time.Time) (AnalyticsSummary, error)
	}

	// ReactionRecorder is implemented by providers that persist likes, saves, and shares.
	ReactionRecorder interface {
		SetReaction(ctx context.Context, viewerID, postID string, reaction Reaction, on bool) error
		RecordShare(ctx context.Context, viewerID, postID string) error
	}

	// EngagementSource opens push channels of counter deltas for a batch of posts.
	// The returned function tears the channel down.
	EngagementSource interface {
		SubscribeEngagement(ctx context.Context, postIDs []string, fn func(EngagementPayload)) (func() error, error)
	}

	// PostEventSource opens a push channel of full post insert/update/delete events.
	PostEventSource interface {
		SubscribePostEvents(ctx context.Context, fn func(PostEvent)) (func() error, error)
	}

	// VisibilityChecker decides whether a viewer may see a post that arrived
	// outside of a ranked feed, applying the same privacy rules the provider
	// applies when ranking.
	VisibilityChecker interface {
		CanSee(ctx context.Context, viewerID string, post Post) (bool, error)
	}

	AnalyticsSummary struct {
		PostsAvailable     int      `json:"posts_available"`
		PostsViewed        int      `json:"posts_viewed"`
		EngagementActions  int      `json:"engagement_actions"`
		AvgEngagementScore float64  `json:"avg_engagement_score"`
		TopCategories      []string `json:"top_categories"`
		EngagementRate     float64  `json:"engagement_rate"`
	}
)

type Reaction string

const (
	ReactionLike Reaction = "like"
	ReactionSave Reaction = "save"
)
