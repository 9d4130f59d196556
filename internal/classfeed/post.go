package classfeed

import "time"

type (
	// Post is a ranked post as returned by a provider, along with the viewer's
	// interaction flags and the provider's ranking diagnostics.
	Post struct {
		ID string `json:"id"`

		AuthorID        string `json:"author_id"`
		AuthorName      string `json:"author_name"`
		AuthorAvatarURL string `json:"author_avatar_url,omitempty"`
		AuthorRole      string `json:"author_role,omitempty"`

		Title       string    `json:"title,omitempty"`
		Content     string    `json:"content"`
		PostType    string    `json:"post_type"`
		Category    string    `json:"category,omitempty"`
		Tags        []string  `json:"tags,omitempty"`
		Privacy     string    `json:"privacy"`
		MediaURLs   []string  `json:"media_urls,omitempty"`
		IsSensitive bool      `json:"is_sensitive"`
		CreatedAt   time.Time `json:"created_at"`
		UpdatedAt   time.Time `json:"updated_at"`

		LikeCount       int        `json:"like_count"`
		CommentCount    int        `json:"comment_count"`
		ShareCount      int        `json:"share_count"`
		ViewCount       int        `json:"view_count"`
		EngagementScore float64    `json:"engagement_score"`
		LastActivityAt  *time.Time `json:"last_activity_at,omitempty"`

		HasLiked  bool `json:"has_liked"`
		HasSaved  bool `json:"has_saved"`
		HasShared bool `json:"has_shared"`
		HasViewed bool `json:"has_viewed"`

		// Produced by the ranking provider; never recomputed locally.
		RelevanceScore       float64 `json:"relevance_score"`
		PopularityScore      float64 `json:"popularity_score"`
		RecencyScore         float64 `json:"recency_score"`
		PersonalizationScore float64 `json:"personalization_score"`
		FinalScore           float64 `json:"final_score"`
	}

	// EngagementDelta carries only the counters that changed. Nil fields are left alone.
	EngagementDelta struct {
		ID              string     `json:"id"`
		LikeCount       *int       `json:"like_count,omitempty"`
		CommentCount    *int       `json:"comment_count,omitempty"`
		ShareCount      *int       `json:"share_count,omitempty"`
		ViewCount       *int       `json:"view_count,omitempty"`
		EngagementScore *float64   `json:"engagement_score,omitempty"`
		LastActivityAt  *time.Time `json:"last_activity_at,omitempty"`
	}

	// EngagementPayload is the shape pushed on an engagement channel.
	EngagementPayload struct {
		New EngagementDelta `json:"new"`
	}

	PostEvent struct {
		Type EventType `json:"type"`
		Post Post      `json:"post"`
	}
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

const (
	PrivacyPublic    = "public"
	PrivacyFollowers = "followers"
	PrivacyPrivate   = "private"
)

// Public reports whether anyone may see the post. An unset privacy is public,
// as it is when a post is stored.
func (p Post) Public() bool {
	return p.Privacy == "" || p.Privacy == PrivacyPublic
}

// Apply merges the delta's counters into p, leaving everything else untouched.
func (d EngagementDelta) Apply(p *Post) {
	if d.LikeCount != nil {
		p.LikeCount = *d.LikeCount
	}
	if d.CommentCount != nil {
		p.CommentCount = *d.CommentCount
	}
	if d.ShareCount != nil {
		p.ShareCount = *d.ShareCount
	}
	if d.ViewCount != nil {
		p.ViewCount = *d.ViewCount
	}
	if d.EngagementScore != nil {
		p.EngagementScore = *d.EngagementScore
	}
	if d.LastActivityAt != nil {
		t := *d.LastActivityAt
		p.LastActivityAt = &t
	}
}

// Clone returns a copy of p that shares no slices with it.
func (p Post) Clone() Post {
	out := p
	if p.Tags != nil {
		out.Tags = append([]string(nil), p.Tags...)
	}
	if p.MediaURLs != nil {
		out.MediaURLs = append([]string(nil), p.MediaURLs...)
	}
	if p.LastActivityAt != nil {
		t := *p.LastActivityAt
		out.LastActivityAt = &t
	}
	return out
}

// EngagementChannel is the push channel name for a post's counters.
func EngagementChannel(postID string) string {
	return "engagement:" + postID
}

// PostEventsChannel carries insert/update/delete events for every post.
const PostEventsChannel = "posts:events"

type (
	// Author is who wrote a post, as shown next to it.
	Author struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		AvatarURL string    `json:"avatar_url,omitempty"`
		Role      string    `json:"role"`
		CreatedAt time.Time `json:"created_at"`
	}

	// NewPost is what an author submits. Counters and flags start at zero.
	NewPost struct {
		AuthorID  string       `json:"author_id"`
		Title     string       `json:"title,omitempty"`
		Content   string       `json:"content"`
		PostType  string       `json:"post_type,omitempty"`
		Category  string       `json:"category,omitempty"`
		Tags      []string     `json:"tags,omitempty"`
		Privacy   string       `json:"privacy,omitempty"`
		MediaURLs []string     `json:"media_urls,omitempty"`
		Location  *Coordinates `json:"location,omitempty"`
		// Zero means now.
		CreatedAt time.Time `json:"created_at,omitempty"`
	}
)
