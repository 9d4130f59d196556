// Package sqlite is the development ranking provider. It keeps posts and
// viewer interactions in SQLite and ranks them with plain SQL orderings.
package sqlite

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/classfeed/internal/classfeed"
)

var (
	_ classfeed.FeedProvider     = (*Repo)(nil)
	_ classfeed.ReactionRecorder = (*Repo)(nil)
)

const (
	postNamespace  = "-pst"
	shareNamespace = "-shr"
)

type Repo struct {
	db  *sqlx.DB
	now func() time.Time
}

func New(db *sqlx.DB) Repo {
	return Repo{db: db, now: time.Now}
}

// stringList is a JSON array column.
type stringList []string

func (l *stringList) Scan(src any) error {
	var byts []byte
	switch src := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		byts = []byte(src)
	case []byte:
		byts = src
	default:
		return fmt.Errorf("unsupported type for string list: %T", src)
	}

	var out []string
	if err := json.Unmarshal(byts, &out); err != nil {
		return fmt.Errorf("error decoding string list: %w", err)
	}
	*l = out
	return nil
}

func (l stringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	byts, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(byts), nil
}

// postRow is a post joined with its author and the viewer's interactions.
type postRow struct {
	ID              string     `db:"id"`
	AuthorID        string     `db:"author_id"`
	AuthorName      string     `db:"author_name"`
	AuthorAvatarURL string     `db:"author_avatar_url"`
	AuthorRole      string     `db:"author_role"`
	Title           string     `db:"title"`
	Content         string     `db:"content"`
	PostType        string     `db:"post_type"`
	Category        string     `db:"category"`
	Tags            stringList `db:"tags"`
	Privacy         string     `db:"privacy"`
	MediaURLs       stringList `db:"media_urls"`
	IsSensitive     bool       `db:"is_sensitive"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`

	LikeCount       int        `db:"like_count"`
	CommentCount    int        `db:"comment_count"`
	ShareCount      int        `db:"share_count"`
	ViewCount       int        `db:"view_count"`
	EngagementScore float64    `db:"engagement_score"`
	LastActivityAt  *time.Time `db:"last_activity_at"`

	HasLiked  bool `db:"has_liked"`
	HasSaved  bool `db:"has_saved"`
	HasShared bool `db:"has_shared"`
	HasViewed bool `db:"has_viewed"`

	RelevanceScore       float64 `db:"relevance_score"`
	PopularityScore      float64 `db:"popularity_score"`
	RecencyScore         float64 `db:"recency_score"`
	PersonalizationScore float64 `db:"personalization_score"`
	FinalScore           float64 `db:"final_score"`
}

func (r postRow) post() classfeed.Post {
	return classfeed.Post{
		ID:                   r.ID,
		AuthorID:             r.AuthorID,
		AuthorName:           r.AuthorName,
		AuthorAvatarURL:      r.AuthorAvatarURL,
		AuthorRole:           r.AuthorRole,
		Title:                r.Title,
		Content:              r.Content,
		PostType:             r.PostType,
		Category:             r.Category,
		Tags:                 []string(r.Tags),
		Privacy:              r.Privacy,
		MediaURLs:            []string(r.MediaURLs),
		IsSensitive:          r.IsSensitive,
		CreatedAt:            r.CreatedAt.UTC(),
		UpdatedAt:            r.UpdatedAt.UTC(),
		LikeCount:            r.LikeCount,
		CommentCount:         r.CommentCount,
		ShareCount:           r.ShareCount,
		ViewCount:            r.ViewCount,
		EngagementScore:      r.EngagementScore,
		LastActivityAt:       r.LastActivityAt,
		HasLiked:             r.HasLiked,
		HasSaved:             r.HasSaved,
		HasShared:            r.HasShared,
		HasViewed:            r.HasViewed,
		RelevanceScore:       r.RelevanceScore,
		PopularityScore:      r.PopularityScore,
		RecencyScore:         r.RecencyScore,
		PersonalizationScore: r.PersonalizationScore,
		FinalScore:           r.FinalScore,
	}
}
