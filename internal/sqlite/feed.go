package sqlite

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/jdholdren/classfeed/internal/classfeed"
	seyerrs "github.com/jdholdren/classfeed/internal/errors"
)

// Scoring terms. Every ? is the current time.
const (
	recencyTerm     = `(1.0 / (1.0 + MAX(julianday(?) - julianday(p.created_at), 0.0)))`
	popularityTerm  = `p.engagement_score`
	personalTerm    = `(CASE WHEN f.followee_id IS NOT NULL THEN 1.0 ELSE 0.0 END)`
	normalizedScore = `MIN(p.engagement_score / 100.0, 1.0)`
)

// Roughly how many km one degree of latitude spans.
const kmPerDegree = 111.0

// RankedFeed ranks posts for the viewer with a plain SQL ordering per
// algorithm:
//
//   - recent and following: newest first
//   - popular and trending: highest engagement score first
//   - smart: a blend of recency, engagement, and follows
//   - personalized: follows first, then recency
//
// A cursor pages by creation time for the time ordered algorithms. Everything
// else pages by offset.
func (r Repo) RankedFeed(ctx context.Context, req classfeed.FeedRequest) ([]classfeed.Post, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	q := req.FeedQuery.WithDefaults()
	now := r.now().UTC()

	sel := postSelect(req.ViewerID, now, finalScore(q.FeedType))
	sel, err := filter(sel, req.ViewerID, q, now)
	if err != nil {
		return nil, err
	}
	sel = sel.OrderBy(ordering(q.FeedType)...).Limit(uint64(q.Limit))

	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	var rows []postRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("error selecting ranked feed: %w", err)
	}

	posts := make([]classfeed.Post, 0, len(rows))
	for _, row := range rows {
		posts = append(posts, row.post())
	}
	return posts, nil
}

// Post fetches a single post as the viewer would see it.
func (r Repo) Post(ctx context.Context, viewerID, id string) (classfeed.Post, error) {
	now := r.now().UTC()
	query, args, err := postSelect(viewerID, now, recencyTerm).
		Where(sq.Eq{"p.id": id}).
		ToSql()
	if err != nil {
		return classfeed.Post{}, fmt.Errorf("error constructing sql: %s", err)
	}

	var rows []postRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return classfeed.Post{}, fmt.Errorf("error fetching post: %w", err)
	}
	if len(rows) == 0 {
		return classfeed.Post{}, classfeed.ErrNotFound
	}

	return rows[0].post(), nil
}

func postSelect(viewerID string, now time.Time, final string) sq.SelectBuilder {
	return sq.Select(
		"p.id",
		"p.author_id",
		"a.name AS author_name",
		"a.avatar_url AS author_avatar_url",
		"a.role AS author_role",
		"p.title",
		"p.content",
		"p.post_type",
		"p.category",
		"p.tags",
		"p.privacy",
		"p.media_urls",
		"p.is_sensitive",
		"p.created_at",
		"p.updated_at",
		"p.like_count",
		"p.comment_count",
		"p.share_count",
		"p.view_count",
		"p.engagement_score",
		"p.last_activity_at",
	).
		Column(sq.Expr(`EXISTS (SELECT 1 FROM post_reactions pr WHERE pr.post_id = p.id AND pr.viewer_id = ? AND pr.reaction = ?) AS has_liked`, viewerID, classfeed.ReactionLike)).
		Column(sq.Expr(`EXISTS (SELECT 1 FROM post_reactions pr WHERE pr.post_id = p.id AND pr.viewer_id = ? AND pr.reaction = ?) AS has_saved`, viewerID, classfeed.ReactionSave)).
		Column(sq.Expr(`EXISTS (SELECT 1 FROM post_shares ps WHERE ps.post_id = p.id AND ps.viewer_id = ?) AS has_shared`, viewerID)).
		Column(sq.Expr(`EXISTS (SELECT 1 FROM post_views pv WHERE pv.post_id = p.id AND pv.viewer_id = ?) AS has_viewed`, viewerID)).
		Column("1.0 AS relevance_score").
		Column(popularityTerm + " AS popularity_score").
		Column(atNow(recencyTerm+" AS recency_score", now)).
		Column(personalTerm + " AS personalization_score").
		Column(atNow(final+" AS final_score", now)).
		From("posts p").
		Join("authors a ON a.id = p.author_id").
		LeftJoin("follows f ON f.followee_id = p.author_id AND f.follower_id = ?", viewerID)
}

// atNow binds now to every placeholder in expr.
func atNow(expr string, now time.Time) sq.Sqlizer {
	// julianday() wants the plain SQLite layout.
	ts := now.Format("2006-01-02 15:04:05")
	args := make([]any, strings.Count(expr, "?"))
	for i := range args {
		args[i] = ts
	}
	return sq.Expr(expr, args...)
}

func finalScore(algo classfeed.Algorithm) string {
	switch algo {
	case classfeed.AlgorithmPopular, classfeed.AlgorithmTrending:
		return popularityTerm
	case classfeed.AlgorithmSmart:
		return "(0.5 * " + recencyTerm + " + 0.3 * " + normalizedScore + " + 0.2 * " + personalTerm + ")"
	case classfeed.AlgorithmPersonalized:
		return "(0.6 * " + personalTerm + " + 0.4 * " + recencyTerm + ")"
	default:
		return recencyTerm
	}
}

func ordering(algo classfeed.Algorithm) []string {
	switch algo {
	case classfeed.AlgorithmPopular, classfeed.AlgorithmTrending:
		return []string{"p.engagement_score DESC", "p.created_at DESC", "p.id DESC"}
	case classfeed.AlgorithmSmart, classfeed.AlgorithmPersonalized:
		return []string{"final_score DESC", "p.created_at DESC", "p.id DESC"}
	default:
		return []string{"p.created_at DESC", "p.id DESC"}
	}
}

// timeOrdered algorithms can page with a creation time cursor.
func timeOrdered(algo classfeed.Algorithm) bool {
	return algo == classfeed.AlgorithmRecent || algo == classfeed.AlgorithmFollowing
}

func filter(sel sq.SelectBuilder, viewerID string, q classfeed.FeedQuery, now time.Time) (sq.SelectBuilder, error) {
	// What the viewer is allowed to see at all.
	sel = sel.Where(sq.Or{
		sq.Eq{"p.privacy": "public"},
		sq.Eq{"p.author_id": viewerID},
		sq.And{sq.Eq{"p.privacy": "followers"}, sq.Expr("f.followee_id IS NOT NULL")},
	})

	if q.FeedType == classfeed.AlgorithmFollowing {
		sel = sel.Where("f.followee_id IS NOT NULL")
	}
	if q.Privacy != "" {
		sel = sel.Where(sq.Eq{"p.privacy": q.Privacy})
	}
	if len(q.PostTypes) > 0 {
		sel = sel.Where(sq.Eq{"p.post_type": q.PostTypes})
	}
	if q.Category != "" {
		sel = sel.Where(sq.Eq{"p.category": q.Category})
	}
	if q.AuthorID != "" {
		sel = sel.Where(sq.Eq{"p.author_id": q.AuthorID})
	}
	if len(q.Tags) > 0 {
		args := make([]any, len(q.Tags))
		for i, t := range q.Tags {
			args[i] = t
		}
		sel = sel.Where(sq.Expr(
			"EXISTS (SELECT 1 FROM json_each(p.tags) jt WHERE jt.value IN ("+sq.Placeholders(len(q.Tags))+"))",
			args...,
		))
	}
	if q.SearchQuery != "" {
		pattern := "%" + q.SearchQuery + "%"
		sel = sel.Where(sq.Or{sq.Like{"p.content": pattern}, sq.Like{"p.title": pattern}})
	}

	if q.LocationRadiusKM != nil && q.UserCoordinates != nil {
		// A bounding box, which is close enough at classroom distances.
		c := *q.UserCoordinates
		dLat := *q.LocationRadiusKM / kmPerDegree
		sel = sel.Where(sq.And{
			sq.Expr("p.lat IS NOT NULL AND p.lng IS NOT NULL"),
			sq.GtOrEq{"p.lat": c.Lat - dLat},
			sq.LtOrEq{"p.lat": c.Lat + dLat},
		})
		if cos := math.Cos(c.Lat * math.Pi / 180); cos > 0.01 {
			dLng := *q.LocationRadiusKM / (kmPerDegree * cos)
			sel = sel.Where(sq.And{
				sq.GtOrEq{"p.lng": c.Lng - dLng},
				sq.LtOrEq{"p.lng": c.Lng + dLng},
			})
		}
	}

	if q.TimeWindowHours != nil {
		sel = sel.Where(sq.GtOrEq{"p.created_at": now.Add(-time.Duration(*q.TimeWindowHours) * time.Hour)})
	}
	// Already validated, so these parse.
	if after, _ := classfeed.ParseDateBound(q.PostedAfter); !after.IsZero() {
		sel = sel.Where(sq.GtOrEq{"p.created_at": after})
	}
	if before, _ := classfeed.ParseDateBound(q.PostedBefore); !before.IsZero() {
		sel = sel.Where(sq.LtOrEq{"p.created_at": before})
	}

	if q.ExcludeSeen {
		sel = sel.Where("NOT EXISTS (SELECT 1 FROM post_views pv2 WHERE pv2.post_id = p.id AND pv2.viewer_id = ?)", viewerID)
	}
	if !q.IncludeSensitive {
		sel = sel.Where(sq.Eq{"p.is_sensitive": false})
	}
	if q.MinEngagementScore != nil {
		sel = sel.Where(sq.GtOrEq{"p.engagement_score": *q.MinEngagementScore})
	}

	if q.Cursor != "" && timeOrdered(q.FeedType) {
		at, err := time.Parse(time.RFC3339Nano, q.Cursor)
		if err != nil {
			return sel, seyerrs.E(
				fmt.Errorf("invalid cursor %q", q.Cursor),
				http.StatusBadRequest,
				seyerrs.CodeInvalidQuery,
				seyerrs.Detail{Field: "cursor", Error: "must be an RFC 3339 timestamp"},
			)
		}
		return sel.Where(sq.Lt{"p.created_at": at.UTC()}), nil
	}

	return sel.Offset(uint64(q.Offset)), nil
}
