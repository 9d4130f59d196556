package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jdholdren/classfeed/internal/classfeed"
)

const topCategories = 3

// Analytics summarizes what the viewer had available and did between from and
// to.
func (r Repo) Analytics(ctx context.Context, viewerID string, from, to time.Time) (classfeed.AnalyticsSummary, error) {
	const (
		availableQ = `SELECT COUNT(*), COALESCE(AVG(engagement_score), 0)
		FROM posts
		WHERE created_at >= ? AND created_at <= ? AND (privacy = 'public' OR author_id = ?);`
		viewedQ  = `SELECT COUNT(*) FROM post_views WHERE viewer_id = ? AND last_viewed_at >= ? AND last_viewed_at <= ?;`
		actionsQ = `SELECT
			(SELECT COUNT(*) FROM post_reactions WHERE viewer_id = ? AND created_at >= ? AND created_at <= ?) +
			(SELECT COUNT(*) FROM post_shares WHERE viewer_id = ? AND created_at >= ? AND created_at <= ?);`
		categoriesQ = `SELECT p.category
		FROM post_views pv
		INNER JOIN posts p ON p.id = pv.post_id
		WHERE pv.viewer_id = ? AND pv.last_viewed_at >= ? AND pv.last_viewed_at <= ? AND p.category != ''
		GROUP BY p.category
		ORDER BY COUNT(*) DESC, p.category
		LIMIT ?;`
	)

	from, to = from.UTC(), to.UTC()

	var (
		available int
		avgScore  float64
	)
	if err := r.db.QueryRowContext(ctx, availableQ, from, to, viewerID).Scan(&available, &avgScore); err != nil {
		return classfeed.AnalyticsSummary{}, fmt.Errorf("error counting available posts: %w", err)
	}

	var viewed int
	if err := r.db.GetContext(ctx, &viewed, viewedQ, viewerID, from, to); err != nil {
		return classfeed.AnalyticsSummary{}, fmt.Errorf("error counting viewed posts: %w", err)
	}

	var actions int
	if err := r.db.GetContext(ctx, &actions, actionsQ, viewerID, from, to, viewerID, from, to); err != nil {
		return classfeed.AnalyticsSummary{}, fmt.Errorf("error counting engagement actions: %w", err)
	}

	categories := []string{}
	if err := r.db.SelectContext(ctx, &categories, categoriesQ, viewerID, from, to, topCategories); err != nil {
		return classfeed.AnalyticsSummary{}, fmt.Errorf("error selecting top categories: %w", err)
	}

	summary := classfeed.AnalyticsSummary{
		PostsAvailable:     available,
		PostsViewed:        viewed,
		EngagementActions:  actions,
		AvgEngagementScore: avgScore,
		TopCategories:      categories,
	}
	if viewed > 0 {
		summary.EngagementRate = float64(actions) / float64(viewed)
	}
	return summary, nil
}
