package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/classfeed/internal/classfeed"
)

// RecordViews adds one view per existing post and remembers that the viewer
// has seen it. Unknown ids are skipped.
func (r Repo) RecordViews(ctx context.Context, viewerID string, postIDs []string) (int, error) {
	const upsertQ = `INSERT INTO post_views (viewer_id, post_id, first_viewed_at, last_viewed_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (viewer_id, post_id) DO UPDATE SET last_viewed_at = excluded.last_viewed_at;`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := r.now().UTC()
	recorded := 0
	for _, id := range postIDs {
		ok, err := bump(ctx, tx, id, counters{views: 1}, now)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, upsertQ, viewerID, id, now, now); err != nil {
			return 0, fmt.Errorf("error recording view: %w", err)
		}
		recorded++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing transaction: %w", err)
	}

	return recorded, nil
}

// SetReaction turns a like or save on or off. Setting the state a post is
// already in changes nothing.
func (r Repo) SetReaction(ctx context.Context, viewerID, postID string, reaction classfeed.Reaction, on bool) error {
	const (
		insertQ = `INSERT OR IGNORE INTO post_reactions (viewer_id, post_id, reaction, created_at) VALUES (?, ?, ?, ?);`
		deleteQ = `DELETE FROM post_reactions WHERE viewer_id = ? AND post_id = ? AND reaction = ?;`
	)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.postExists(ctx, tx, postID); err != nil {
		return err
	}

	now := r.now().UTC()
	var (
		res   sql.Result
		delta = 1
	)
	if on {
		res, err = tx.ExecContext(ctx, insertQ, viewerID, postID, reaction, now)
	} else {
		res, err = tx.ExecContext(ctx, deleteQ, viewerID, postID, reaction)
		delta = -1
	}
	if err != nil {
		return fmt.Errorf("error setting reaction: %w", err)
	}

	changed, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if changed > 0 && reaction == classfeed.ReactionLike {
		if _, err := bump(ctx, tx, postID, counters{likes: delta}, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}

// RecordShare stores a share. Every share counts.
func (r Repo) RecordShare(ctx context.Context, viewerID, postID string) error {
	const q = `INSERT INTO post_shares (id, viewer_id, post_id, created_at) VALUES (?, ?, ?, ?);`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.postExists(ctx, tx, postID); err != nil {
		return err
	}

	now := r.now().UTC()
	if _, err := tx.ExecContext(ctx, q, uuid.NewString()+shareNamespace, viewerID, postID, now); err != nil {
		return fmt.Errorf("error inserting share: %w", err)
	}
	if _, err := bump(ctx, tx, postID, counters{shares: 1}, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}

// Engagement reads a post's current counters, ready to be pushed.
func (r Repo) Engagement(ctx context.Context, postID string) (classfeed.EngagementDelta, error) {
	const q = `SELECT
		id,
		like_count,
		comment_count,
		share_count,
		view_count,
		engagement_score,
		last_activity_at
	FROM posts WHERE id = ?;`

	var row struct {
		ID              string     `db:"id"`
		LikeCount       int        `db:"like_count"`
		CommentCount    int        `db:"comment_count"`
		ShareCount      int        `db:"share_count"`
		ViewCount       int        `db:"view_count"`
		EngagementScore float64    `db:"engagement_score"`
		LastActivityAt  *time.Time `db:"last_activity_at"`
	}
	err := r.db.GetContext(ctx, &row, q, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return classfeed.EngagementDelta{}, classfeed.ErrNotFound
	}
	if err != nil {
		return classfeed.EngagementDelta{}, fmt.Errorf("error fetching engagement: %w", err)
	}

	return classfeed.EngagementDelta{
		ID:              row.ID,
		LikeCount:       &row.LikeCount,
		CommentCount:    &row.CommentCount,
		ShareCount:      &row.ShareCount,
		ViewCount:       &row.ViewCount,
		EngagementScore: &row.EngagementScore,
		LastActivityAt:  row.LastActivityAt,
	}, nil
}

type counters struct {
	likes, shares, views int
}

// bump moves a post's counters and recomputes its engagement score. It
// reports false if the post doesn't exist.
func bump(ctx context.Context, tx *sqlx.Tx, postID string, c counters, at time.Time) (bool, error) {
	const (
		countersQ = `UPDATE posts SET
			like_count = MAX(like_count + ?, 0),
			share_count = share_count + ?,
			view_count = view_count + ?,
			last_activity_at = ?
		WHERE id = ?;`
		// Runs separately so it sees the new counts.
		scoreQ = `UPDATE posts SET
			engagement_score = like_count + 2.0 * comment_count + 3.0 * share_count + 0.1 * view_count
		WHERE id = ?;`
	)

	res, err := tx.ExecContext(ctx, countersQ, c.likes, c.shares, c.views, at, postID)
	if err != nil {
		return false, fmt.Errorf("error updating counters: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, scoreQ, postID); err != nil {
		return false, fmt.Errorf("error updating engagement score: %w", err)
	}
	return true, nil
}
