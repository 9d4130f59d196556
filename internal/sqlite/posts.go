package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goaway "github.com/TwiN/go-away"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/microcosm-cc/bluemonday"

	"github.com/jdholdren/classfeed/internal/classfeed"
	seyerrs "github.com/jdholdren/classfeed/internal/errors"
)

// Open opens a database at path with the settings every binary uses.
func Open(path string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("%s?_txlock=immediate&_journal_mode=WAL&_busy_timeout=5000&_time_format=sqlite&_pragma=foreign_keys(1)", path)
	dbx, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	return dbx, nil
}

var (
	contentPolicy = bluemonday.UGCPolicy()
	stripPolicy   = bluemonday.StrictPolicy()
)

const maxContentLength = 10_000

// sanitize keeps the safe subset of user HTML and trims the length.
func sanitize(policy *bluemonday.Policy, s string, limit int) string {
	s = strings.TrimSpace(policy.Sanitize(s))
	if len(s) > limit {
		s = s[:limit]
	}
	return s
}

// EnsureAuthor creates the author or updates their display details.
func (r Repo) EnsureAuthor(ctx context.Context, a classfeed.Author) error {
	const q = `INSERT INTO authors (id, name, avatar_url, role, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		name = excluded.name,
		avatar_url = excluded.avatar_url,
		role = excluded.role;`

	if a.Role == "" {
		a.Role = "student"
	}
	if _, err := r.db.ExecContext(ctx, q, a.ID, stripPolicy.Sanitize(a.Name), a.AvatarURL, a.Role, r.now().UTC()); err != nil {
		return fmt.Errorf("error ensuring author: %w", err)
	}

	return nil
}

// InsertPost sanitizes and stores a new post. Posts with profanity are stored
// but flagged as sensitive.
func (r Repo) InsertPost(ctx context.Context, np classfeed.NewPost) (classfeed.Post, error) {
	const q = `INSERT INTO posts (
		id,
		author_id,
		title,
		content,
		post_type,
		category,
		tags,
		privacy,
		media_urls,
		is_sensitive,
		lat,
		lng,
		created_at,
		updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	content := sanitize(contentPolicy, np.Content, maxContentLength)
	if content == "" {
		return classfeed.Post{}, seyerrs.E("post content is empty", http.StatusBadRequest, seyerrs.Detail{Field: "content", Error: "required"})
	}
	title := sanitize(stripPolicy, np.Title, 300)

	if np.PostType == "" {
		np.PostType = "text"
	}
	if np.Privacy == "" {
		np.Privacy = "public"
	}
	createdAt := np.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}
	createdAt = createdAt.UTC()

	var lat, lng sql.NullFloat64
	if np.Location != nil {
		lat = sql.NullFloat64{Float64: np.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: np.Location.Lng, Valid: true}
	}

	id := uuid.NewString() + postNamespace
	_, err := r.db.ExecContext(ctx, q,
		id,
		np.AuthorID,
		title,
		content,
		np.PostType,
		np.Category,
		stringList(np.Tags),
		np.Privacy,
		stringList(np.MediaURLs),
		goaway.IsProfane(title) || goaway.IsProfane(content),
		lat,
		lng,
		createdAt,
		createdAt,
	)
	if err != nil {
		return classfeed.Post{}, fmt.Errorf("error inserting post: %w", err)
	}

	return r.Post(ctx, np.AuthorID, id)
}

// DeletePost removes a post and everything hanging off it.
func (r Repo) DeletePost(ctx context.Context, id string) error {
	const q = `DELETE FROM posts WHERE id = ?;`

	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("error deleting post: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return classfeed.ErrNotFound
	}

	return nil
}

// Follow makes follower see followee's posts in the following feed.
func (r Repo) Follow(ctx context.Context, followerID, followeeID string) error {
	const q = `INSERT OR IGNORE INTO follows (follower_id, followee_id, created_at) VALUES (?, ?, ?);`

	if _, err := r.db.ExecContext(ctx, q, followerID, followeeID, r.now().UTC()); err != nil {
		return fmt.Errorf("error creating follow: %w", err)
	}

	return nil
}

// CanSee applies the ranked feed's privacy rules to a single post: public
// posts and the viewer's own posts are visible, followers-only posts need a
// follow, and everything else is hidden.
func (r Repo) CanSee(ctx context.Context, viewerID string, p classfeed.Post) (bool, error) {
	if p.Public() || p.AuthorID == viewerID {
		return true, nil
	}
	if p.Privacy != classfeed.PrivacyFollowers {
		return false, nil
	}

	const q = `SELECT EXISTS (SELECT 1 FROM follows WHERE follower_id = ? AND followee_id = ?);`

	var follows bool
	if err := r.db.GetContext(ctx, &follows, q, viewerID, p.AuthorID); err != nil {
		return false, fmt.Errorf("error checking follow: %w", err)
	}

	return follows, nil
}

// AuthorIDs lists every author, oldest first.
func (r Repo) AuthorIDs(ctx context.Context) ([]string, error) {
	const q = `SELECT id FROM authors ORDER BY created_at, id;`

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, q); err != nil {
		return nil, fmt.Errorf("error selecting author ids: %w", err)
	}

	return ids, nil
}

func (r Repo) postExists(ctx context.Context, tx *sqlx.Tx, id string) error {
	const q = `SELECT 1 FROM posts WHERE id = ?;`

	var one int
	err := tx.GetContext(ctx, &one, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return classfeed.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("error checking post: %w", err)
	}
	return nil
}
