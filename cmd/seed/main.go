// Classfeed-Seed fills a local database with fake classes: teachers and
// students, follows, posts, and some likes and views on them.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/sethvargo/go-envconfig"
	"golang.org/x/sync/errgroup"

	"github.com/jdholdren/classfeed/internal/classfeed"
	"github.com/jdholdren/classfeed/internal/logger"
	"github.com/jdholdren/classfeed/internal/migrations"
	"github.com/jdholdren/classfeed/internal/sqlite"
)

type config struct {
	Database string `env:"DATABASE, default=classfeed.db"`

	Teachers    int   `env:"SEED_TEACHERS, default=5"`
	Students    int   `env:"SEED_STUDENTS, default=30"`
	Posts       int   `env:"SEED_POSTS, default=200"`
	Days        int   `env:"SEED_DAYS, default=14"`
	Seed        int64 `env:"SEED, default=0"`
	Concurrency int   `env:"SEED_CONCURRENCY, default=8"`

	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
}

var (
	categories = []string{"math", "science", "history", "literature", "art", "music"}
	postTypes  = []string{"text", "text", "text", "question", "announcement", "assignment"}
	tags       = []string{"homework", "exam", "project", "reading", "lab", "fieldtrip", "reminder"}
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(logger.New(os.Stdout, cfg.LoggerFormat, slog.LevelInfo))

	if err := run(ctx, cfg); err != nil {
		slog.Error("error seeding", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config) error {
	if cfg.Teachers < 1 || cfg.Students < 1 || cfg.Concurrency < 1 {
		return fmt.Errorf("need at least one teacher, student, and worker")
	}
	gofakeit.Seed(cfg.Seed)

	dbx, err := sqlite.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer dbx.Close()

	if err := migrations.Run(dbx); err != nil {
		return fmt.Errorf("error running migrations: %s", err)
	}
	repo := sqlite.New(dbx)

	teachers := fakeAuthors("teacher", cfg.Teachers)
	students := fakeAuthors("student", cfg.Students)
	for _, a := range append(teachers, students...) {
		if err := repo.EnsureAuthor(ctx, a); err != nil {
			return err
		}
	}
	slog.Info("seeded authors", "teachers", len(teachers), "students", len(students))

	// Every student follows a couple of teachers and classmates.
	for _, s := range students {
		for range 3 {
			followee := teachers[gofakeit.Number(0, len(teachers)-1)]
			if gofakeit.Bool() {
				followee = students[gofakeit.Number(0, len(students)-1)]
			}
			if followee.ID == s.ID {
				continue
			}
			if err := repo.Follow(ctx, s.ID, followee.ID); err != nil {
				return err
			}
		}
	}

	var (
		now     = time.Now().UTC()
		oldest  = now.Add(-time.Duration(cfg.Days) * 24 * time.Hour)
		writers = append(teachers, teachers...) // Teachers post twice as often
		posts   = make([]classfeed.NewPost, cfg.Posts)
	)
	writers = append(writers, students...)
	for i := range posts {
		posts[i] = fakePost(writers[gofakeit.Number(0, len(writers)-1)].ID, gofakeit.DateRange(oldest, now))
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for _, np := range posts {
		g.Go(func() error {
			p, err := repo.InsertPost(gCtx, np)
			if err != nil {
				return err
			}

			return engage(gCtx, repo, p.ID, students)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("error seeding posts: %s", err)
	}

	slog.Info("seeded posts", "count", len(posts), "database", cfg.Database)
	return nil
}

func fakeAuthors(role string, n int) []classfeed.Author {
	authors := make([]classfeed.Author, 0, n)
	for i := range n {
		name := gofakeit.Name()
		if role == "teacher" {
			name = gofakeit.RandomString([]string{"Mr. ", "Ms. ", "Dr. "}) + gofakeit.LastName()
		}
		authors = append(authors, classfeed.Author{
			ID:        fmt.Sprintf("%s%d", strings.ToLower(gofakeit.Username()), i),
			Name:      name,
			AvatarURL: gofakeit.ImageURL(128, 128),
			Role:      role,
		})
	}
	return authors
}

func fakePost(authorID string, at time.Time) classfeed.NewPost {
	np := classfeed.NewPost{
		AuthorID:  authorID,
		Content:   gofakeit.Paragraph(1, gofakeit.Number(1, 4), 12, " "),
		PostType:  gofakeit.RandomString(postTypes),
		Category:  gofakeit.RandomString(categories),
		Privacy:   "public",
		CreatedAt: at,
	}
	if gofakeit.Number(0, 2) == 0 {
		np.Title = gofakeit.Sentence(gofakeit.Number(3, 8))
	}
	for range gofakeit.Number(0, 3) {
		np.Tags = append(np.Tags, gofakeit.RandomString(tags))
	}
	if gofakeit.Number(0, 9) == 0 {
		np.Privacy = "followers"
	}
	if gofakeit.Number(0, 4) == 0 {
		np.MediaURLs = []string{gofakeit.ImageURL(640, 480)}
	}
	if gofakeit.Number(0, 3) == 0 {
		// Somewhere around the school
		np.Location = &classfeed.Coordinates{
			Lat: 40.7 + gofakeit.Float64Range(-0.2, 0.2),
			Lng: -74.0 + gofakeit.Float64Range(-0.2, 0.2),
		}
	}
	return np
}

// engage has a random handful of students view the post, and some of them
// like it.
func engage(ctx context.Context, repo sqlite.Repo, postID string, students []classfeed.Author) error {
	for range gofakeit.Number(0, len(students)/2) {
		viewer := students[gofakeit.Number(0, len(students)-1)].ID
		if _, err := repo.RecordViews(ctx, viewer, []string{postID}); err != nil {
			return err
		}
		if gofakeit.Number(0, 2) > 0 {
			continue
		}
		if err := repo.SetReaction(ctx, viewer, postID, classfeed.ReactionLike, true); err != nil {
			return err
		}
	}
	return nil
}
