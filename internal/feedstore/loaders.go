package feedstore

import (
	"context"

	"github.com/jdholdren/classfeed/internal/classfeed"
)

// Default look-back windows for the time sensitive algorithms.
const (
	TrendingWindowHours = 24
	PopularWindowHours  = 24 * 7
)

func (s *Store) LoadSmartFeed(ctx context.Context, q classfeed.FeedQuery) error {
	return s.loadAlgorithm(ctx, classfeed.AlgorithmSmart, q)
}

func (s *Store) LoadFollowingFeed(ctx context.Context, q classfeed.FeedQuery) error {
	return s.loadAlgorithm(ctx, classfeed.AlgorithmFollowing, q)
}

func (s *Store) LoadTrendingFeed(ctx context.Context, q classfeed.FeedQuery) error {
	return s.loadAlgorithm(ctx, classfeed.AlgorithmTrending, q)
}

func (s *Store) LoadRecentFeed(ctx context.Context, q classfeed.FeedQuery) error {
	return s.loadAlgorithm(ctx, classfeed.AlgorithmRecent, q)
}

func (s *Store) LoadPopularFeed(ctx context.Context, q classfeed.FeedQuery) error {
	return s.loadAlgorithm(ctx, classfeed.AlgorithmPopular, q)
}

func (s *Store) LoadPersonalizedFeed(ctx context.Context, q classfeed.FeedQuery) error {
	return s.loadAlgorithm(ctx, classfeed.AlgorithmPersonalized, q)
}

// LoadAlgorithm is the preset shared by the Load*Feed helpers, exposed for
// callers that pick the algorithm at runtime.
func (s *Store) LoadAlgorithm(ctx context.Context, algo classfeed.Algorithm, q classfeed.FeedQuery) error {
	return s.loadAlgorithm(ctx, algo, q)
}

func (s *Store) loadAlgorithm(ctx context.Context, algo classfeed.Algorithm, q classfeed.FeedQuery) error {
	q = q.Clone()
	q.FeedType = algo

	if q.TimeWindowHours == nil {
		switch algo {
		case classfeed.AlgorithmTrending:
			h := TrendingWindowHours
			q.TimeWindowHours = &h
		case classfeed.AlgorithmPopular:
			h := PopularWindowHours
			q.TimeWindowHours = &h
		}
	}

	return s.LoadFeed(ctx, q)
}
