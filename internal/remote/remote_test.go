package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/classfeed/internal/classfeed"
	seyerrs "github.com/jdholdren/classfeed/internal/errors"
)

func newTestClient(t *testing.T, h http.Handler, retries uint64) *Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := New(context.Background(), Config{BaseURL: srv.URL + "/", MaxRetries: retries})
	c.backoffBase = time.Millisecond
	return c
}

func TestRankedFeed(t *testing.T) {
	var got classfeed.FeedRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, rankedFeedPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id": "p1", "content": "<p onclick=\"steal()\">Read chapter 2</p>", "like_count": 4},
			{"id": "p2", "content": "Quiz on friday"}
		]`))
	}), 0)

	posts, err := c.RankedFeed(context.Background(), classfeed.FeedRequest{
		ViewerID:  "v1",
		FeedQuery: classfeed.FeedQuery{Limit: 2, FeedType: classfeed.AlgorithmTrending, Tags: []string{"math"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "v1", got.ViewerID)
	assert.Equal(t, 2, got.Limit)
	assert.Equal(t, classfeed.AlgorithmTrending, got.FeedType)
	assert.Equal(t, []string{"math"}, got.Tags)

	require.Len(t, posts, 2)
	assert.Equal(t, 4, posts[0].LikeCount)
	assert.Contains(t, posts[0].Content, "Read chapter 2")
	assert.NotContains(t, posts[0].Content, "onclick")
	assert.Equal(t, "Quiz on friday", posts[1].Content)
}

func TestRankedFeed_ValidatesBeforeCalling(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}), 0)

	_, err := c.RankedFeed(context.Background(), classfeed.FeedRequest{ViewerID: "v1", FeedQuery: classfeed.FeedQuery{Offset: -1}})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, seyerrs.StatusOf(err))
	assert.Zero(t, calls.Load())
}

func TestCall_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retries   uint64
		wantCalls int32
		wantCode  seyerrs.Code
	}{
		{
			name:      "client errors are not retried",
			status:    http.StatusBadRequest,
			body:      `{"message": "bad limit", "code": "invalid_query", "status": 400}`,
			retries:   3,
			wantCalls: 1,
			wantCode:  seyerrs.CodeInvalidQuery,
		},
		{
			name:      "throttling is retried and keeps the provider code",
			status:    http.StatusTooManyRequests,
			body:      `{"message": "slow down", "code": "rate_limited"}`,
			retries:   2,
			wantCalls: 3,
			wantCode:  "rate_limited",
		},
		{
			name:      "unstructured bodies get the provider code",
			status:    http.StatusInternalServerError,
			body:      "upstream exploded",
			retries:   1,
			wantCalls: 2,
			wantCode:  seyerrs.CodeProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}), tt.retries)

			_, err := c.RecordViews(context.Background(), "v1", []string{"p1"})
			require.Error(t, err)

			var sErr *seyerrs.Error
			require.ErrorAs(t, err, &sErr)
			assert.Equal(t, tt.status, sErr.Status)
			assert.Equal(t, tt.wantCode, sErr.Code)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestCall_RecoversAfterRetry(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"recorded": 2}`))
	}), 2)

	n, err := c.RecordViews(context.Background(), "v1", []string{"p1", "p2"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAnalytics(t *testing.T) {
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(7 * 24 * time.Hour)

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, analyticsPath, r.URL.Path)

		var req struct {
			ViewerID string    `json:"viewer_id"`
			From     time.Time `json:"from"`
			To       time.Time `json:"to"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "v1", req.ViewerID)
		assert.True(t, req.From.Equal(from))
		assert.True(t, req.To.Equal(to))

		w.Write([]byte(`{"posts_available": 10, "posts_viewed": 4, "engagement_actions": 2, "top_categories": ["math"], "engagement_rate": 0.5}`))
	}), 0)

	summary, err := c.Analytics(context.Background(), "v1", from, to)
	require.NoError(t, err)
	assert.Equal(t, classfeed.AnalyticsSummary{
		PostsAvailable:    10,
		PostsViewed:       4,
		EngagementActions: 2,
		TopCategories:     []string{"math"},
		EngagementRate:    0.5,
	}, summary)
}

func TestReactions(t *testing.T) {
	var paths []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "v1", body["viewer_id"])
		assert.Equal(t, "p1", body["post_id"])
		w.WriteHeader(http.StatusNoContent)
	}), 0)

	require.NoError(t, c.SetReaction(context.Background(), "v1", "p1", classfeed.ReactionLike, true))
	require.NoError(t, c.RecordShare(context.Background(), "v1", "p1"))
	assert.Equal(t, []string{setReactionPath, recordSharePath}, paths)
}

func TestClientCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "tok", "token_type": "bearer", "expires_in": 3600}`))
	})
	mux.HandleFunc(recordSharePath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := New(context.Background(), Config{
		BaseURL:      srv.URL,
		ClientID:     "feed",
		ClientSecret: "secret",
		TokenURL:     srv.URL + "/token",
	})
	require.NoError(t, c.RecordShare(context.Background(), "v1", "p1"))
}
