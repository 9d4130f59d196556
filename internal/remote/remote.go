// Package remote is a ranking provider that calls a remote RPC endpoint over
// HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sym01/htmlsanitizer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/jdholdren/classfeed/internal/classfeed"
	seyerrs "github.com/jdholdren/classfeed/internal/errors"
)

var (
	_ classfeed.FeedProvider     = (*Client)(nil)
	_ classfeed.ReactionRecorder = (*Client)(nil)
)

const (
	rankedFeedPath  = "/rpc/get_ranked_feed"
	recordViewsPath = "/rpc/record_post_views"
	analyticsPath   = "/rpc/get_feed_analytics"
	setReactionPath = "/rpc/set_post_reaction"
	recordSharePath = "/rpc/record_post_share"
)

type (
	Config struct {
		BaseURL    string
		Timeout    time.Duration
		MaxRetries uint64

		// OAuth2 client credentials. An empty ClientID sends no token.
		ClientID     string
		ClientSecret string
		TokenURL     string
		Scopes       []string
	}

	Client struct {
		baseURL     string
		httpClient  *http.Client
		maxRetries  uint64
		backoffBase time.Duration
	}
)

// New builds a client. ctx is used for fetching OAuth2 tokens for the life of
// the client.
func New(ctx context.Context, cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	hc := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	if cfg.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		hc = cc.Client(context.WithValue(ctx, oauth2.HTTPClient, hc))
		hc.Timeout = cfg.Timeout
	}

	return &Client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient:  hc,
		maxRetries:  cfg.MaxRetries,
		backoffBase: 100 * time.Millisecond,
	}
}

func (c *Client) RankedFeed(ctx context.Context, req classfeed.FeedRequest) ([]classfeed.Post, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var posts []classfeed.Post
	if err := c.call(ctx, rankedFeedPath, req, &posts); err != nil {
		return nil, err
	}

	// The remote side's content is not trusted.
	santizer := htmlsanitizer.NewHTMLSanitizer()
	for i := range posts {
		content, err := santizer.SanitizeString(posts[i].Content)
		if err != nil {
			return nil, fmt.Errorf("error sanitizing post %s: %w", posts[i].ID, err)
		}
		posts[i].Content = content
	}
	if posts == nil {
		posts = []classfeed.Post{}
	}

	return posts, nil
}

func (c *Client) RecordViews(ctx context.Context, viewerID string, postIDs []string) (int, error) {
	req := struct {
		ViewerID string   `json:"viewer_id"`
		PostIDs  []string `json:"post_ids"`
	}{ViewerID: viewerID, PostIDs: postIDs}

	var resp struct {
		Recorded int `json:"recorded"`
	}
	if err := c.call(ctx, recordViewsPath, req, &resp); err != nil {
		return 0, err
	}

	return resp.Recorded, nil
}

func (c *Client) Analytics(ctx context.Context, viewerID string, from, to time.Time) (classfeed.AnalyticsSummary, error) {
	req := struct {
		ViewerID string    `json:"viewer_id"`
		From     time.Time `json:"from"`
		To       time.Time `json:"to"`
	}{ViewerID: viewerID, From: from.UTC(), To: to.UTC()}

	var summary classfeed.AnalyticsSummary
	if err := c.call(ctx, analyticsPath, req, &summary); err != nil {
		return classfeed.AnalyticsSummary{}, err
	}

	return summary, nil
}

func (c *Client) SetReaction(ctx context.Context, viewerID, postID string, reaction classfeed.Reaction, on bool) error {
	req := struct {
		ViewerID string             `json:"viewer_id"`
		PostID   string             `json:"post_id"`
		Reaction classfeed.Reaction `json:"reaction"`
		On       bool               `json:"on"`
	}{ViewerID: viewerID, PostID: postID, Reaction: reaction, On: on}

	return c.call(ctx, setReactionPath, req, nil)
}

func (c *Client) RecordShare(ctx context.Context, viewerID, postID string) error {
	req := struct {
		ViewerID string `json:"viewer_id"`
		PostID   string `json:"post_id"`
	}{ViewerID: viewerID, PostID: postID}

	return c.call(ctx, recordSharePath, req, nil)
}

// call posts in to path and decodes the response into out, retrying server
// errors and throttling with a Fibonacci backoff.
func (c *Client) call(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("error encoding request: %w", err)
	}

	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewFibonacci(c.backoffBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.do(ctx, path, body, out)
		if err != nil && retryable(ctx, err) {
			slog.WarnContext(ctx, "retrying provider call", "path", path, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) do(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return seyerrs.E(fmt.Errorf("error calling %s: %w", path, err), http.StatusBadGateway, seyerrs.CodeUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(path, resp)
	}
	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return seyerrs.E(fmt.Errorf("error decoding %s response: %w", path, err), http.StatusBadGateway, seyerrs.CodeProvider)
	}
	return nil
}

// decodeError turns an error response into an [seyerrs.Error], keeping the
// provider's code when it sent one.
func decodeError(path string, resp *http.Response) error {
	byts, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return seyerrs.E(fmt.Errorf("error reading %s error response: %w", path, err), resp.StatusCode, seyerrs.CodeProvider)
	}

	sErr := &seyerrs.Error{}
	if err := json.Unmarshal(byts, sErr); err != nil || sErr.Err == nil || sErr.Err.Error() == "" {
		return seyerrs.E(
			fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(byts))),
			resp.StatusCode,
			seyerrs.CodeProvider,
		)
	}

	sErr.Status = resp.StatusCode
	return sErr
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}

	sErr := &seyerrs.Error{}
	if !errors.As(err, &sErr) {
		return false
	}
	return sErr.Status >= http.StatusInternalServerError || sErr.Status == http.StatusTooManyRequests
}
