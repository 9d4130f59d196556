// Package api provides the BFF server for the client side application.
//
// It holds one feed store per signed in viewer and exposes the store's
// operations over JSON.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/securecookie"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/jdholdren/classfeed/internal/classfeed"
	seyerrs "github.com/jdholdren/classfeed/internal/errors"
	"github.com/jdholdren/classfeed/internal/feedstore"
	"github.com/jdholdren/classfeed/internal/serverutil"
)

const defaultStoreCapacity = 1024

type (
	// Server is the BFF. Every authed request is served from the viewer's own
	// [feedstore.Store].
	Server struct {
		*http.Server

		stores *stores
		deps   Deps

		ghOauthConfig  oauth2.Config
		secureCookie   *securecookie.SecureCookie
		httpsCookies   bool   // Whether or not HTTPS should be used for cookies
		ssoRedirectURL string // URL to redirect to after successful SSO login
	}

	ServerConfig struct {
		Port               int
		CookieHashKey      []byte
		CookieBlockKey     []byte
		HttpsCookies       bool
		GithubClientID     string
		GithubClientSecret string
		CorsHeader         string
		SSORedirectURL     string
		// How many viewer stores stay in memory before the least recently used
		// one is closed.
		StoreCapacity int

		DebugEndpoints bool
	}

	// Deps are the backends every viewer store shares. Only Provider is
	// required.
	Deps struct {
		Provider   classfeed.FeedProvider
		Reactions  classfeed.ReactionRecorder
		Engagement classfeed.EngagementSource
		PostEvents classfeed.PostEventSource
		// Optional. Pushed posts fall back to public and own posts without it.
		Visibility classfeed.VisibilityChecker

		// With both set, confirmed likes and shares are pushed to other viewers.
		Counters  EngagementReader
		Publisher EngagementPublisher
	}

	EngagementReader interface {
		Engagement(ctx context.Context, postID string) (classfeed.EngagementDelta, error)
	}

	EngagementPublisher interface {
		PublishEngagement(ctx context.Context, d classfeed.EngagementDelta) (int64, error)
	}
)

func NewServer(config ServerConfig, deps Deps) *Server {
	if config.StoreCapacity <= 0 {
		config.StoreCapacity = defaultStoreCapacity
	}

	r := serverutil.ErrRouter{Router: mux.NewRouter()}
	srvr := &Server{
		deps:           deps,
		secureCookie:   securecookie.New(config.CookieHashKey, config.CookieBlockKey),
		httpsCookies:   config.HttpsCookies,
		ssoRedirectURL: config.SSORedirectURL,
		ghOauthConfig: oauth2.Config{
			ClientID:     config.GithubClientID,
			ClientSecret: config.GithubClientSecret,
			Scopes:       []string{},
			Endpoint:     github.Endpoint,
		},
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			Handler: otelhttp.NewHandler(handlers.CORS(
				handlers.AllowedOrigins([]string{config.CorsHeader}),
				handlers.AllowCredentials(),
				handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
				handlers.AllowedHeaders([]string{"content-type", serverutil.RequestIDHeader}),
			)(r), "classfeed-api"),
		},
	}
	srvr.stores = newStores(config.StoreCapacity, srvr.newStore)

	r.Use(serverutil.RequestIDMiddleware, serverutil.AccessLogMiddleware)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFuncE("/api/viewer", srvr.handleViewer).Methods(http.MethodGet)
	r.HandleFuncE("/api/sso-login", srvr.handleSSORedirect).Methods(http.MethodGet)
	r.HandleFuncE("/api/sso-callback", srvr.handleSSOCallback).Methods(http.MethodGet)
	r.HandleFuncE("/api/logout", srvr.getLogout).Methods(http.MethodGet)
	r.HandleFuncE("/api/session", srvr.deleteSession).Methods(http.MethodDelete)

	if config.DebugEndpoints {
		// For local testing
		r.HandleFuncE("/api/session", srvr.handleDebugLogin).Methods(http.MethodPost)
	}

	authed := serverutil.ErrRouter{Router: r.NewRoute().Subrouter()}
	authed.Use(requireSessionMiddleware(srvr.secureCookie))

	// Feed
	authed.HandleFuncE("/api/feed", srvr.getFeed).Methods(http.MethodGet)
	authed.HandleFuncE("/api/feed", srvr.postFeed).Methods(http.MethodPost)
	authed.HandleFuncE("/api/feed:refresh", srvr.postRefresh).Methods(http.MethodPost)
	authed.HandleFuncE("/api/feed:more", srvr.postMore).Methods(http.MethodPost)
	authed.HandleFuncE("/api/feed/pending:apply", srvr.postApplyPending).Methods(http.MethodPost)
	authed.HandleFuncE("/api/feed/{algorithm:[a-z]+}", srvr.postAlgorithmFeed).Methods(http.MethodPost)

	// Interactions
	authed.HandleFuncE("/api/posts/{postID}/like", srvr.postLike).Methods(http.MethodPost)
	authed.HandleFuncE("/api/posts/{postID}/save", srvr.postSave).Methods(http.MethodPost)
	authed.HandleFuncE("/api/posts/{postID}/share", srvr.postShare).Methods(http.MethodPost)
	authed.HandleFuncE("/api/posts/{postID}/view", srvr.postView).Methods(http.MethodPost)
	authed.HandleFuncE("/api/interactions", srvr.getInteractions).Methods(http.MethodGet)
	authed.HandleFuncE("/api/analytics", srvr.getAnalytics).Methods(http.MethodGet)

	// Real-time subscriptions
	authed.HandleFuncE("/api/posts/{postID}/subscription", srvr.postSubscription).Methods(http.MethodPost)
	authed.HandleFuncE("/api/posts/{postID}/subscription", srvr.deleteSubscription).Methods(http.MethodDelete)
	authed.HandleFuncE("/api/subscriptions", srvr.getSubscriptions).Methods(http.MethodGet)
	authed.HandleFuncE("/api/subscriptions", srvr.deleteSubscriptions).Methods(http.MethodDelete)

	slog.Debug("configured api server", "port", config.Port)

	return srvr
}

// Shutdown stops serving and then closes every viewer store.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Server.Shutdown(ctx)
	s.stores.closeAll()
	return err
}

// newStore builds a viewer's store and starts listening for post events when
// push is configured.
func (s *Server) newStore(viewerID string) *feedstore.Store {
	st := feedstore.New(feedstore.Config{
		ViewerID:   viewerID,
		Provider:   s.deps.Provider,
		Reactions:  s.deps.Reactions,
		Engagement: s.deps.Engagement,
		PostEvents: s.deps.PostEvents,
		Visibility: s.deps.Visibility,
	})

	if s.deps.PostEvents != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.SubscribePostEvents(ctx); err != nil {
			slog.Error("error subscribing to post events", "viewer_id", viewerID, "error", err)
		}
	}

	return st
}

// apiErr gives domain errors their HTTP status.
func apiErr(err error) error {
	if errors.Is(err, classfeed.ErrNotFound) {
		return seyerrs.E(err, http.StatusNotFound)
	}
	return err
}
