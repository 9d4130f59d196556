// Classfeed-API is the BFF for the classroom feed.
//
// Without PROVIDER_URL it ranks feeds out of the local sqlite database. With
// REDIS_ADDR it also pushes live engagement and post events to viewers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-envconfig"
	"github.com/sethvargo/go-retry"
	_ "golang.org/x/crypto/x509roots/fallback"
	"golang.org/x/sync/errgroup"

	"github.com/jdholdren/classfeed/internal/api"
	"github.com/jdholdren/classfeed/internal/logger"
	"github.com/jdholdren/classfeed/internal/migrations"
	"github.com/jdholdren/classfeed/internal/push"
	"github.com/jdholdren/classfeed/internal/remote"
	"github.com/jdholdren/classfeed/internal/sqlite"
)

type config struct {
	Database string `env:"DATABASE, default=classfeed.db"`

	// A remote ranking provider. Empty ranks out of the local database.
	ProviderURL          string        `env:"PROVIDER_URL"`
	ProviderTimeout      time.Duration `env:"PROVIDER_TIMEOUT, default=5s"`
	ProviderRetries      uint64        `env:"PROVIDER_RETRIES, default=3"`
	ProviderClientID     string        `env:"PROVIDER_CLIENT_ID"`
	ProviderClientSecret string        `env:"PROVIDER_CLIENT_SECRET"`
	ProviderTokenURL     string        `env:"PROVIDER_TOKEN_URL"`

	// Empty turns off real-time updates.
	RedisAddr string `env:"REDIS_ADDR"`

	Port               int    `env:"PORT, default=4444"`
	HTTPSCookies       bool   `env:"HTTPS_COOKIES, default=false"`
	GithubClientID     string `env:"GITHUB_CLIENT_ID"`
	GithubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	CookieHashKey      string `env:"COOKIE_HASH_KEY, required"`
	CookieBlockKey     string `env:"COOKIE_BLOCK_KEY"`
	CorsHeader         string `env:"CORS_HEADER, default=http://localhost:5173"`
	SSORedirectURL     string `env:"SSO_REDIRECT_URL"`
	StoreCapacity      int    `env:"STORE_CAPACITY, default=1024"`
	DebugEndpoints     bool   `env:"DEBUG_ENDPOINTS, default=false"`

	// Which format to use for logging: either text or json
	LoggerFormat string     `env:"LOGGER_FORMAT, default=text"`
	LogLevel     slog.Level `env:"LOG_LEVEL, default=info"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(logger.New(os.Stdout, cfg.LoggerFormat, cfg.LogLevel))

	// Start the application
	if err := run(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config) error {
	if cfg.OTLPEndpoint != "" {
		shutdown, err := configOTEL(ctx, "classfeed-api")
		if err != nil {
			return err
		}
		defer func() {
			downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			defer cancel()
			if err := shutdown(downCtx); err != nil {
				slog.Error("error shutting down tracer", "error", err)
			}
		}()
	}

	deps, closeDeps, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDeps()

	s := api.NewServer(api.ServerConfig{
		Port:               cfg.Port,
		GithubClientID:     cfg.GithubClientID,
		GithubClientSecret: cfg.GithubClientSecret,
		CookieHashKey:      []byte(cfg.CookieHashKey),
		CookieBlockKey:     []byte(cfg.CookieBlockKey),
		HttpsCookies:       cfg.HTTPSCookies,
		CorsHeader:         cfg.CorsHeader,
		SSORedirectURL:     cfg.SSORedirectURL,
		StoreCapacity:      cfg.StoreCapacity,
		DebugEndpoints:     cfg.DebugEndpoints,
	}, deps)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("serving", "port", cfg.Port)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error listening: %s", err)
		}

		return nil
	})
	g.Go(func() error {
		// Block from shutting down until the group is canceled
		<-gCtx.Done()

		downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(downCtx); err != nil {
			slog.Error("error shutting down server", "error", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("error running: %s", err)
	}

	return nil
}

// buildDeps picks the ranking provider and, with redis, the push transport.
// The returned func releases whatever was opened.
func buildDeps(ctx context.Context, cfg config) (api.Deps, func(), error) {
	var (
		deps    api.Deps
		closers []func() error
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				slog.Error("error closing dependency", "error", err)
			}
		}
	}

	if cfg.ProviderURL != "" {
		client := remote.New(ctx, remote.Config{
			BaseURL:      cfg.ProviderURL,
			Timeout:      cfg.ProviderTimeout,
			MaxRetries:   cfg.ProviderRetries,
			ClientID:     cfg.ProviderClientID,
			ClientSecret: cfg.ProviderClientSecret,
			TokenURL:     cfg.ProviderTokenURL,
		})
		deps.Provider = client
		deps.Reactions = client
		slog.Info("using remote provider", "url", cfg.ProviderURL)
	} else {
		dbx, err := sqlite.Open(cfg.Database)
		if err != nil {
			return api.Deps{}, nil, fmt.Errorf("error opening database: %s", err)
		}
		closers = append(closers, dbx.Close)

		// Run all migrations
		if err := migrations.Run(dbx); err != nil {
			closeAll()
			return api.Deps{}, nil, fmt.Errorf("error running migrations: %s", err)
		}

		repo := sqlite.New(dbx)
		deps.Provider = repo
		deps.Reactions = repo
		deps.Counters = repo
		deps.Visibility = repo
		slog.Info("using local provider", "database", cfg.Database)
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		closers = append(closers, rdb.Close)

		// Retry until redis is ready
		if err := retry.Fibonacci(ctx, 1*time.Second, func(ctx context.Context) error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				slog.Warn("waiting for redis", "addr", cfg.RedisAddr, "error", err)
				return retry.RetryableError(err)
			}
			return nil
		}); err != nil {
			closeAll()
			return api.Deps{}, nil, fmt.Errorf("error connecting to redis: %s", err)
		}

		src := push.NewSource(rdb)
		deps.Engagement = src
		deps.PostEvents = src
		deps.Publisher = push.NewPublisher(rdb)
	}

	return deps, closeAll, nil
}
