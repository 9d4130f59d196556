// Classfeed-Relay republishes upstream post and engagement changes from kafka
// onto the redis channels the API listens to.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-envconfig"
	"github.com/sethvargo/go-retry"
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/jdholdren/classfeed/internal/logger"
	"github.com/jdholdren/classfeed/internal/push"
	"github.com/jdholdren/classfeed/internal/relay"
)

type config struct {
	KafkaBrokers []string `env:"KAFKA_BROKERS, required"`
	KafkaTopic   string   `env:"KAFKA_TOPIC, default=classfeed.posts"`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID, default=classfeed-relay"`
	RedisAddr    string   `env:"REDIS_ADDR, required"`

	// Serves /metrics
	MetricsPort int `env:"METRICS_PORT, default=4445"`

	LoggerFormat string     `env:"LOGGER_FORMAT, default=text"`
	LogLevel     slog.Level `env:"LOG_LEVEL, default=info"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(logger.New(os.Stdout, cfg.LoggerFormat, cfg.LogLevel))

	if err := runRelay(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func runRelay(ctx context.Context, cfg config) error {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	// Retry until redis is ready
	if err := retry.Fibonacci(ctx, 1*time.Second, func(ctx context.Context) error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("waiting for redis", "addr", cfg.RedisAddr, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("error connecting to redis: %s", err)
	}

	reader := relay.NewReader(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaTopic)
	defer reader.Close()

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	relayCtx, cancel := context.WithCancel(ctx)
	g.Add(func() error {
		slog.Info("relaying", "topic", cfg.KafkaTopic, "group_id", cfg.KafkaGroupID)
		return relay.New(reader, push.NewPublisher(rdb)).Run(relayCtx)
	}, func(error) {
		cancel()
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metrics := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Add(func() error {
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error serving metrics: %s", err)
		}
		return nil
	}, func(error) {
		downCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := metrics.Shutdown(downCtx); err != nil {
			slog.Error("error shutting down metrics server", "error", err)
		}
	})

	err := g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		slog.Info("shutting down", "reason", err)
		return nil
	}
	return err
}
