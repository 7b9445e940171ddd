package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	slogmulti "github.com/samber/slog-multi"

	"github.com/WSH032/booru-dl/internal/booru"
	"github.com/WSH032/booru-dl/internal/config"
	"github.com/WSH032/booru-dl/internal/logctx"
	"github.com/WSH032/booru-dl/internal/notifier"
	"github.com/WSH032/booru-dl/internal/scheduler"
)

func main() {
	cfg, err := resolveConfig(os.Args[1:])
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger, closeLog, err := buildLogger(cfg)
	if err != nil {
		slog.Error("logging setup error", "err", err)
		os.Exit(1)
	}

	defer closeLog()

	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		logger.Error("fatal error", "err", err)
		closeLog()
		os.Exit(1)
	}
}

// resolveConfig picks the config source: an explicit file argument wins,
// then the environment, and finally the interactive editor flow.
func resolveConfig(args []string) (*config.Config, error) {
	if len(args) > 0 {
		return config.Load(args[0])
	}

	if os.Getenv("BOORU_DL_TAGS") != "" {
		return config.FromEnv()
	}

	return config.FromEditor()
}

// buildLogger writes human-readable logs to stderr, fanned out to a JSON log
// file when one is configured.
func buildLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	stderrHandler := slog.NewTextHandler(os.Stderr, opts)

	if cfg.LogFile == "" {
		return slog.New(stderrHandler), func() {}, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	handler := slogmulti.Fanout(stderrHandler, slog.NewJSONHandler(f, opts))

	return slog.New(handler), func() { f.Close() }, nil
}

func buildClient(timeoutSecs uint64) *http.Client {
	client := &http.Client{}
	if timeoutSecs > 0 {
		client.Timeout = time.Duration(timeoutSecs) * time.Second
	}

	return client
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	client := buildClient(cfg.Timeout)

	logger.Info("fetching post data", "tags", cfg.Tags, "num_imgs", cfg.NumImages)

	posts, err := booru.NewClient(client, booru.DefaultBaseURL).Posts(ctx, cfg.Tags, cfg.NumImages)
	if err != nil {
		return fmt.Errorf("failed to get data from the post api: %w", err)
	}

	if len(posts) == 0 {
		fmt.Printf("There is no post found with the given tags: %s\n", cfg.Tags)

		return nil
	}

	sched := scheduler.New(client, cfg.DownloadDir, cfg.Parallelism())

	status, err := sched.Run(ctx, posts)
	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		logger.Warn("run interrupted; partially downloaded files will be redone on the next run",
			"processed", status.Processed(), "total", len(posts))
	}

	if cfg.WebhookURL != "" {
		notif := notifier.NewWebhook(client, cfg.WebhookURL)

		msg := fmt.Sprintf("booru-dl finished: done:%d existed:%d failed:%d",
			status.Done, status.Existed, status.Failed)
		// Use a fresh context: the run context may already be cancelled by
		// the interrupt that ended the run.
		if notifyErr := notif.Notify(context.Background(), msg); notifyErr != nil {
			logger.Error("failed to send notification", "err", notifyErr)
		}
	}

	return nil
}
