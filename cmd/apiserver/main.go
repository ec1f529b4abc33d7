package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/jinjupeng/item-apiserver/cmd/apiserver/cli"
	"github.com/jinjupeng/item-apiserver/internal/app"
	"github.com/jinjupeng/item-apiserver/internal/observability"
	"github.com/jinjupeng/item-apiserver/internal/platform/cache"
	"github.com/jinjupeng/item-apiserver/internal/platform/db"
	"github.com/jinjupeng/item-apiserver/jobs"
)

const usage = `usage: apiserver [command] [flags]

commands:
  serve          run the HTTP API (default)
  check          scan tree families for broken invariants
  enqueue-scan   queue an integrity scan for the worker
  queue          print default queue statistics`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	command := "serve"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	switch command {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "check":
		os.Exit(check(ctx, cfg, logger, args))
	case "enqueue-scan":
		err = enqueueScan(ctx, cfg, args)
	case "queue":
		err = queueStats(cfg)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(command, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, serving from postgres", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	modules := app.NewModules(app.ModuleParams{
		Config:  cfg,
		Pool:    dbpool,
		Redis:   redisClient,
		Metrics: metrics,
		Logger:  logger,
	})

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	params := app.RouterParamsFromModules(modules)
	params.Logger = logger
	params.Config = cfg
	params.Metrics = metrics
	params.JobHandler = jobs.NewHandler(inspector, jobClient, modules.Guard, logger)
	router := app.NewRouter(params)

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func check(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	families := fs.String("families", "", "comma separated family names (default all)")
	repair := fs.Bool("repair", false, "rewrite wrong leaf flags")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return cli.ExitError
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return cli.ExitError
	}
	defer dbpool.Close()

	modules := app.NewModules(app.ModuleParams{Config: cfg, Pool: dbpool, Logger: logger})
	scan := jobs.NewIntegrityScanJob(modules.IntegrityCheckers(), logger, nil)
	return cli.NewIntegrityCLI(scan).CheckCommand(ctx, cli.IntegrityCheckOptions{
		Families:   splitList(*families),
		Repair:     *repair,
		JSONOutput: *asJSON,
	})
}

func enqueueScan(ctx context.Context, cfg *app.Config, args []string) error {
	fs := flag.NewFlagSet("enqueue-scan", flag.ContinueOnError)
	families := fs.String("families", "", "comma separated family names (default all)")
	repair := fs.Bool("repair", false, "rewrite wrong leaf flags")
	if err := fs.Parse(args); err != nil {
		return err
	}
	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer jobsCLI.Close()
	info, err := jobsCLI.TriggerIntegrityScan(ctx, splitList(*families), *repair)
	if err != nil {
		return err
	}
	fmt.Printf("enqueued %s on %s\n", info.ID, info.Queue)
	return nil
}

func queueStats(cfg *app.Config) error {
	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer jobsCLI.Close()
	stats, err := jobsCLI.InspectQueue()
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(stats)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
