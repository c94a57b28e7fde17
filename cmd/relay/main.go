package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"eventRelay/internal/config"
	"eventRelay/internal/decoder"
	"eventRelay/internal/dispatch"
	"eventRelay/internal/fetcher"
	"eventRelay/internal/history"
	"eventRelay/internal/ingest"
	"eventRelay/internal/registry"
	"eventRelay/internal/server"
	"eventRelay/internal/source"
	"eventRelay/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:          "relay",
		Short:        "NEAR event relay",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the relay",
		RunE:  runRelay,
	}

	runCmd.Flags().String("source", config.SourceHTTP, "row source (http or postgres)")
	runCmd.Flags().String("source-url", "https://mainnet.neardata.xyz/v0", "block API base URL")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN (postgres source)")
	runCmd.Flags().String("listen-addr", ":3000", "HTTP listen address")
	runCmd.Flags().String("data-dir", "./data", "durable state directory")
	runCmd.Flags().Int("history-limit", 10000, "history soft limit per row kind")
	runCmd.Flags().Int("default-limit", 100, "default query limit")
	runCmd.Flags().Int("max-limit", 10000, "maximum query limit")
	runCmd.Flags().Uint64("start-height", 0, "starting height override, 0 resumes or follows head")
	runCmd.Flags().Duration("poll-delay", time.Second, "delay between ingestion cycles")
	runCmd.Flags().Duration("post-timeout", time.Second, "webhook delivery timeout")
	runCmd.Flags().Duration("save-interval", 10*time.Second, "webhook subscription flush interval")
	runCmd.Flags().Int("fetch-attempts", 10, "fetch attempts per height")
	runCmd.Flags().Duration("fetch-timeout-start", 2*time.Second, "initial fetch timeout")
	runCmd.Flags().Duration("fetch-timeout-step", 500*time.Millisecond, "fetch timeout increase per failure")
	runCmd.Flags().Duration("fetch-sleep-start", 100*time.Millisecond, "initial inter-attempt sleep")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRelay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := store.NewFileStore(cfg.DataDir)

	reg := registry.New(st, logger.Named("registry"))
	if err := reg.Load(); err != nil {
		return err
	}
	go reg.RunFlusher(ctx, cfg.SaveInterval)

	events := history.New(cfg.HistoryLimit)
	actions := history.New(cfg.HistoryLimit)
	dispatcher := dispatch.New(reg, cfg.PostTimeout, logger.Named("dispatch"))

	srv := server.New(server.Config{
		DefaultLimit: cfg.DefaultLimit,
		MaxLimit:     cfg.MaxLimit,
	}, events, actions, reg, logger.Named("server"))

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Handler()}
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
			stop()
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	}()

	runCfg := ingest.RunConfig{StartHeight: cfg.StartHeight, PollDelay: cfg.PollDelay}

	var runErr error
	switch cfg.Source {
	case config.SourcePostgres:
		pg, err := source.NewPGSource(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		runner := ingest.NewTableRunner(runCfg, pg, events, dispatcher, st, logger.Named("ingest"))
		runErr = runner.Run(ctx)
	default:
		client := source.NewClient(cfg.SourceURL, logger.Named("source"))
		blockFetcher := fetcher.New(client, fetcher.Config{
			Attempts:     cfg.FetchAttempts,
			TimeoutStart: cfg.FetchTimeoutStart,
			TimeoutStep:  cfg.FetchTimeoutStep,
			SleepStart:   cfg.FetchSleepStart,
		}, logger.Named("fetcher"))
		runner := ingest.NewRunner(runCfg, blockFetcher, decoder.New(logger.Named("decoder")),
			events, actions, dispatcher, st, logger.Named("ingest"))
		runErr = runner.Run(ctx)
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
