package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smsrelay/internal/cache"
	"smsrelay/internal/config"
	"smsrelay/internal/constants"
	"smsrelay/internal/database"
	"smsrelay/internal/metrics"
	"smsrelay/internal/models"
	"smsrelay/internal/retry"
	"smsrelay/internal/security"
	"smsrelay/internal/service"
	"smsrelay/internal/tracing"
	"smsrelay/pkg/gateway"
	"smsrelay/pkg/plivo"
	"smsrelay/pkg/source"
	"smsrelay/pkg/twilio"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Version information (set at build time)
	Version   = constants.ServiceVersion
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes message bodies and codes)")
	configPath = flag.String("config", "", "Optional YAML/JSON configuration file; environment variables override it")
	envFile    = flag.String("env-file", ".env", "Path to a .env file loaded before configuration")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("smsrelay %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	if err := config.LoadDotEnv(*envFile); err != nil {
		return err
	}

	path := *configPath
	if path == "" {
		path = os.Getenv("SMSRELAY_CONFIG")
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, logCloser, err := newLogger(cfg.Log, *verbose, os.Stdout)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	logger.WithFields(logrus.Fields{
		"version":  Version,
		"build":    BuildTime,
		"commit":   GitCommit,
		"provider": cfg.Provider,
	}).Info("Starting smsrelay")

	tracingManager := tracing.NewTracingManager(cfg.Tracing, Version, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	db, err := openDatabase(ctx, cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	seen, closeSeen := newSeenCache(ctx, cfg.Redis, logger)
	defer closeSeen()

	src, err := newSource(cfg, logger)
	if err != nil {
		return err
	}

	registry := metrics.NewRegistry()
	ctxWithVerbose := service.WithVerbose(ctx, *verbose)

	poller := service.NewPoller(src, db, seen, registry, pollerConfig(cfg), logger)
	if err := poller.Connect(ctxWithVerbose); err != nil {
		// keep serving; /api/status reports the poller as disconnected
		logger.WithError(err).Error("SMS poller did not start")
	}
	defer poller.Disconnect()

	scheduler := service.NewScheduler(db, registry, cfg.RetentionDays, cfg.Server.CleanupIntervalHours, logger)
	go scheduler.Start(ctx)
	defer scheduler.Stop()

	server := NewServer(cfg, db, poller, registry, logger, *verbose)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newLogger builds the JSON logger. When a log file is configured, output
// is duplicated into a size-rotated file.
func newLogger(cfg models.LogConfig, verbose bool, stdout io.Writer) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(stdout)

	switch {
	case verbose:
		logger.SetLevel(logrus.DebugLevel)
	case cfg.Level != "":
		level, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.Level)
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.File == "" {
		return logger, nopCloser{}, nil
	}

	if err := security.ValidateFilePath(cfg.File); err != nil {
		return nil, nil, fmt.Errorf("invalid log file path: %w", err)
	}
	if err := security.EnsureParentDir(cfg.File); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	logger.SetOutput(io.MultiWriter(stdout, rotator))
	return logger, rotator, nil
}

// openDatabase retries with exponential backoff.
func openDatabase(ctx context.Context, path string, logger *logrus.Logger) (*database.Database, error) {
	backoff := retry.NewBackoff(retry.Config{
		InitialDelay: time.Duration(constants.DefaultBackoffInitialMs) * time.Millisecond,
		MaxDelay:     time.Duration(constants.DefaultBackoffMaxSec) * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})
	backoff.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.WithFields(logrus.Fields{
			service.LogFieldAttempt: attempt,
			"delay_ms":              delay.Milliseconds(),
		}).WithError(err).Warn("Failed to initialize database, retrying")
	}

	var db *database.Database
	err := backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(path)
		return initErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	return db, nil
}

// newSeenCache connects to Redis when configured. Without Redis, or when it
// cannot be reached, the poller relies on the database alone.
func newSeenCache(ctx context.Context, cfg models.RedisConfig, logger *logrus.Logger) (cache.SeenCache, func()) {
	if cfg.Addr == "" {
		return cache.NoopSeenCache{}, func() {}
	}

	rdb, err := cache.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, seen-message cache disabled")
		return cache.NoopSeenCache{}, func() {}
	}

	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Duration(constants.DefaultSeenCacheTTLSec) * time.Second
	}
	logger.WithField("addr", cfg.Addr).Info("Seen-message cache enabled")

	return cache.NewRedisSeenCache(rdb, ttl), func() {
		if err := rdb.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close Redis client")
		}
	}
}

// newSource builds the carrier client selected by SMS_PROVIDER.
func newSource(cfg *models.Config, logger *logrus.Logger) (source.Source, error) {
	httpClient := &http.Client{
		Timeout: time.Duration(constants.DefaultHTTPTimeoutSec) * time.Second,
	}
	pageSize := cfg.Polling.PageSize

	switch cfg.Provider {
	case models.ProviderTwilio:
		return twilio.NewClientWithLogger(twilio.Config{
			BaseURL:    cfg.Twilio.APIBaseURL,
			AccountSID: cfg.Twilio.AccountSID,
			AuthToken:  cfg.Twilio.AuthToken,
			PageSize:   pageSize,
		}, httpClient, logger), nil
	case models.ProviderPlivo:
		return plivo.NewClientWithLogger(plivo.Config{
			BaseURL:   cfg.Plivo.APIBaseURL,
			AuthID:    cfg.Plivo.AuthID,
			AuthToken: cfg.Plivo.AuthToken,
			PageSize:  pageSize,
		}, httpClient, logger), nil
	case models.ProviderGateway:
		return gateway.NewClientWithLogger(gateway.Config{
			BaseURL:  cfg.Gateway.BaseURL,
			Token:    cfg.Gateway.Token,
			PageSize: pageSize,
		}, httpClient, logger), nil
	default:
		return nil, models.ConfigError{Message: fmt.Sprintf("unsupported SMS_PROVIDER %q", cfg.Provider)}
	}
}

func pollerConfig(cfg *models.Config) service.PollerConfig {
	pc := service.PollerConfig{
		PhoneNumber:  cfg.PhoneNumber(),
		Interval:     time.Duration(cfg.Polling.IntervalSec) * time.Second,
		FetchTimeout: time.Duration(cfg.Polling.TimeoutSec) * time.Second,
	}
	if cfg.Polling.LookbackSec > 0 {
		pc.Lookback = time.Duration(cfg.Polling.LookbackSec) * time.Second
	} else {
		pc.Lookback = service.DefaultLookback(cfg.Provider)
	}
	return pc
}
