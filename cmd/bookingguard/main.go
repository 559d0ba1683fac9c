package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/example/booking-guard/internal/application"
	"github.com/example/booking-guard/internal/config"
	"github.com/example/booking-guard/internal/coordination"
	httptransport "github.com/example/booking-guard/internal/http"
	"github.com/example/booking-guard/internal/logging"
	"github.com/example/booking-guard/internal/persistence/sqlite"
	"github.com/example/booking-guard/internal/persistence/sqlite/migration"
	"github.com/example/booking-guard/internal/queue"
	"github.com/example/booking-guard/internal/source"
)

type options struct {
	envFile string
	once    bool
	user    string
	noServe bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "bookingguard:", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("bookingguard", pflag.ContinueOnError)
	fs.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	fs.BoolVar(&opts.once, "once", false, "run a single scan pass and exit")
	fs.StringVar(&opts.user, "user", "", "restrict scans to this roster email")
	fs.BoolVar(&opts.noServe, "no-serve", false, "do not start the HTTP API")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.LoadFile(opts.envFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	roster, err := config.LoadRoster(cfg.RosterPath)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	users, err := selectUsers(roster, opts.user)
	if err != nil {
		return err
	}

	storage, err := sqlite.Open(migration.DefaultSQLiteConfig(cfg.SQLitePath))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if cerr := storage.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if cfg.MigrationsEnabled {
		if err := storage.Migrate(ctx, logger); err != nil {
			return err
		}
	}

	now := time.Now
	submissionLog := application.NewSubmissionLogWithLogger(newSubmissionRepositoryAdapter(storage.Submissions()), nil, now, cfg.RetentionDays, logger)
	scans := newScanResultAdapter(storage.ScanResults())
	submissionLog.PruneAlongside(scans)

	deps := application.ScanDependencies{
		Source:   source.NewFileSource(cfg.SessionsDir, logger),
		Log:      submissionLog,
		Recorder: scans,
	}

	if cfg.AMQPURL != "" {
		publisher := queue.NewPublisher(cfg.AMQPURL, nil, logger)
		defer func() { _ = publisher.Close() }()
		deps.Notifier = publisher
		deps.Executor = publisher
	}

	if cfg.RedisAddr != "" {
		client, err := coordination.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		deps.Guard = coordination.NewRedisGuard(client, coordination.DefaultLockTTL, logger)
	}

	service := application.NewScanServiceWithLogger(deps, nil, now, logger)
	runner := application.NewScanRunner(service, cfg.ScanConcurrency, logger)

	var consumer *queue.Consumer
	if cfg.AMQPURL != "" {
		consumer = queue.NewConsumer(cfg.AMQPURL, nil, service, logger)
	}

	if opts.once {
		if _, err := submissionLog.Prune(ctx); err != nil {
			logger.WarnContext(ctx, "failed to prune expired records", "error", err)
		}
		summary := runner.RunOnce(ctx, users)
		if summary.Failed > 0 {
			return fmt.Errorf("%d of %d scans failed", summary.Failed, summary.Scanned+summary.Skipped+summary.Failed)
		}
		return nil
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return runner.Run(ctx, cfg.ScanInterval, users)
	})
	if consumer != nil {
		group.Go(func() error {
			return consumer.Run(ctx)
		})
	}
	if !opts.noServe {
		router := httptransport.NewRouter(httptransport.RouterConfig{
			Service:      service,
			Users:        roster,
			APITokenHash: cfg.APITokenHash,
			Logger:       logger,
		})
		group.Go(func() error {
			return serve(ctx, router, cfg.HTTPPort, logger)
		})
	}
	return group.Wait()
}

func selectUsers(roster *config.Roster, email string) ([]application.UserProfile, error) {
	if strings.TrimSpace(email) == "" {
		return roster.Profiles(), nil
	}
	profile, ok := roster.Lookup(email)
	if !ok {
		return nil, fmt.Errorf("user %q is not in the roster", email)
	}
	profile.AutoBooking = true
	return []application.UserProfile{profile}, nil
}

func serve(ctx context.Context, handler http.Handler, port int, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("booking guard API listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return ctx.Err()
}
