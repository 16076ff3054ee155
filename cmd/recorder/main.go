// Command recorder runs the groundfault ingest daemon: it consumes
// envelopes from the wire and folds them into Postgres.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/groundfault/groundfault/config"
	"github.com/groundfault/groundfault/internal/recorder"
	"github.com/groundfault/groundfault/internal/store"
	"github.com/groundfault/groundfault/internal/store/postgres"
	"github.com/groundfault/groundfault/lib/telemetry"
	"github.com/groundfault/groundfault/transport"
)

const (
	dbConnectTimeout   = 30 * time.Second
	dbMaxPingInterval  = 5 * time.Second
	telemetryStopGrace = 5 * time.Second
	engineCloseGrace   = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		cfgPath  = flag.String("config", "", "Path to YAML configuration file")
		subject  = flag.String("subject", "", "Transport subject override")
		flushArg = flag.Duration("flush", 0, "Flush interval override")
	)
	flag.Parse()
	args := flag.Args()
	if len(args) != 2 {
		return errors.New("usage: recorder [flags] <bind-uri> <database-uri>")
	}
	bindURI, databaseURI := args[0], args[1]

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	cfg.Transport.Endpoint = bindURI
	cfg.Database.DSN = databaseURI
	if *subject != "" {
		cfg.Transport.Subject = *subject
	}
	if *flushArg > 0 {
		cfg.Recorder.FlushInterval = *flushArg
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	defer stop()

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("groundfault recorder starting",
		zap.String("bind", bindURI),
		zap.String("subject", cfg.Transport.Subject),
		zap.String("environment", string(cfg.Environment)))

	telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.Service)
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), telemetryStopGrace)
		defer cancel()
		if err := telemetryShutdown(stopCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	pool, err := connectDatabase(ctx, cfg.Database.DSN, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, cfg.Database.DSN, 0, logger); err != nil {
		return err
	}

	pull, err := transport.ListenPull(bindURI, cfg.Transport.Subject, cfg.Transport.IntakeBuffer)
	if err != nil {
		return fmt.Errorf("bind transport %s: %w", bindURI, err)
	}

	engine := store.NewEngine(postgres.NewSession(pool), logger)
	rec, err := recorder.New(pull, engine,
		recorder.WithFlushInterval(cfg.Recorder.FlushInterval),
		recorder.WithPollSleep(cfg.Recorder.PollSleep),
		recorder.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	logger.Info("recorder listening", zap.String("bind", bindURI))

	var lifecycle conc.WaitGroup
	runErr := make(chan error, 1)
	lifecycle.Go(func() {
		runErr <- rec.Run(ctx)
	})

	err = <-runErr
	lifecycle.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), engineCloseGrace)
	defer cancel()
	if cerr := engine.Close(closeCtx); cerr != nil {
		logger.Warn("engine close", zap.Error(cerr))
	}

	if err != nil {
		logger.Error("recorder terminated", zap.Error(err))
		return err
	}
	logger.Info("recorder shut down cleanly")
	return nil
}

// connectDatabase pings the database with exponential backoff until it
// answers or the connect window closes.
func connectDatabase(ctx context.Context, dsn string, logger *zap.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, dbConnectTimeout)
	defer cancel()

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = dbMaxPingInterval
	for {
		err := pool.Ping(pingCtx)
		if err == nil {
			return pool, nil
		}
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = dbMaxPingInterval
		}
		logger.Warn("database not ready, retrying",
			zap.Duration("retry_in", sleep), zap.Error(err))
		select {
		case <-pingCtx.Done():
			pool.Close()
			return nil, fmt.Errorf("database unreachable: %w", err)
		case <-time.After(sleep):
		}
	}
}
