package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lsm/streamview/internal/commit"
	"github.com/lsm/streamview/internal/config"
	"github.com/lsm/streamview/internal/dlq"
	"github.com/lsm/streamview/internal/gateway"
	"github.com/lsm/streamview/internal/materialize/raw"
	"github.com/lsm/streamview/internal/materialize/table"
	celmerge "github.com/lsm/streamview/internal/materialize/table/cel"
	"github.com/lsm/streamview/internal/observability"
	"github.com/lsm/streamview/internal/pipeline"
	"github.com/lsm/streamview/internal/schema"
	kafkasource "github.com/lsm/streamview/internal/source/kafka"
	"github.com/lsm/streamview/internal/store"
	"github.com/lsm/streamview/internal/store/leveldb"
	"github.com/lsm/streamview/internal/store/memory"
	"github.com/lsm/streamview/internal/store/sqlite"
	"github.com/lsm/streamview/internal/tracing"
)

const (
	serviceName     = "streamview"
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	level := new(slog.LevelVar)
	logger := observability.NewLogger(serviceName, level)
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Environ())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level.Set(observability.ParseLogLevel(cfg.LogLevel))

	tracer, shutdownTracing, err := tracing.Initialize(cfg.Tracing(serviceName), logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Error("tracing shutdown error", "error", err)
		}
	}()

	// Setup metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(reg)

	p, gw, err := build(cfg, logger, metrics, tracer)
	if err != nil {
		return err
	}

	health := observability.NewHealthServer()
	gatewayServer := &http.Server{Addr: cfg.GatewayAddr(), Handler: gw.Routes()}
	adminServer := &http.Server{Addr: cfg.MetricsAddr, Handler: health.AdminHandler(reg)}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Run(gctx)
	})
	g.Go(func() error {
		return serve(gctx, gatewayServer, "gateway", logger)
	})
	g.Go(func() error {
		return serve(gctx, adminServer, "metrics", logger)
	})
	if cfg.ConfigFile != "" {
		g.Go(func() error {
			if err := config.NewWatcher(cfg.ConfigFile, level, logger).Watch(gctx); err != nil {
				logger.Error("config watcher error", "error", err)
			}
			return nil
		})
	}

	health.SetReady(true)
	logger.Info("streamview running",
		"topic", cfg.Topic,
		"group", cfg.GroupID,
		"client_id", cfg.ClientID,
		"gateway_addr", cfg.GatewayAddr(),
		"metrics_addr", cfg.MetricsAddr,
	)

	runErr := g.Wait()

	// Graceful shutdown: the servers are stopped, drain offsets and close stores.
	health.SetReady(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := p.Shutdown(shutdownCtx); err != nil {
		logger.Error("pipeline shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return runErr
}

// serve runs srv until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, name string, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "server", name, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "server", name, "error", err)
	}
	return nil
}

func build(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics, tracer trace.Tracer) (*pipeline.Pipeline, *gateway.Handler, error) {
	var closers []func() error
	fail := func(err error) (*pipeline.Pipeline, *gateway.Handler, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, nil, err
	}

	rawStore, err := leveldb.Open(cfg.RawStorePath)
	if err != nil {
		return fail(fmt.Errorf("open raw store: %w", err))
	}
	closers = append(closers, rawStore.Close)
	rawView := raw.New(rawStore)

	tableStore, err := openTableStore(cfg.TableStorePath)
	if err != nil {
		return fail(fmt.Errorf("open table store: %w", err))
	}
	closers = append(closers, tableStore.Close)

	tableOpts, err := tableOptions(cfg)
	if err != nil {
		return fail(err)
	}
	tableView := table.New(tableStore, tableOpts...)

	src, err := kafkasource.NewSource(kafkasource.Config{
		Cluster:       cfg.Cluster(),
		Topic:         cfg.Topic,
		ConsumerGroup: cfg.GroupID,
		Tuning:        cfg.Tuning(),
		Concurrency:   cfg.Concurrency,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("create kafka source: %w", err))
	}
	closers = append(closers, src.Close)
	src.SetTracer(tracer)

	coord := commit.New(src, cfg.Policy(), logger, metrics)
	coord.SetTracer(tracer)
	coord.SetDrainRetry(cfg.Retry())

	opts := []pipeline.Option{
		pipeline.WithMetrics(metrics),
		pipeline.WithLogger(logger),
		pipeline.WithTracer(tracer),
	}
	if cfg.DeadLetterTopic != "" {
		pub, err := kafkasource.NewPublisher(cfg.Cluster(), cfg.Tuning())
		if err != nil {
			return fail(fmt.Errorf("create dead-letter publisher: %w", err))
		}
		opts = append(opts, pipeline.WithDeadLetter(dlq.NewHandler(pub,
			dlq.WithTopic(cfg.DeadLetterTopic),
			dlq.WithRetry(cfg.Retry()),
		)))
		logger.Info("dead-letter topic enabled", "topic", cfg.DeadLetterTopic)
	}

	p := pipeline.New(src, rawView, tableView, coord, opts...)
	gw := gateway.NewHandler(gateway.Config{
		Raw:     rawView,
		Table:   tableView,
		Metrics: metrics,
		Logger:  logger,
		Compat:  bool(cfg.CompatResponses),
	})
	return p, gw, nil
}

func openTableStore(path string) (store.Store, error) {
	if path == "" {
		return memory.New(), nil
	}
	return sqlite.Open(path)
}

func tableOptions(cfg *config.Config) ([]table.Option, error) {
	var decoderOpts []table.DecoderOption
	if cfg.TableSchemaFile != "" {
		v, err := schema.LoadValidator(cfg.TableSchemaFile)
		if err != nil {
			return nil, fmt.Errorf("load table schema: %w", err)
		}
		decoderOpts = append(decoderOpts, table.WithSchema(v))
	}
	if cfg.TableValuePath != "" {
		decoderOpts = append(decoderOpts, table.WithValuePath(cfg.TableValuePath))
	}

	opts := []table.Option{table.WithDecoder(table.NewJSONDecoder(decoderOpts...))}
	if cfg.TableMergeExpr != "" {
		m, err := celmerge.NewMerger(cfg.TableMergeExpr)
		if err != nil {
			return nil, fmt.Errorf("compile table merge expression: %w", err)
		}
		opts = append(opts, table.WithMerger(m))
	}
	return opts, nil
}
