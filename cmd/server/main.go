package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	exdb "github.com/hakimelghazi/energy-exchange/db"
	"github.com/hakimelghazi/energy-exchange/internal/config"
	"github.com/hakimelghazi/energy-exchange/internal/engine"
	"github.com/hakimelghazi/energy-exchange/internal/gateway"
	"github.com/hakimelghazi/energy-exchange/internal/journal"
	"github.com/hakimelghazi/energy-exchange/internal/logging"
	"github.com/hakimelghazi/energy-exchange/internal/memstore"
	"github.com/hakimelghazi/energy-exchange/internal/metrics"
	"github.com/hakimelghazi/energy-exchange/internal/publish"
	"github.com/hakimelghazi/energy-exchange/pricefeed"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	printConfig := flag.Bool("print-config", false, "print the effective config and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *printConfig {
		out, err := cfg.Dump()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer closer.Close()
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		closer.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1) metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	// 2) store + journal
	var store engine.OrderStore
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := exdb.NewPool(ctx, cfg.Store.DSN, cfg.Store.MaxConns)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		if cfg.Store.Migrate {
			if err := exdb.Migrate(ctx, pool); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		store = exdb.NewStore(pool)
	default:
		log.Warn("using the in-memory store; orders do not survive a restart")
		store = memstore.New()
	}

	var jrnl engine.Journal
	if cfg.Journal.Dir != "" {
		j, err := journal.Open(cfg.Journal.Dir)
		if err != nil {
			return err
		}
		defer j.Close()
		jrnl = j
	}

	// 3) event sinks
	ticker := pricefeed.NewPriceCache()
	pubs := publish.Multi{ticker}
	if cfg.Kafka.Enabled {
		k := publish.NewKafka(publish.KafkaConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.Topic,
			MaxAttempts: cfg.Kafka.MaxAttempts,
		})
		defer k.Close()
		pubs = append(pubs, k)
	}
	if logging.ParseLevel(cfg.Log.Level) <= slog.LevelDebug {
		pubs = append(pubs, publish.NewLog(log))
	}

	// 4) engine
	eng := engine.New(engine.Options{
		Store:     store,
		Journal:   jrnl,
		Publisher: pubs,
		Logger:    log,
		Metrics:   m,
		QueueSize: cfg.Engine.QueueSize,
		Ledger: engine.LedgerConfig{
			MaxAttempts:       cfg.Ledger.MaxAttempts,
			AttemptTimeout:    cfg.Ledger.AttemptTimeout,
			InitialBackoff:    cfg.Ledger.InitialBackoff,
			MaxBackoff:        cfg.Ledger.MaxBackoff,
			ReconcileInterval: cfg.Ledger.ReconcileInterval,
			QueueSize:         cfg.Ledger.QueueSize,
		},
	})
	if err := eng.Recover(ctx); err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	history, err := eng.TradeHistory(ctx)
	if err != nil {
		return err
	}
	ticker.Seed(history)

	// 5) router
	gw := gateway.New(eng, gateway.Options{
		Logger:         log,
		Ticker:         ticker,
		Metrics:        metrics.Handler(reg),
		RequestTimeout: cfg.HTTP.RequestTimeout,
		RateLimit:      cfg.HTTP.RateLimit,
		RateBurst:      cfg.HTTP.RateBurst,
	})
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      gw.Routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	if cfg.Ticker.Interval > 0 {
		g.Go(func() error {
			pricefeed.StartQuoteUpdater(gctx, eng, ticker, cfg.Ticker.Interval, log.With("component", "ticker"))
			return nil
		})
	}
	g.Go(func() error {
		log.Info("listening", "addr", cfg.HTTP.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
