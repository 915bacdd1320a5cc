package main

import (
	"context"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/DhyanaPatel/orderbook-visualizer/internal/api/rest"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/config"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/engine"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/exchange/binance"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/exchange/common"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/infra/health"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/infra/http/middleware"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/infra/log"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/infra/metrics"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/infra/netutil"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/infra/runner"
	"github.com/DhyanaPatel/orderbook-visualizer/internal/infra/version"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = godotenv.Load()
	cfg := config.Load()
	logger := log.NewLogger(cfg)

	registry := metrics.Init(logger)

	events := make(chan common.StreamEvent, 256)
	eng := engine.New(cfg, binance.NewClient(cfg), events, logger)
	stream := binance.NewStream(cfg, logger)

	mux := http.NewServeMux()
	api := rest.New(cfg, eng)
	mux.Handle("/book", api.Handler())
	mux.Handle("/trades", api.Handler())
	mux.Handle("/status", api.Handler())
	// admin endpoints (metrics, pprof) behind IP allowlist gate
	adminCIDRs := netutil.MustParseCIDRs(cfg.Server.AdminAllowCIDRs)
	mux.Handle("/metrics", middleware.AdminGate(adminCIDRs, metrics.Handler(registry)))
	mux.HandleFunc("/healthz", health.Healthz)
	mux.HandleFunc("/readyz", health.Readyz)
	mux.HandleFunc("/version", version.Handler)
	if cfg.Server.Pprof {
		mux.Handle("/debug/pprof/", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Index)))
		mux.Handle("/debug/pprof/cmdline", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Cmdline)))
		mux.Handle("/debug/pprof/profile", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Profile)))
		mux.Handle("/debug/pprof/symbol", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Symbol)))
		mux.Handle("/debug/pprof/trace", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Trace)))
	}

	handler := middleware.RequestID(middleware.Logger(logger)(mux))

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	logger.Info().Str("symbol", cfg.Instrument.Symbol).Str("addr", cfg.Server.Addr).Msg("bookwatch started")

	g := &runner.Group{}
	streamErrCh := g.Go(ctx, func(ctx context.Context) error {
		return stream.Run(ctx, cfg.Instrument.Symbol, events)
	})
	engineErrCh := g.Go(ctx, func(ctx context.Context) error {
		return eng.Run(ctx)
	})

	health.SetReady(true)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-ctx.Done():
	case s := <-sigCh:
		logger.Info().Str("signal", s.String()).Msg("shutdown signal received")
	case err := <-streamErrCh:
		if err != nil {
			logger.Error().Err(err).Msg("stream worker error")
			health.SetReady(false)
		}
	case err := <-engineErrCh:
		if err != nil {
			logger.Error().Err(err).Msg("engine worker error")
			health.SetReady(false)
		}
	}

	health.SetReady(false)
	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	g.Wait()
	logger.Info().Msg("shutdown complete")
}
