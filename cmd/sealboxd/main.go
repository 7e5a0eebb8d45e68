package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sealbox/backend/internal/config"
	"github.com/sealbox/backend/internal/observability"
	"github.com/sealbox/backend/internal/quicutil"
	"github.com/sealbox/backend/internal/ratelimit"
	"github.com/sealbox/backend/internal/server"
	"github.com/sealbox/backend/internal/storage"
	"github.com/sealbox/backend/internal/wire"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", config.DefaultConfigPath(), "Configuration file")
	listen := flag.String("listen", "", "QUIC listen address (overrides listen_address)")
	dataDir := flag.String("data-dir", "", "Data directory (overrides data_dir)")
	verify := flag.Bool("verify", false, "Verify the BLAKE3 digest of every stored object and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.ListenAddress = *listen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if err := cfg.ValidateDaemon(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger("sealboxd", version, os.Stdout).WithLevel(cfg.LogLevel)

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		logger.Fatal(err, "Failed to create data directory")
	}
	objects, err := storage.OpenObjectIndex(cfg.DataDir)
	if err != nil {
		logger.Fatal(err, "Failed to open object index")
	}
	defer objects.Close()
	shares, err := storage.OpenShareRegistry(filepath.Join(cfg.DataDir, "shares.db"))
	if err != nil {
		logger.Fatal(err, "Failed to open share registry")
	}
	defer shares.Close()

	if *verify {
		failed := verifyObjects(objects, os.Stdout)
		objects.Close()
		shares.Close()
		if failed > 0 {
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if shutdown, err := observability.InitTracing(ctx, "sealboxd", cfg.TracingEndpoint); err == nil {
		defer shutdown(context.Background())
	} else {
		logger.Warn("tracing disabled: " + err.Error())
	}

	metrics := observability.NewMetrics()
	var accepting atomic.Bool
	health := observability.NewHealthChecker(version)
	health.RegisterCheck("quic_listener", observability.ListenerCheck(cfg.ListenAddress, accepting.Load))
	health.RegisterCheck("object_index", observability.PingCheck("object index", func(context.Context) error { return objects.Ping() }))
	health.RegisterCheck("share_registry", observability.PingCheck("share registry", func(context.Context) error { return shares.Ping() }))
	health.RegisterCheck("data_dir", observability.DataDirCheck(cfg.DataDir))

	certPEM, keyPEM, err := quicutil.LoadOrCreateCert(filepath.Join(cfg.DataDir, "tls"))
	if err != nil {
		logger.Fatal(err, "Failed to load TLS certificate")
	}
	tlsConfig, err := quicutil.MakeTLSConfig(certPEM, keyPEM)
	if err != nil {
		logger.Fatal(err, "Failed to create TLS config")
	}

	ln, err := wire.ListenQUIC(cfg.ListenAddress, tlsConfig)
	if err != nil {
		logger.Fatal(err, "Failed to start QUIC listener")
	}
	defer ln.Close()
	logger.Info("QUIC listener started on " + ln.Addr())

	if cfg.MetricsAddress != "" {
		go startObservabilityServer(ctx, cfg.MetricsAddress, metrics, health, logger)
	}

	srv := server.New(objects, shares, server.Config{
		MaxUploadSize: cfg.MaxUploadSize,
		Logger:        logger,
		Metrics:       metrics,
	})
	limiter := ratelimit.NewLimiter(cfg.AcceptRate, cfg.AcceptBurst)

	go maintenance(ctx, objects, limiter, logger)

	var conns sync.WaitGroup
	go func() {
		accepting.Store(true)
		defer accepting.Store(false)
		for {
			in, err := ln.Accept(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Error(err, "Failed to accept QUIC connection")
				metrics.RecordConnection(false)
				continue
			}
			if !limiter.Allow(in.RemoteAddr()) {
				logger.WithPeer(in.RemoteAddr()).Warn("connection rate limited")
				metrics.RecordConnection(false)
				in.Reject("rate limited")
				continue
			}

			conns.Add(1)
			go func() {
				defer conns.Done()
				conn, err := in.Stream(ctx)
				if err != nil {
					logger.ConnectionFailed(in.RemoteAddr(), err)
					return
				}
				srv.ServeConn(ctx, conn)
			}()
		}
	}()

	logger.Info("sealboxd running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")
	cancel()
	ln.Close()

	done := make(chan struct{})
	go func() {
		conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("connections still open after 10s, exiting")
	}
	logger.Info("sealboxd stopped")
}

// maintenance removes abandoned partial uploads and idle rate-limit
// buckets once an hour.
func maintenance(ctx context.Context, objects *storage.ObjectIndex, limiter *ratelimit.Limiter, logger *observability.Logger) {
	sweep := func() {
		if n, err := objects.SweepPartial(24 * time.Hour); err != nil {
			logger.Error(err, "partial upload sweep failed")
		} else if n > 0 {
			logger.Info(fmt.Sprintf("removed %d abandoned partial uploads", n))
		}
		limiter.Prune(time.Hour)
	}

	sweep()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

func startObservabilityServer(ctx context.Context, addr string, metrics *observability.Metrics, health *observability.HealthChecker, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", health.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	logger.Info("Observability server listening on " + addr + " (metrics, health, pprof)")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(err, "Observability server error")
	}
}
