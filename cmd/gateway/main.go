// Command gateway runs the multi-tenant RPC gateway: it terminates
// TLS, validates agent bearer tokens, enforces the static policy set,
// and routes to lazily-spawned per-target worker processes.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/relaygate/relaygate/internal/api"
	"github.com/relaygate/relaygate/internal/audit"
	"github.com/relaygate/relaygate/internal/cache"
	"github.com/relaygate/relaygate/internal/config"
	"github.com/relaygate/relaygate/internal/logger"
	"github.com/relaygate/relaygate/internal/metrics"
	"github.com/relaygate/relaygate/internal/policy"
	"github.com/relaygate/relaygate/internal/supervisor"
	"github.com/relaygate/relaygate/internal/tokenauth"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "relaygate gateway - multi-tenant RPC gateway for per-tenant worker backends",
}

var (
	flagListenAddr string
	flagPolicyFile string
	flagDataDir    string
)

func init() {
	serveCmd.Flags().StringVar(&flagListenAddr, "listen", "", "override LISTEN_ADDR")
	serveCmd.Flags().StringVar(&flagPolicyFile, "policy-file", "", "override POLICY_FILE")
	serveCmd.Flags().StringVar(&flagDataDir, "data-dir", "", "override DATA_DIR")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway's HTTPS server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.GatewayFromEnv()
	if flagListenAddr != "" {
		cfg.ListenAddr = flagListenAddr
	}
	if flagPolicyFile != "" {
		cfg.PolicyFile = flagPolicyFile
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Initialize("gateway", cfg.LogLevel, false)
	log := logger.Component("main")

	policySet, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	auditSink, err := audit.Open(cfg.AuditLogPath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditSink.Close()

	validator := tokenauth.New([]byte(cfg.JWTSecret))

	var apiOpts []api.Option
	var supOpts []supervisor.Option
	if cfg.RedisAddr != "" {
		guard, err := cache.New(cfg.RedisAddr, 10*time.Minute)
		if err != nil {
			log.Warn().Err(err).Msg("replay guard disabled: could not reach redis")
		} else {
			defer guard.Close()
			apiOpts = append(apiOpts, api.WithReplayGuard(guard))
		}
	}
	if cfg.MetricsAddr != "" {
		recorder := metrics.Recorder{}
		apiOpts = append(apiOpts, api.WithMetrics(recorder))
		supOpts = append(supOpts, supervisor.WithSpawnRecorder(recorder))
		go serveMetrics(cfg.MetricsAddr, log)
	}

	sup := supervisor.New(cfg.WorkerBin, cfg.DataDir, supOpts...)
	defer sup.Shutdown()

	server := api.New(validator, policySet, sup, auditSink, apiOpts...)

	var tlsConfig *tls.Config
	if cfg.ClientCAFile != "" {
		caCert, err := os.ReadFile(cfg.ClientCAFile)
		if err != nil {
			return fmt.Errorf("read client CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return fmt.Errorf("client CA file contains no usable certificates")
		}
		tlsConfig = &tls.Config{
			ClientCAs:  pool,
			ClientAuth: tls.VerifyClientCertIfGiven,
			MinVersion: tls.VersionTLS12,
		}
		log.Info().Str("ca_file", cfg.ClientCAFile).Msg("mTLS enabled: client certificates optional, bearer token still required")
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		TLSConfig:         tlsConfig,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("gateway listening")
		errCh <- httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}

	return nil
}

func serveMetrics(addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics server exited")
	}
}
