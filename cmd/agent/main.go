// Command agent is the tenant-side client: it mints and caches its own
// bearer token and calls the gateway's pinned HTTPS endpoint for a
// single target. A loadtest subcommand drives concurrent calls against
// a target, giving operators the harness a real deployment needs to
// validate the worker pool under load.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaygate/relaygate/internal/config"
	"github.com/relaygate/relaygate/internal/logger"
	"github.com/relaygate/relaygate/internal/tokencache"
	"github.com/relaygate/relaygate/internal/transport"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agent",
	Short: "relaygate agent - tenant-side client for the RPC gateway",
}

var (
	flagTarget string
	flagMethod string
	flagParams string
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Make a single call against a target through the gateway",
	RunE:  runCall,
}

var (
	flagCalls       int
	flagConcurrency int
)

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Drive concurrent calls against a target to exercise the worker pool",
	RunE:  runLoadtest,
}

func init() {
	callCmd.Flags().StringVar(&flagTarget, "target", "", "target name (required)")
	callCmd.Flags().StringVar(&flagMethod, "method", "select", "worker method to invoke")
	callCmd.Flags().StringVar(&flagParams, "params", "{}", "JSON-encoded params object")
	callCmd.MarkFlagRequired("target")

	loadtestCmd.Flags().StringVar(&flagTarget, "target", "", "target name (required)")
	loadtestCmd.Flags().StringVar(&flagMethod, "method", "select", "worker method to invoke")
	loadtestCmd.Flags().IntVar(&flagCalls, "calls", 100, "total number of calls to make")
	loadtestCmd.Flags().IntVar(&flagConcurrency, "concurrency", 10, "number of concurrent callers")
	loadtestCmd.MarkFlagRequired("target")

	rootCmd.AddCommand(callCmd, loadtestCmd)
}

func buildClient(cfg config.AgentConfig) (*transport.Client, error) {
	cache := tokencache.New(cfg.Tenant, []byte(cfg.JWTSecret))
	return transport.New(cfg.GatewayURL, cfg.CAFile, cfg.ClientCertFile, cfg.ClientKeyFile, cache)
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg := config.AgentFromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Initialize("agent", cfg.LogLevel, true)

	var params map[string]interface{}
	if err := json.Unmarshal([]byte(flagParams), &params); err != nil {
		return fmt.Errorf("invalid --params: %w", err)
	}

	client, err := buildClient(cfg)
	if err != nil {
		return fmt.Errorf("build client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout*time.Duration(cfg.MaxRetries+1))
	defer cancel()

	result, err := client.Call(ctx, flagTarget, flagMethod, params)
	if err != nil {
		return fmt.Errorf("call failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// loadtestStats accumulates outcomes across concurrent callers.
type loadtestStats struct {
	completed int64
	failed    int64
}

func runLoadtest(cmd *cobra.Command, args []string) error {
	cfg := config.AgentFromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Initialize("agent", cfg.LogLevel, true)
	log := logger.Component("loadtest")

	client, err := buildClient(cfg)
	if err != nil {
		return fmt.Errorf("build client: %w", err)
	}

	jobs := make(chan struct{}, flagCalls)
	for i := 0; i < flagCalls; i++ {
		jobs <- struct{}{}
	}
	close(jobs)

	var stats loadtestStats
	var wg sync.WaitGroup
	start := time.Now()

	for w := 0; w < flagConcurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
				_, err := client.Call(ctx, flagTarget, flagMethod, map[string]interface{}{})
				cancel()
				if err != nil {
					atomic.AddInt64(&stats.failed, 1)
					log.Warn().Err(err).Msg("call failed")
					continue
				}
				atomic.AddInt64(&stats.completed, 1)
			}
		}()
	}
	wg.Wait()

	elapsed := time.Since(start)
	fmt.Printf("completed=%d failed=%d elapsed=%s rps=%.1f\n",
		stats.completed, stats.failed, elapsed, float64(stats.completed+stats.failed)/elapsed.Seconds())
	return nil
}
