package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/quorum/pkg/agent"
	"github.com/cuemby/quorum/pkg/api"
	"github.com/cuemby/quorum/pkg/constituent"
	"github.com/cuemby/quorum/pkg/events"
	"github.com/cuemby/quorum/pkg/log"
	"github.com/cuemby/quorum/pkg/metrics"
	"github.com/cuemby/quorum/pkg/storage"
	"github.com/cuemby/quorum/pkg/supervision"
	"github.com/cuemby/quorum/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "quorum",
	Short: "Quorum - Strongly-consistent configuration store for clusters",
	Long: `Quorum is a small, strongly-consistent hierarchical key/value store
replicated by Raft-style consensus, with a supervision engine that plans
and commits cluster reconfigurations through conditional transactions.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Quorum version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	// Initialize logging before command execution
	cobra.OnInitialize(initLogging)

	// Add subcommands
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(statusCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// Agent commands
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run an agency agent",
	RunE:  runAgent,
}

func init() {
	agentCmd.Flags().String("config", "", "Path to YAML configuration file")
	agentCmd.Flags().String("id", "", "Agent ID (overrides config file)")
	agentCmd.Flags().String("bind-addr", "", "HTTP bind address (overrides config file)")
	agentCmd.Flags().String("data-dir", "", "Data directory (overrides config file)")
	agentCmd.Flags().String("metrics-addr", ":9100", "Prometheus metrics address (empty to disable)")
	agentCmd.Flags().Duration("supervision-interval", 10*time.Second, "Supervision tick interval")
}

func runAgent(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	id, _ := cmd.Flags().GetString("id")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	interval, _ := cmd.Flags().GetDuration("supervision-interval")

	var cfg *types.Config
	if configPath != "" {
		loaded, err := types.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		if id == "" {
			return fmt.Errorf("either --config or --id is required")
		}
		cfg = types.DefaultConfig(id)
	}
	if id != "" {
		cfg.ID = id
	}
	if bindAddr != "" {
		cfg.BindAddr = bindAddr
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	metrics.Register()
	if metricsAddr != "" {
		go func() {
			if err := metrics.Serve(metricsAddr); err != nil {
				log.Errorf("Metrics server failed", err)
			}
		}()
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	ag := agent.New(cfg, store)
	if err := ag.Restore(); err != nil {
		return fmt.Errorf("failed to restore agent state: %w", err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	cons := constituent.New(ag, constituent.NewHTTPTransport(), store, broker, rng)
	ag.SetRoleSource(cons)
	if err := cons.Start(); err != nil {
		return fmt.Errorf("failed to start constituent: %w", err)
	}
	defer cons.Stop()

	supervisor := supervision.NewSupervisor(ag, cons, broker,
		rand.New(rand.NewSource(time.Now().UnixNano())), interval)
	supervisor.Start()
	defer supervisor.Stop()

	server := api.NewServer(cfg.BindAddr, ag, cons)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	log.Logger.Info().Str("agent_id", cfg.ID).Str("bind_addr", cfg.BindAddr).
		Int("size", cfg.Size).Msg("Agent started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("API server shutdown failed", err)
	}
	if err := ag.Persist(); err != nil {
		log.Errorf("Failed to persist tree snapshot", err)
	}
	return nil
}

// Status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent status",
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint, _ := cmd.Flags().GetString("endpoint")
		return printConfig(endpoint)
	},
}

func init() {
	statusCmd.Flags().String("endpoint", "http://127.0.0.1:8529", "Agent endpoint")
}
