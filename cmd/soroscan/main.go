// File: cmd/soroscan/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/soroscan/soroscan/internal/alert"
	"github.com/soroscan/soroscan/internal/config"
	"github.com/soroscan/soroscan/internal/eventstore"
	"github.com/soroscan/soroscan/internal/fanout"
	"github.com/soroscan/soroscan/internal/metrics"
	"github.com/soroscan/soroscan/internal/publisher"
	"github.com/soroscan/soroscan/internal/rpc"
	"github.com/soroscan/soroscan/internal/schema"
	"github.com/soroscan/soroscan/internal/server"
	"github.com/soroscan/soroscan/internal/storage"
	syncengine "github.com/soroscan/soroscan/internal/sync"
	"github.com/soroscan/soroscan/internal/webhook"
	"github.com/soroscan/soroscan/internal/worker"
	"github.com/soroscan/soroscan/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application wires the indexer components together
type Application struct {
	config     *config.Config
	metrics    *metrics.Manager
	storage    storage.Storage
	rpcClient  *rpc.Client
	publisher  *publisher.Publisher
	pool       *worker.Pool
	syncEngine *syncengine.Engine
	server     *server.HTTPServer
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return app, nil
}

func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging
	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}
	utils.GetLogger().WithField("level", logCfg.Level).Info("Logger initialized")
	return nil
}

func (app *Application) initializeComponents() error {
	logger := utils.ComponentLogger("app")
	logger.Info("Initializing application components")

	app.metrics = metrics.NewManager(app.config.NetworkLabel())

	var err error
	app.storage, err = storage.NewStorage(&app.config.Storage, app.metrics)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	if err := app.storage.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	if err := app.storage.Migrate(); err != nil {
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}

	app.rpcClient = rpc.NewClient(&app.config.Soroban, app.metrics)

	app.publisher, err = publisher.New(&app.config.Publisher)
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}

	app.pool = worker.NewPool(app.config.Workers.Count, app.config.Workers.QueueSize, app.metrics)

	validator := schema.NewValidator(app.storage)
	store := eventstore.NewStore(app.storage, validator, app.metrics)

	webhookEngine := webhook.NewEngine(app.storage, &app.config.Webhooks, app.metrics)
	dispatcher := alert.NewDispatcher(app.storage, &app.config.Alerts, app.pool, app.metrics)
	fo := fanout.New(app.storage, webhookEngine, dispatcher, app.publisher, app.pool)

	app.syncEngine = syncengine.NewEngine(
		app.storage, app.rpcClient, store, fo, &app.config.Sync, app.pool, app.metrics)

	app.server = server.NewHTTPServer(app.config, app.storage, app.syncEngine, app.pool, app.metrics)

	logger.Info("All components initialized successfully")
	return nil
}

// Start starts the worker pool, the sync loop, and the HTTP server
func (app *Application) Start() error {
	logger := utils.ComponentLogger("app")
	logger.WithField("version", AppVersion).Info("Starting SoroScan indexer")

	app.pool.Start(app.ctx)
	go app.syncEngine.Run(app.ctx)

	go func() {
		if err := app.server.Start(); err != nil {
			logger.WithField("error", err.Error()).Error("HTTP server exited")
			app.cancel()
		}
	}()

	logger.WithFields(map[string]interface{}{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"rpc_url":        app.config.Soroban.RPCURL,
		"network":        app.config.NetworkLabel(),
	}).Info("SoroScan indexer started")
	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	logger := utils.ComponentLogger("app")
	logger.Info("Stopping SoroScan indexer")

	app.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if app.server != nil {
		if err := app.server.Stop(shutdownCtx); err != nil {
			logger.WithField("error", err.Error()).Error("Failed to stop HTTP server")
		}
	}

	if app.pool != nil {
		app.pool.Stop()
	}
	if app.publisher != nil {
		if err := app.publisher.Close(); err != nil {
			logger.WithField("error", err.Error()).Error("Failed to close publisher")
		}
	}
	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			logger.WithField("error", err.Error()).Error("Failed to close storage")
		}
	}

	logger.Info("SoroScan indexer stopped")
	return nil
}

// CLI Commands

var rootCmd = &cobra.Command{
	Use:     "soroscan",
	Short:   "Soroban Smart Contract Event Indexer",
	Long:    `An event indexing service for Soroban smart contracts: ledger sync, payload decoding, webhook fan-out and alerting.`,
	Version: AppVersion,
	RunE:    runIndexer,
}

func runIndexer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	select {
	case <-signalChan:
		fmt.Println("\nReceived shutdown signal, stopping application...")
	case <-app.ctx.Done():
	}

	return app.Stop()
}

// backfillCmd re-indexes a historical ledger range for one contract
var backfillCmd = &cobra.Command{
	Use:   "backfill <contract-id> <from-ledger> <to-ledger>",
	Short: "Backfill events for a contract over a ledger range",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		contractID := args[0]
		from, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid from-ledger: %w", err)
		}
		to, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid to-ledger: %w", err)
		}

		cfg, err := config.Load(viper.GetString("config"))
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		app, err := NewApplication(cfg)
		if err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}
		defer app.Stop()
		app.pool.Start(app.ctx)

		result, err := app.syncEngine.Backfill(app.ctx, contractID, from, to)
		if err != nil {
			return fmt.Errorf("backfill failed: %w", err)
		}

		fmt.Printf("Backfill complete for %s\n", utils.ShortContractID(contractID))
		fmt.Printf("Ledgers:        %d - %d (resumed from %d)\n", result.FromLedger, result.ToLedger, result.ResumedFrom)
		fmt.Printf("Windows:        %d\n", result.Windows)
		fmt.Printf("Events fetched: %d\n", result.EventsFetched)
		fmt.Printf("Events created: %d\n", result.EventsCreated)
		return nil
	},
}

// cleanupCmd prunes old webhook delivery logs
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune webhook delivery logs past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetString("config"))
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		app, err := NewApplication(cfg)
		if err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}
		defer app.Stop()

		retention := cfg.Storage.RetentionDays
		if retention <= 0 {
			retention = 30
		}
		cutoff := time.Now().UTC().AddDate(0, 0, -retention)

		pruned, err := app.storage.PruneDeliveryLogs(app.ctx, cutoff)
		if err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}
		fmt.Printf("Pruned %d delivery log rows older than %s\n", pruned, cutoff.Format("2006-01-02"))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("SoroScan %s\n", AppVersion)
	},
}

// configCmd groups configuration management commands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetString("config"))
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("RPC URL:     %s\n", cfg.Soroban.RPCURL)
		fmt.Printf("Network:     %s\n", cfg.NetworkLabel())
		fmt.Printf("Database:    %s\n", cfg.Storage.Type)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(validateConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
