// Package cli provides the command-line interface for showrunner.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"showrunner/internal/config"
	"showrunner/internal/db"
	"showrunner/internal/engine"
	"showrunner/internal/jobstore"
	"showrunner/internal/provider"
	"showrunner/internal/service"
	"showrunner/internal/storage"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	cfgFile string
	verbose bool

	// Initialized by the persistent pre-run.
	cfg        config.Config
	logCleanup func() error
	dbClient   *db.Client
	store      jobstore.Store
	objects    storage.ObjectStore
	repo       *storage.ProductionRepository
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "showrunner",
	Short: "Hierarchical generation engine for multi-media productions",
	Long: `Showrunner turns a premise into a production: characters, episodes and
scenes generated as a dependency graph of portraits, storyboards and video
clips, executed level by level with durable, resumable jobs.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}

		logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		slog.SetDefault(logger)
		logCleanup = cleanup

		ctx := cmd.Context()
		if objects, err = buildObjectStore(ctx); err != nil {
			return err
		}
		repo = storage.NewProductionRepository(objects)
		if store, err = buildJobStore(ctx); err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if dbClient != nil {
			if err := dbClient.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
		if logCleanup != nil {
			_ = logCleanup()
		}
	},
}

func buildObjectStore(ctx context.Context) (storage.ObjectStore, error) {
	if cfg.S3Bucket != "" {
		return storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			Bucket:        cfg.S3Bucket,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicURLBase: cfg.S3PublicURLBase,
		})
	}
	return storage.NewFSStore(".showrunner/objects")
}

func buildJobStore(ctx context.Context) (jobstore.Store, error) {
	switch cfg.JobStore {
	case "surreal":
		var err error
		dbClient, err = db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, slog.Default())
		if err != nil {
			return nil, fmt.Errorf("connect to job database: %w", err)
		}
		if err := dbClient.InitSchema(ctx); err != nil {
			return nil, fmt.Errorf("initialize job schema: %w", err)
		}
		return db.NewSurrealStore(dbClient), nil
	case "file", "":
		return jobstore.NewFileStore(cfg.JobStoreDir)
	default:
		return nil, fmt.Errorf("unknown job store backend: %s", cfg.JobStore)
	}
}

// buildService wires the production service. Provider construction is gated
// so read-only commands work without generation credentials.
func buildService(ctx context.Context, needProviders bool) (*service.ProductionService, error) {
	var prov provider.Provider
	var text provider.TextGenerator

	if needProviders {
		llmText, err := provider.NewLLMText(provider.TextConfig{
			Provider:   provider.TextProviderName(cfg.TextProvider),
			Model:      cfg.TextModel,
			APIKey:     cfg.TextAPIKey,
			OllamaHost: cfg.OllamaHost,
		})
		if err != nil {
			return nil, fmt.Errorf("init text provider: %w", err)
		}
		text = llmText

		image, err := provider.NewBedrockImage(ctx, provider.BedrockConfig{
			Region:  cfg.AWSRegion,
			ModelID: cfg.ImageModel,
		})
		if err != nil {
			return nil, fmt.Errorf("init image provider: %w", err)
		}

		video, err := provider.NewVideoClient(provider.VideoConfig{
			BaseURL:      cfg.VideoBaseURL,
			APIKey:       cfg.VideoAPIKey,
			Model:        cfg.VideoModel,
			MaxWait:      cfg.VideoMaxWait.Std(),
			PollInterval: cfg.VideoPollInterval.Std(),
		})
		if err != nil {
			return nil, fmt.Errorf("init video provider: %w", err)
		}

		prov = &provider.Suite{Text: llmText, Image: image, Video: video}
	}

	eng := engine.New(store, prov, objects, engine.Options{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay.Std(),
		OutputDir:  cfg.OutputDir,
	})
	return service.NewProductionService(repo, store, text, eng), nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(improveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(deleteCmd)
}
