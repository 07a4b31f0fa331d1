package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/intervue/moodline/internal/config"
	"github.com/intervue/moodline/internal/logging"
	"github.com/intervue/moodline/internal/store"
	"github.com/spf13/cobra"
)

var (
	// Cfg is the loaded configuration shared by subcommands
	Cfg *config.Config
	// DB is opened on demand by openStore and closed after the command runs
	DB *store.Store

	configPath string
	dbURL      string
	modelPath  string
	logLevel   string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "moodline",
	Short:   "Per-frame emotion detection bridge for mock interviews",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		// Flags beat file and environment
		if cmd.Flags().Changed("db") {
			cfg.Database.URL = dbURL
		}
		if cmd.Flags().Changed("model") {
			cfg.Emotion.ModelPath = modelPath
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}

		logging.Init(logging.Config{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			Caller: cfg.Log.Caller,
		})
		Cfg = cfg
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
			DB = nil
		}
	},
}

// openStore connects to the configured database. With required=false a
// missing URL is not an error and returns nil.
func openStore(ctx context.Context, required bool) (*store.Store, error) {
	if DB != nil {
		return DB, nil
	}
	if Cfg.Database.URL == "" {
		if required {
			return nil, fmt.Errorf("no database configured (set --db or DATABASE_URL)")
		}
		return nil, nil
	}
	s, err := store.New(ctx, Cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	DB = s
	return s, nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $MOODLINE_CONFIG or ./moodline.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for session samples (default: $DATABASE_URL)")
	rootCmd.PersistentFlags().StringVarP(&modelPath, "model", "m", "", "Path to the emotion model weights (default: $EMOTION_MODEL_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
}
