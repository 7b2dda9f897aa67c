package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/senchpimy/image-ocr/internal/config"
	"github.com/senchpimy/image-ocr/internal/store"
	"github.com/senchpimy/image-ocr/internal/utils"
	"github.com/spf13/cobra"
)

var (
	// cfg is the resolved configuration shared by subcommands
	cfg config.Config
	// logger is built from cfg once flags are parsed
	logger *slog.Logger
	// DB is opened on demand by the commands that need the audit log
	DB *store.Store

	flags      = config.NewFlags()
	configPath string
	envFile    string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "ocrbridge",
	Short:   "Unix socket bridge between image producers and OCR engines",
	Version: Version, // This enables the --version flag
	// Errors are printed once, by Execute or by reportError.
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath, envFile)
		if err != nil {
			return err
		}
		flags.Apply(cmd.Flags(), &cfg)

		logger, err = utils.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
			DB = nil
		}
	},
}

// dbURL resolves the audit log connection string. An explicit setting wins;
// otherwise it is built from the POSTGRES_* variables. When required is set
// and nothing is configured the local default is used.
func dbURL(required bool) string {
	if cfg.DBURL != "" {
		return cfg.DBURL
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	if required {
		return "postgres://localhost:5432/ocrbridge"
	}
	return ""
}

// openDB connects the global DB handle. It is closed in PersistentPostRun.
func openDB(ctx context.Context, url string) error {
	var err error
	DB, err = store.New(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}

// reportedError marks an error that was already shown through utils.ShowError.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// reportError prints the boxed report for err and returns it marked as
// reported, so Execute does not print it a second time.
func reportError(what string, err error) error {
	utils.ShowError(what, err, nil)
	return reportedError{err}
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var shown reportedError
		if !errors.As(err, &shown) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with OCR_* settings (ignored when missing)")
	flags.Global(rootCmd.PersistentFlags())
}
