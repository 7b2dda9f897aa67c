package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/senchpimy/image-ocr/internal/admin"
	"github.com/senchpimy/image-ocr/internal/config"
	"github.com/senchpimy/image-ocr/internal/metrics"
	"github.com/senchpimy/image-ocr/internal/recognizer"
	"github.com/senchpimy/image-ocr/internal/recognizer/python"
	"github.com/senchpimy/image-ocr/internal/server"
	"github.com/senchpimy/image-ocr/internal/store"
	"github.com/spf13/cobra"

	// Backends register themselves with the recognizer package.
	_ "github.com/senchpimy/image-ocr/internal/recognizer/gemini"
	_ "github.com/senchpimy/image-ocr/internal/recognizer/ollama"
	_ "github.com/senchpimy/image-ocr/internal/recognizer/tesseract"
)

var printConfig bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load the OCR backend and answer recognition requests on the Unix socket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if printConfig {
			fmt.Print(cfg.Redacted())
			return nil
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	flags.Serve(serveCmd.Flags())
	serveCmd.Flags().BoolVar(&printConfig, "print-config", false, "Print the resolved configuration (secrets masked) and exit")
	rootCmd.AddCommand(serveCmd)
}

// runServe wires backend, metrics, audit log and admin endpoint around the
// socket server and blocks until ctx is cancelled.
func runServe(ctx context.Context, c config.Config) error {
	if err := validateServeConfig(&c); err != nil {
		return reportError("Invalid configuration", err)
	}
	logger.Debug("resolved configuration\n" + c.Redacted())

	// Refuse a live socket before spending minutes loading a model.
	if err := server.RemoveStale(c.SocketPath); err != nil {
		return reportError("Cannot claim the socket path", err)
	}

	fmt.Fprintf(os.Stderr, "🚀 Starting %s backend...\n", c.Backend)
	backend, err := recognizer.New(ctx, backendOptions(c, logger))
	if err != nil {
		return reportError("Failed to initialize the OCR backend", err)
	}

	m := metrics.New()

	var rec server.Recorder
	if url := dbURL(false); url != "" {
		if err := openDB(ctx, url); err != nil {
			backend.Close()
			return reportError("Failed to open the audit log", err)
		}
		r := store.NewRecorder(DB, 0, logger)
		defer func() {
			r.Close()
			if n := r.Dropped(); n > 0 {
				logger.Warn("audit records dropped", "count", n)
			}
		}()
		rec = r
	}

	srv := server.New(c, backend, logger, m, rec)

	adminDone := make(chan struct{})
	if c.AdminAddr != "" {
		ln, err := admin.Listen(c.AdminAddr)
		if err != nil {
			backend.Close()
			return reportError("Failed to bind the admin endpoint", err)
		}
		a := admin.New(m, admin.Info{
			Version:        Version,
			Backend:        backend.Name(),
			ActiveSessions: srv.ActiveSessions,
		}, logger)
		go func() {
			defer close(adminDone)
			if err := a.Serve(ctx, ln); err != nil {
				logger.Error("admin endpoint failed", "err", err)
			}
		}()
	} else {
		close(adminDone)
	}

	go func() {
		select {
		case <-srv.Ready():
			fmt.Fprintf(os.Stderr, "✅ Listening on %s\n", c.SocketPath)
		case <-ctx.Done():
		}
	}()

	err = srv.Serve(ctx)
	<-adminDone
	if err != nil && !errors.Is(err, context.Canceled) {
		return reportError("Server stopped unexpectedly", err)
	}
	fmt.Fprintln(os.Stderr, "👋 Server stopped.")
	return nil
}

// validateServeConfig checks what config.Validate cannot: that the backend
// exists and that worker backends can find their script.
func validateServeConfig(c *config.Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if !slices.Contains(recognizer.Names(), c.Backend) {
		return fmt.Errorf("%w: %q (available: %v)", recognizer.ErrUnknownBackend, c.Backend, recognizer.Names())
	}
	if slices.Contains(python.Models, c.Backend) {
		info, err := os.Stat(c.WorkerScript)
		if err != nil {
			return fmt.Errorf("worker script: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("worker script %s is a directory", c.WorkerScript)
		}
	}
	return nil
}

func backendOptions(c config.Config, log *slog.Logger) recognizer.Options {
	return recognizer.Options{
		Name:         c.Backend,
		Lang:         c.Lang,
		Translate:    c.Translate,
		PythonBin:    c.PythonBin,
		WorkerScript: c.WorkerScript,
		OllamaURL:    c.OllamaURL,
		OllamaModel:  c.OllamaModel,
		GeminiModel:  c.GeminiModel,
		GeminiAPIKey: c.GeminiAPIKey,
		Logger:       log,
	}
}
