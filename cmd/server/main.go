package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/manpreetbhatti/lattice-sync/internal/config"
)

// Set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	rootCmd := &cobra.Command{
		Use:           "lattice-sync",
		Short:         "Real-time collaborative document sync server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		addr      string
		dbPath    string
		store     string
		logLevel  string
		logFormat string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the websocket and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv(os.LookupEnv)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Addr = addr
			}
			if flags.Changed("db") {
				cfg.DBPath = dbPath
			}
			if flags.Changed("store") {
				cfg.Store = store
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("log-format") {
				cfg.LogFormat = logFormat
			}

			if err := cfg.Validate(); err != nil {
				return err
			}
			setupLogger(cfg)
			return serve(cmd.Context(), cfg)
		},
	}

	defaults := config.Default()
	cmd.Flags().StringVar(&addr, "addr", defaults.Addr, "address to listen on")
	cmd.Flags().StringVar(&dbPath, "db", defaults.DBPath, "sqlite database path")
	cmd.Flags().StringVar(&store, "store", defaults.Store, "content store (sqlite or s3)")
	cmd.Flags().StringVar(&logLevel, "log-level", defaults.LogLevel, "debug, info, warn or error")
	cmd.Flags().StringVar(&logFormat, "log-format", defaults.LogFormat, "text or json")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lattice-sync %s (%s)\n", version, commit)
		},
	}
}

func setupLogger(cfg config.Config) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
