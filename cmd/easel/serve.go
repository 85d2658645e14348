package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/easel/internal/config"
	"github.com/jackzampolin/easel/internal/home"
	"github.com/jackzampolin/easel/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Easel server",
	Long: `Start the Easel HTTP server.

This runs the API server and the generation pipeline workers in one
process. State lives in a sqlite database under the easel home
directory; panel images and oversized payloads go to the blob store
next to it.

Examples:
  easel serve                          # Start on the configured address
  easel serve --addr 0.0.0.0:9000     # Bind somewhere else`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		cfgMgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfgMgr.WatchConfig()

		srv, err := server.New(server.Config{
			Addr:          serveAddr,
			Home:          h,
			ConfigManager: cfgMgr,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (default from config)")

	rootCmd.AddCommand(serveCmd)
}
