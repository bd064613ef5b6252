package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tabletoplab/skirmish"
	"github.com/tabletoplab/skirmish/internal/config"
	"github.com/tabletoplab/skirmish/internal/presentation/tui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the encounter server",
	Long: `Starts the skirmish runtime and exposes the room API over HTTP:
room lifecycle, action submission, and per-room SSE event streams.`,
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		addr, _ := cmd.Flags().GetString("addr")

		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Printf("Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr = addr
		}

		rt, err := skirmish.New(cfg)
		if err != nil {
			fmt.Printf("Error initializing skirmish: %v\n", err)
			os.Exit(1)
		}

		tui.PrintBanner()

		srv := &http.Server{
			Addr:    cfg.Server.Addr,
			Handler: rt.Handler(),
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)

		go func() {
			rt.Logger.Info("encounter server listening", "addr", srv.Addr)
			serverErrors <- srv.ListenAndServe()
		}()

		// Channel to listen for interrupt or terminate signals.
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			rt.Logger.Error("server error", "err", err)
			os.Exit(1)

		case sig := <-shutdown:
			rt.Logger.Info("shutting down", "signal", sig.String())

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()

			// Shed load first, then snapshot every live room.
			if err := srv.Shutdown(ctx); err != nil {
				rt.Logger.Error("graceful shutdown did not complete", "timeout", cfg.Server.ShutdownTimeout, "err", err)
				if err := srv.Close(); err != nil {
					rt.Logger.Error("error killing server", "err", err)
				}
			}
			if err := rt.Close(ctx); err != nil {
				rt.Logger.Error("error closing runtime", "err", err)
			}
			rt.Logger.Info("encounter server stopped")
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", ":8080", "Address to listen on (overrides config)")
}
