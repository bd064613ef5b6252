package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tabletoplab/skirmish"
	"github.com/tabletoplab/skirmish/internal/config"
	"github.com/tabletoplab/skirmish/pkg/adapters/mcp"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Starts the skirmish runtime as an MCP server, letting AI agents
inspect rooms and drive encounters as tools.

Supported Transports:
- stdio (default): Standard Input/Output. Ideal for local process integration.
- sse: Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		transport, _ := cmd.Flags().GetString("transport")
		port, _ := cmd.Flags().GetInt("port")

		cfg, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("Error loading configuration: %v", err)
		}

		rt, err := skirmish.New(cfg)
		if err != nil {
			log.Fatalf("Error initializing skirmish: %v", err)
		}

		srv := mcp.NewServer(rt.Registry, skirmish.Version)

		switch transport {
		case "stdio":
			// Keep logs off stdout so they don't corrupt JSON-RPC.
			log.SetOutput(os.Stderr)
			rt.Logger.Info("starting MCP server (stdio)")
			if err := srv.ServeStdio(); err != nil {
				rt.Logger.Error("MCP server execution failed", "err", err)
				os.Exit(1)
			}
		case "sse":
			rt.Logger.Info("starting MCP server (SSE)", "port", port)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := srv.ServeSSE(ctx, port); err != nil {
				if err != http.ErrServerClosed {
					rt.Logger.Error("MCP server execution failed", "err", err)
					os.Exit(1)
				}
			}
			rt.Logger.Info("MCP server stopped gracefully")
		default:
			log.Fatalf("Unknown transport: %s. Supported: stdio, sse", transport)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().Int("port", 8090, "Port to listen on (only for SSE)")
}
