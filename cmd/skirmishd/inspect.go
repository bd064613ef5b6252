package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tabletoplab/skirmish/internal/config"
	"github.com/tabletoplab/skirmish/internal/persist"
	"github.com/tabletoplab/skirmish/internal/presentation/graph"
	"github.com/tabletoplab/skirmish/internal/presentation/tui"
	"github.com/tabletoplab/skirmish/pkg/adapters/redis"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <interaction-id>",
	Short: "Inspect the saved snapshot of an encounter",
	Long: `Loads the latest snapshot for an encounter from the configured store
and renders a readable summary: status, initiative, combatant health and
recent turns. With --graph it emits a Mermaid diagram of the initiative
order instead, suitable for pasting into docs.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		asGraph, _ := cmd.Flags().GetBool("graph")
		interactionID := args[0]

		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Printf("Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		if cfg.Redis.Addr == "" {
			fmt.Println("inspect needs a configured redis store (redis.addr); the in-memory store has nothing to inspect")
			os.Exit(1)
		}

		store := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redis.WithPrefix(cfg.Redis.KeyPrefix),
		)
		defer store.Close()

		persister := persist.New(store, cfg.PersistConfig())

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		state, snapshot, err := persister.Peek(ctx, interactionID)
		if err != nil {
			fmt.Printf("Error loading snapshot: %v\n", err)
			os.Exit(1)
		}

		if asGraph {
			fmt.Println(graph.GenerateMermaid(state))
			return
		}

		width := 0
		if term.IsTerminal(int(os.Stdout.Fd())) {
			if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
				width = w
			}
		}

		render := tui.NewRenderer(width)
		out, err := render(tui.Summary(state))
		if err != nil {
			fmt.Printf("Error rendering summary: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(out)
		fmt.Printf("snapshot: trigger=%s compressed=%t saved=%s\n",
			snapshot.Trigger, snapshot.Compressed, snapshot.Timestamp.Format(time.RFC3339))
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().Bool("graph", false, "Emit a Mermaid initiative diagram instead of a summary")
}
