package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "newsdigest",
		Short: "Collect news, summarize with an LLM, and post digests to a channel",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(runCommand())
	root.AddCommand(cycleCommand())
	root.AddCommand(statusCommand())
	root.AddCommand(itemsCommand())
	root.AddCommand(cyclesCommand())

	return root
}

func runCommand() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the daemon: scheduler, control API, and admin bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "control API port (default: from config)")
	return cmd
}

func cycleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run a single fetch-summarize-publish cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycle()
		},
	}
}

func statusCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show item counts and recent cycle outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func itemsCommand() *cobra.Command {
	var (
		state      string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "items",
		Short: "List stored items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runItems(state, limit, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "filter by state (NEW, SUMMARIZED, POSTED, FAILED)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max items to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func cyclesCommand() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "cycles",
		Short: "List recent cycle records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycles(limit, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "max cycles to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
