package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/aiguard/internal/control"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show capability health and the retry backlog",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stores, err := control.OpenStores(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = stores.Close()
	}()

	pending, err := stores.Tickets.CountPending(ctx)
	if err != nil {
		slog.Error("Failed to count pending tickets", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Storage: %s\nPending retries: %d\n\n", cfg.Storage.Driver, pending)

	states, err := stores.Health.LoadAll(ctx)
	if err != nil {
		slog.Error("Failed to load capability health", "error", err)
		os.Exit(1)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Capability < states[j].Capability })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CAPABILITY\tFAILURES\tFALLBACK\tUPDATED")
	for _, h := range states {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%t\t%s\n",
			h.Capability, h.ConsecutiveFailures, h.FallbackActive, h.UpdatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}
