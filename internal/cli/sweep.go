package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/aiguard/internal/control"
)

var sweepTimeout time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Redeliver due retry tickets once and exit",
	Run:   runSweep,
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepTimeout, "timeout", 5*time.Minute, "maximum duration of the sweep")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	app, err := control.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}

	summary := app.RunOnce(ctx)
	fmt.Printf("processed=%d succeeded=%d failed=%d exhausted=%d\n",
		summary.Processed, summary.Succeeded, summary.Failed, summary.Exhausted)

	if err := app.Stop(context.Background()); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
}
