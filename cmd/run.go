package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var flagOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the check worker",
	Long: `Check due items in batches until interrupted.

With --once, process a single batch and exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		worker := newWorker(cfg, store)
		if flagOnce {
			n, err := worker.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Checked %d item(s).\n", n)
			return nil
		}
		worker.Run(ctx)
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&flagOnce, "once", false, "process one batch and exit")
}
