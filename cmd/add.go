package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/pricewatch/internal/database"
	"github.com/bryan-buckman/pricewatch/internal/tracker"
)

var flagEvery int

var addCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Start tracking a product page",
	Args:  cobra.ExactArgs(1),
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

		every := flagEvery
		if every <= 0 {
			every = cfg.Worker.CheckEveryMinutes
		}
		item, err := tracker.Register(context.Background(), store, args[0], every, time.Now())
		if errors.Is(err, database.ErrDuplicateURL) {
			existing, lookupErr := store.GetItemByURL(context.Background(), args[0])
			if lookupErr == nil {
				return fmt.Errorf("%s is already tracked as item %d", args[0], existing.ID)
			}
		}
		if err != nil {
			return err
		}
		fmt.Printf("Tracking item %d (%s), checked every %d minutes.\n", item.ID, item.Site, item.CheckEveryMinutes)
		return nil
	},
}

func init() {
	addCmd.Flags().IntVar(&flagEvery, "every", 0, "check interval in minutes (default from config)")
}
