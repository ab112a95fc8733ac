package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bryan-buckman/pricewatch/internal/database"
	"github.com/bryan-buckman/pricewatch/internal/model"
)

var resetCmd = &cobra.Command{
	Use:   "reset <id>",
	Short: "Clear a changed or error status so the item is checked again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.ResetItem(context.Background(), id, time.Now()); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return fmt.Errorf("no item with id %d", id)
			}
			return err
		}
		fmt.Printf("Item %d reset; it will be checked on the next cycle.\n", id)
		return nil
	},
}

var flagHistory int

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an item and its recent price history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		item, err := store.GetItem(ctx, id)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return fmt.Errorf("no item with id %d", id)
			}
			return err
		}
		history, err := store.ListHistory(ctx, id, flagHistory)
		if err != nil {
			return err
		}

		fmt.Print(formatItem(*item, history))
		return nil
	},
}

func init() {
	showCmd.Flags().IntVar(&flagHistory, "history", 10, "number of observations to show")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid item id %q", s)
	}
	return id, nil
}

func formatPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	return humanize.FormatFloat("#,###.##", *p)
}

func formatItem(item model.Item, history []model.PriceHistoryEntry) string {
	name := item.Name
	if name == "" {
		name = "(unnamed)"
	}
	next := "-"
	if item.NextCheckAt != nil {
		next = humanize.Time(*item.NextCheckAt)
	}
	out := fmt.Sprintf("#%d %s [%s]\n  %s\n  status: %s  price: %s  next check: %s\n",
		item.ID, name, item.Site, item.URL, item.Status, formatPrice(item.CurrentPrice), next)
	for _, h := range history {
		out += fmt.Sprintf("  %s  %10s  %s\n", h.SeenAt.Format("2006-01-02 15:04"), formatPrice(h.Price), h.InStock)
	}
	return out
}
