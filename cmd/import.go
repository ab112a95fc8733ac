package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/pricewatch/internal/database"
	"github.com/bryan-buckman/pricewatch/internal/tracker"
	"github.com/bryan-buckman/pricewatch/internal/wishlist"
)

var importCmd = &cobra.Command{
	Use:   "import <feed-url|file>",
	Short: "Track every product linked from an RSS, Atom or JSON feed",
	Long: `Register every entry link of a wishlist feed. The feed is downloaded
when given an http(s) URL and read from disk otherwise.`,
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

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		links, err := wishlist.Load(ctx, args[0])
		if err != nil {
			return err
		}

		imported, skipped := 0, 0
		for _, link := range links {
			_, err := tracker.Register(ctx, store, link, cfg.Worker.CheckEveryMinutes, time.Now())
			switch {
			case err == nil:
				imported++
			case errors.Is(err, database.ErrDuplicateURL), errors.Is(err, tracker.ErrInvalidURL):
				skipped++
			default:
				return fmt.Errorf("importing %s: %w", link, err)
			}
		}
		fmt.Printf("Imported %d of %d link(s), %d skipped.\n", imported, len(links), skipped)
		return nil
	},
}
