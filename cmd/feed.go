package cmd

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/cqroot/prompt"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/ajgon/feed-api/config"
	"github.com/ajgon/feed-api/db"
	"github.com/ajgon/feed-api/fetcher"
	"github.com/ajgon/feed-api/models"
	"github.com/ajgon/feed-api/parser"
)

// Served when a site has no discoverable icon: a 1x1 transparent gif.
const fallbackFavicon = "data:image/gif;base64,R0lGODlhAQABAIAAAP///wAAACH5BAEAAAAALAAAAAABAAEAAAICRAEAOw=="

func feedCmd() *cli.Command {
	return &cli.Command{
		Name:  "feed",
		Usage: "Manage feeds",
		Subcommands: []*cli.Command{
			feedAddCmd(),
			feedListCmd(),
			feedRefreshCmd(),
			feedRemoveCmd(),
		},
	}
}

func feedAddCmd() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Discover and add a feed",
		ArgsUsage: "<url>",
		Description: `Probes the given URL for feeds. A direct feed URL is added as-is;
an HTML page is scanned for alternate feed links and, when several are
declared, one is picked interactively. The site favicon is discovered
and stored alongside the feed.`,
		Flags: []cli.Flag{
			databaseFlag(),
		},
		Action: func(ctx *cli.Context) error {
			pageURL := ctx.Args().First()
			if pageURL == "" {
				return fmt.Errorf("usage: feed add <url>")
			}

			database, err := db.Connect(ctx.String("database"))
			if err != nil {
				return err
			}
			defer database.Close()

			f := defaultFetcher()

			candidates, err := parser.DiscoverFeeds(ctx.Context, f, pageURL)
			if err != nil {
				return err
			}
			if len(candidates) == 0 {
				return fmt.Errorf("%w: no feeds found at %s", models.ErrEmptySelection, pageURL)
			}

			candidate := candidates[0]
			if len(candidates) > 1 {
				labels := make([]string, len(candidates))
				for i, c := range candidates {
					labels[i] = fmt.Sprintf("%s (%s)", c.Title, c.URL)
				}
				picked, err := prompt.New().Ask("Which feed?").Choose(labels)
				if err != nil {
					return err
				}
				for i, label := range labels {
					if label == picked {
						candidate = candidates[i]
					}
				}
			}

			batch, err := parser.ParseURL(ctx.Context, f, candidate.Type, candidate.URL)
			if err != nil {
				return err
			}
			if candidate.Title != "" {
				batch.Feed.Title = candidate.Title
			}

			faviconID, err := ingestFavicon(ctx.Context, database, f, candidate.URL)
			if err != nil {
				return err
			}
			batch.Feed.FaviconID = faviconID

			// Items arrive on the first refresh; add only records the feed.
			batch.Items = nil

			result, err := database.Ingest(ctx.Context, *batch, false)
			if err != nil {
				return err
			}

			fmt.Printf("Added feed %d: %s (%s)\n", result.FeedID, batch.Feed.Title, batch.Feed.URL)
			return nil
		},
	}
}

func feedListCmd() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List all feeds",
		Flags: []cli.Flag{
			databaseFlag(),
		},
		Action: func(ctx *cli.Context) error {
			database, err := db.Connect(ctx.String("database"))
			if err != nil {
				return err
			}
			defer database.Close()

			feeds, err := database.ListFeeds(ctx.Context)
			if err != nil {
				return err
			}
			for _, feed := range feeds {
				fmt.Printf("%d\t%s\t%s\t%s\n", feed.ID, feed.FeedType, feed.Title, feed.URL)
			}
			return nil
		},
	}
}

func feedRefreshCmd() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Refresh all feeds once",
		Description: `Fetches and reparses every stored feed. By default the stored feed
metadata is overwritten with whatever the feed reports now; with
--keep-metadata only items are reconciled.`,
		Flags: []cli.Flag{
			databaseFlag(),
			&cli.BoolFlag{
				Name:  "keep-metadata",
				Usage: "Only reconcile items, leave feed metadata untouched",
			},
		},
		Action: func(ctx *cli.Context) error {
			database, err := db.Connect(ctx.String("database"))
			if err != nil {
				return err
			}
			defer database.Close()

			f := defaultFetcher()
			overwrite := !ctx.Bool("keep-metadata")

			feeds, err := database.ListFeeds(ctx.Context)
			if err != nil {
				return err
			}

			for _, feed := range feeds {
				batch, err := parser.ParseURL(ctx.Context, f, feed.FeedType, feed.URL)
				if err != nil {
					log.WithFields(log.Fields{
						"feed": feed.URL,
					}).Errorf("Error refreshing feed: %v", err)
					continue
				}
				if !overwrite {
					for i := range batch.Items {
						batch.Items[i].FeedID = feed.ID
					}
					batch.Feed = nil
				}
				result, err := database.Ingest(ctx.Context, *batch, overwrite)
				if err != nil {
					log.WithFields(log.Fields{
						"feed": feed.URL,
					}).Errorf("Error ingesting feed: %v", err)
					continue
				}
				fmt.Printf("Refreshed %s: %d new or updated items\n", feed.URL, len(result.ItemIDs))
			}
			return nil
		},
	}
}

func feedRemoveCmd() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "Remove a feed and its items",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			databaseFlag(),
		},
		Action: func(ctx *cli.Context) error {
			feedID, err := argID(ctx, "feed")
			if err != nil {
				return err
			}

			database, err := db.Connect(ctx.String("database"))
			if err != nil {
				return err
			}
			defer database.Close()

			answer, err := prompt.New().Ask("Remove the feed and all of its items?").Choose([]string{"yes", "no"})
			if err != nil {
				return err
			}
			if answer != "yes" {
				return nil
			}

			return database.DeleteFeed(ctx.Context, feedID)
		},
	}
}

// ingestFavicon stores the icon discovered for a feed URL as a data URI
// and returns its row id. Discovery or fetch failures fall back to a
// placeholder icon rather than failing the add.
func ingestFavicon(ctx context.Context, database *db.DB, f *fetcher.Fetcher, feedURL string) (int64, error) {
	data := fallbackFavicon

	iconURL, err := parser.DiscoverFavicon(ctx, f, feedURL)
	if err == nil && iconURL != "" {
		if raw, err := f.Fetch(ctx, iconURL); err == nil && len(raw) > 0 {
			mime := http.DetectContentType(raw)
			data = "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(raw)
		}
	}

	result, err := database.Ingest(ctx, models.Batch{Favicon: &models.Favicon{Data: data}}, false)
	if err != nil {
		return 0, err
	}
	return result.FaviconID, nil
}

func defaultFetcher() *fetcher.Fetcher {
	cfg := config.Default()
	return fetcher.New(cfg.Fetch.TimeoutSeconds, cfg.Fetch.UserAgent, cfg.Fetch.MaxRetries)
}

func argID(ctx *cli.Context, what string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(ctx.Args().First(), "%d", &id); err != nil || id <= 0 {
		return 0, fmt.Errorf("usage: %s command expects a numeric id", what)
	}
	return id, nil
}
