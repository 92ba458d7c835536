package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/ajgon/feed-api/config"
	"github.com/ajgon/feed-api/db"
	"github.com/ajgon/feed-api/fetcher"
	"github.com/ajgon/feed-api/poller"
	"github.com/ajgon/feed-api/server"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the sync API",
		Description: `Starts the Fever-compatible HTTP server and the background
feed refresher.

Launches the HTTP server on the specified or default port and refreshes
every stored feed on the configured interval. Sync clients authenticate
with their api_key and read groups, feeds, favicons and items from the
SQLite database.`,
		Flags: []cli.Flag{
			databaseFlag(),
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				EnvVars: []string{"FEEDAPI_CONFIG"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   3000,
				Usage:   "Port to listen on",
				EnvVars: []string{"FEEDAPI_PORT"},
			},
		},
		Action: func(ctx *cli.Context) error {
			fmt.Println("Starting feed-api...")

			cfg := config.Default()
			if path := ctx.String("config"); path != "" {
				loaded, err := config.LoadConfig(path)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if ctx.IsSet("database") || cfg.Database.Path == "" {
				cfg.Database.Path = ctx.String("database")
			}
			if ctx.IsSet("port") {
				cfg.Server.Port = ctx.Int("port")
			}

			if err := db.Migrate(cfg.Database.Path); err != nil {
				return err
			}

			database, err := db.Connect(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer database.Close()

			app := server.Server(&server.ServerConfig{DB: database})

			f := fetcher.New(cfg.Fetch.TimeoutSeconds, cfg.Fetch.UserAgent, cfg.Fetch.MaxRetries)
			p := poller.New(ctx.Context, database, f,
				time.Duration(cfg.Refresh.IntervalMinutes)*time.Minute,
				cfg.Refresh.Workers, cfg.Refresh.Overwrite)

			// Graceful shutdown
			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt)
			var wg sync.WaitGroup

			go func() {
				<-c
				fmt.Println("Gracefully shutting down...")
				app.ShutdownWithTimeout(60 * time.Second)
				defer wg.Add(-2) // Decrement the waitgroup counter by 2 after shutdown of server and poller
				p.Stop()
			}()

			fmt.Println("Starting refresh loop...")
			p.Start()

			go func() {
				fmt.Println("Starting server...")
				if err := app.Listen(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
					log.Panic(err)
				}
			}()

			// Wait for both the server and poller to shutdown
			wg.Add(2)
			wg.Wait()

			fmt.Println("Done!")

			return nil
		},
	}
}
