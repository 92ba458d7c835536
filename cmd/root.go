package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "feed-api",
		Usage: "A self-hosted feed aggregation backend",
		Description: `Feed API aggregates RSS, Atom and RDF feeds into an SQLite
		database and serves them over a Fever-compatible sync API, so any
		Fever-capable reader client can use it as its backend.

		Feeds are added and refreshed with the feed commands; users,
		groups and their feed memberships are managed with the user and
		group commands. The serve command runs the HTTP API together with
		a background refresh loop.

		Flags can generally be set via environment variables, e.g.:

		--database => FEEDAPI_DATABASE=feed-api.db
		--port => FEEDAPI_PORT=3000
		`,
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			rollbackCmd(),
			feedCmd(),
			groupCmd(),
			userCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func Execute() {
	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
