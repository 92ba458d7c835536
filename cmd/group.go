package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ajgon/feed-api/db"
	"github.com/ajgon/feed-api/models"
)

func groupCmd() *cli.Command {
	return &cli.Command{
		Name:  "group",
		Usage: "Manage feed groups",
		Subcommands: []*cli.Command{
			groupAddCmd(),
			groupListCmd(),
			groupRemoveCmd(),
			groupAttachCmd(),
			groupDetachCmd(),
		},
	}
}

func groupAddCmd() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Create a group",
		ArgsUsage: "<title>",
		Flags: []cli.Flag{
			databaseFlag(),
		},
		Action: func(ctx *cli.Context) error {
			title := ctx.Args().First()
			if title == "" {
				return fmt.Errorf("usage: group add <title>")
			}

			database, err := db.Connect(ctx.String("database"))
			if err != nil {
				return err
			}
			defer database.Close()

			result, err := database.Ingest(ctx.Context, models.Batch{Group: &models.Group{Title: title}}, false)
			if err != nil {
				return err
			}
			fmt.Printf("Added group %d: %s\n", result.GroupID, title)
			return nil
		},
	}
}

func groupListCmd() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List all groups",
		Flags: []cli.Flag{
			databaseFlag(),
		},
		Action: func(ctx *cli.Context) error {
			database, err := db.Connect(ctx.String("database"))
			if err != nil {
				return err
			}
			defer database.Close()

			groups, err := database.ListGroups(ctx.Context)
			if err != nil {
				return err
			}
			for _, group := range groups {
				fmt.Printf("%d\t%s\n", group.ID, group.Title)
			}
			return nil
		},
	}
}

func groupRemoveCmd() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "Remove a group",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			databaseFlag(),
		},
		Action: func(ctx *cli.Context) error {
			groupID, err := argID(ctx, "group")
			if err != nil {
				return err
			}

			database, err := db.Connect(ctx.String("database"))
			if err != nil {
				return err
			}
			defer database.Close()

			return database.DeleteGroup(ctx.Context, groupID)
		},
	}
}

func groupAttachCmd() *cli.Command {
	return &cli.Command{
		Name:      "attach",
		Usage:     "Attach a feed to a group",
		ArgsUsage: "<feed-id> <group-id>",
		Flags: []cli.Flag{
			databaseFlag(),
		},
		Action: func(ctx *cli.Context) error {
			feedID, groupID, err := argIDPair(ctx, "group attach")
			if err != nil {
				return err
			}

			database, err := db.Connect(ctx.String("database"))
			if err != nil {
				return err
			}
			defer database.Close()

			return database.AttachFeedGroup(ctx.Context, feedID, groupID)
		},
	}
}

func groupDetachCmd() *cli.Command {
	return &cli.Command{
		Name:      "detach",
		Usage:     "Detach a feed from a group",
		ArgsUsage: "<feed-id> <group-id>",
		Flags: []cli.Flag{
			databaseFlag(),
		},
		Action: func(ctx *cli.Context) error {
			feedID, groupID, err := argIDPair(ctx, "group detach")
			if err != nil {
				return err
			}

			database, err := db.Connect(ctx.String("database"))
			if err != nil {
				return err
			}
			defer database.Close()

			return database.DetachFeedGroup(ctx.Context, feedID, groupID)
		},
	}
}

func argIDPair(ctx *cli.Context, what string) (int64, int64, error) {
	var first, second int64
	if _, err := fmt.Sscanf(ctx.Args().Get(0), "%d", &first); err != nil || first <= 0 {
		return 0, 0, fmt.Errorf("usage: %s expects two numeric ids", what)
	}
	if _, err := fmt.Sscanf(ctx.Args().Get(1), "%d", &second); err != nil || second <= 0 {
		return 0, 0, fmt.Errorf("usage: %s expects two numeric ids", what)
	}
	return first, second, nil
}
