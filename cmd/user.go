package cmd

import (
	"crypto/md5"
	"fmt"

	"github.com/cqroot/prompt"
	"github.com/cqroot/prompt/input"
	"github.com/urfave/cli/v2"

	"github.com/ajgon/feed-api/db"
	"github.com/ajgon/feed-api/models"
)

func userCmd() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage sync users",
		Subcommands: []*cli.Command{
			userAddCmd(),
			userListCmd(),
			userRemoveCmd(),
			userAttachCmd(),
			userDetachCmd(),
		},
	}
}

func userAddCmd() *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "Create a sync user",
		Description: `Creates a user interactively. The sync api_key is derived from the
email and password the same way Fever clients derive it, so any client
configured with the same credentials will authenticate.`,
		Flags: []cli.Flag{
			databaseFlag(),
			&cli.BoolFlag{
				Name:  "super",
				Usage: "Grant access to every feed regardless of attachments",
			},
		},
		Action: func(ctx *cli.Context) error {
			database, err := db.Connect(ctx.String("database"))
			if err != nil {
				return err
			}
			defer database.Close()

			email, err := prompt.New().Ask("Email:").Input("user@example.com")
			if err != nil {
				return err
			}

			exists, err := database.UserEmailExists(ctx.Context, email)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("user %s already exists", email)
			}

			password, err := prompt.New().Ask("Password:").Input("", input.WithEchoMode(input.EchoNone))
			if err != nil {
				return err
			}

			user := &models.User{
				Email:  email,
				APIKey: apiKey(email, password),
				Super:  ctx.Bool("super"),
			}
			result, err := database.Ingest(ctx.Context, models.Batch{User: user}, false)
			if err != nil {
				return err
			}

			fmt.Printf("Added user %d: %s\n", result.UserID, email)
			return nil
		},
	}
}

func userListCmd() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List all users",
		Flags: []cli.Flag{
			databaseFlag(),
		},
		Action: func(ctx *cli.Context) error {
			database, err := db.Connect(ctx.String("database"))
			if err != nil {
				return err
			}
			defer database.Close()

			users, err := database.ListUsers(ctx.Context)
			if err != nil {
				return err
			}
			for _, user := range users {
				role := "user"
				if user.Super {
					role = "super"
				}
				fmt.Printf("%d\t%s\t%s\n", user.ID, user.Email, role)
			}
			return nil
		},
	}
}

func userRemoveCmd() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "Remove a user",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			databaseFlag(),
		},
		Action: func(ctx *cli.Context) error {
			userID, err := argID(ctx, "user")
			if err != nil {
				return err
			}

			database, err := db.Connect(ctx.String("database"))
			if err != nil {
				return err
			}
			defer database.Close()

			return database.DeleteUser(ctx.Context, userID)
		},
	}
}

func userAttachCmd() *cli.Command {
	return &cli.Command{
		Name:      "attach",
		Usage:     "Give a user access to a feed",
		ArgsUsage: "<feed-id> <user-id>",
		Flags: []cli.Flag{
			databaseFlag(),
		},
		Action: func(ctx *cli.Context) error {
			feedID, userID, err := argIDPair(ctx, "user attach")
			if err != nil {
				return err
			}

			database, err := db.Connect(ctx.String("database"))
			if err != nil {
				return err
			}
			defer database.Close()

			return database.AttachFeedUser(ctx.Context, feedID, userID)
		},
	}
}

func userDetachCmd() *cli.Command {
	return &cli.Command{
		Name:      "detach",
		Usage:     "Revoke a user's access to a feed",
		ArgsUsage: "<feed-id> <user-id>",
		Flags: []cli.Flag{
			databaseFlag(),
		},
		Action: func(ctx *cli.Context) error {
			feedID, userID, err := argIDPair(ctx, "user detach")
			if err != nil {
				return err
			}

			database, err := db.Connect(ctx.String("database"))
			if err != nil {
				return err
			}
			defer database.Close()

			return database.DetachFeedUser(ctx.Context, feedID, userID)
		},
	}
}

// apiKey derives the Fever-style sync key from the account credentials.
func apiKey(email, password string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(email+":"+password)))
}
