package server

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/ajgon/feed-api/db"
	syncapi "github.com/ajgon/feed-api/sync"
)

type ServerConfig struct {
	// DB is the shared datastore handle; one connection serves each
	// request sequentially.
	DB *db.DB
}

// Credentials are md5 hex digests; everything else in the input is noise.
var nonHex = regexp.MustCompile(`[^0-9a-f]`)

// Server returns a fiber.App serving the sync API.
func Server(config *ServerConfig) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"latency": time.Since(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	handler := syncHandler(config.DB)
	app.All("/", handler)
	app.All("/fever", handler)

	return app
}

// syncHandler answers one Fever-style sync call: authenticate, apply at
// most one mark mutation, then run the requested inclusions in protocol
// order.
func syncHandler(d *db.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.Context()
		format := c.Query("api", "json")

		builder := syncapi.New(d)

		apiKey := nonHex.ReplaceAllString(strings.ToLower(c.FormValue("api_key")), "")
		user, err := d.UserByAPIKey(ctx, apiKey)
		if err != nil {
			// Unknown key: respond auth=0, process nothing else.
			builder.SetAuth(false)
			return respond(c, builder, format)
		}
		builder.SetAuth(true)
		builder.SetUser(user)

		if err := builder.IncludeLastRefreshed(ctx); err != nil {
			return err
		}

		if kind := c.FormValue("mark"); kind != "" {
			as := c.FormValue("as")
			id, _ := strconv.ParseInt(c.FormValue("id"), 10, 64)
			before, _ := strconv.ParseInt(c.FormValue("before"), 10, 64)
			if err := builder.Mark(ctx, kind, as, id, before); err != nil {
				return err
			}
			// Item marks report the updated id list right away.
			if kind == syncapi.MarkItem {
				switch as {
				case syncapi.AsRead, syncapi.AsUnread:
					if err := builder.IncludeUnreadItemIDs(ctx); err != nil {
						return err
					}
				case syncapi.AsSaved, syncapi.AsUnsaved:
					if err := builder.IncludeSavedItemIDs(ctx); err != nil {
						return err
					}
				}
			}
		}

		query := c.Context().QueryArgs()

		if query.Has("groups") {
			if err := builder.IncludeGroups(ctx); err != nil {
				return err
			}
			if err := builder.IncludeFeedsGroups(ctx); err != nil {
				return err
			}
		}
		if query.Has("feeds") {
			if err := builder.IncludeFeedsGroups(ctx); err != nil {
				return err
			}
			if err := builder.IncludeFeeds(ctx); err != nil {
				return err
			}
		}
		if query.Has("favicons") {
			if err := builder.IncludeFavicons(ctx); err != nil {
				return err
			}
		}
		if query.Has("items") {
			cursor := db.ItemCursor{}
			cursor.SinceID, _ = strconv.ParseInt(c.Query("since_id"), 10, 64)
			cursor.MaxID, _ = strconv.ParseInt(c.Query("max_id"), 10, 64)
			cursor.WithIDs = parseIDList(c.Query("with_ids"))
			if err := builder.IncludeItems(ctx, cursor); err != nil {
				return err
			}
		}
		if query.Has("links") {
			builder.IncludeLinks()
		}
		if query.Has("unread_item_ids") {
			if err := builder.IncludeUnreadItemIDs(ctx); err != nil {
				return err
			}
		}
		if query.Has("saved_item_ids") {
			if err := builder.IncludeSavedItemIDs(ctx); err != nil {
				return err
			}
		}

		return respond(c, builder, format)
	}
}

func respond(c *fiber.Ctx, builder *syncapi.Builder, format string) error {
	if format == "xml" {
		c.Set(fiber.HeaderContentType, "text/xml; charset=utf-8")
		return c.SendString(builder.Doc().RenderXML())
	}
	return c.JSON(builder.Doc())
}

func parseIDList(value string) []int64 {
	if value == "" {
		return nil
	}
	var ids []int64
	for _, part := range strings.Split(value, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
