package db

import (
	"context"
	"database/sql"
	"fmt"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"

	"github.com/ajgon/feed-api/models"
)

// Ingest upserts a parse batch into the store. Feed upsert fails with
// models.ErrDuplicateFeed when the url already exists and force is false.
// Items are deduplicated by guid with the monotonic-update rule: an
// existing item is overwritten only when the incoming created_on is newer
// than the stored one (or the stored one is unset); older revisions are
// skipped silently. is_read/is_saved are never touched by ingestion.
//
// No locking is performed; refreshing one feed concurrently with itself is
// the only scenario requiring caller-side serialization.
func (d *DB) Ingest(ctx context.Context, batch models.Batch, force bool) (models.IngestResult, error) {
	var result models.IngestResult

	if batch.Feed != nil {
		feedID, err := d.upsertFeed(ctx, batch.Feed, force)
		if err != nil {
			return result, err
		}
		result.FeedID = feedID
	}

	for _, item := range batch.Items {
		feedID := result.FeedID
		if feedID == 0 {
			feedID = item.FeedID
		}
		itemID, changed, err := d.upsertItem(ctx, item, feedID)
		if err != nil {
			return result, err
		}
		if changed {
			result.ItemIDs = append(result.ItemIDs, itemID)
		}
	}

	if batch.Group != nil {
		id, err := d.insertRow(ctx, "groups", []string{"title"}, batch.Group.Title)
		if err != nil {
			return result, err
		}
		result.GroupID = id
	}

	if batch.User != nil {
		id, err := d.insertRow(ctx, "users", []string{"email", "api_key", "super"},
			batch.User.Email, batch.User.APIKey, boolToInt(batch.User.Super))
		if err != nil {
			return result, err
		}
		result.UserID = id
	}

	if batch.Favicon != nil {
		id, err := d.insertRow(ctx, "favicons", []string{"data"}, batch.Favicon.Data)
		if err != nil {
			return result, err
		}
		result.FaviconID = id
	}

	return result, nil
}

func (d *DB) upsertFeed(ctx context.Context, feed *models.Feed, force bool) (int64, error) {
	existingID, err := d.feedIDByURL(ctx, feed.URL)
	if err != nil {
		return 0, err
	}

	if feed.URL == "" || (existingID != 0 && !force) {
		return 0, fmt.Errorf("%w: %s", models.ErrDuplicateFeed, feed.URL)
	}

	if existingID == 0 {
		ib := sqlbuilder.NewInsertBuilder()
		ib.InsertInto("feeds").
			Cols("favicon_id", "feed_type", "title", "url", "site_url", "is_spark", "last_updated_on_time").
			Values(feed.FaviconID, string(feed.FeedType), feed.Title, feed.URL, feed.SiteURL,
				boolToInt(feed.IsSpark), feed.LastUpdatedOnTime)
		query, args := ib.BuildWithFlavor(sqlbuilder.SQLite)
		res, err := d.db.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("insert feed: %w", err)
		}
		return res.LastInsertId()
	}

	// Overwrite the fields a refresh produces. The favicon is only
	// replaced when the batch carries one, so refreshes keep the icon
	// discovered at add time.
	ub := sqlbuilder.NewUpdateBuilder()
	assigns := []string{
		ub.Assign("feed_type", string(feed.FeedType)),
		ub.Assign("title", feed.Title),
		ub.Assign("site_url", feed.SiteURL),
		ub.Assign("last_updated_on_time", feed.LastUpdatedOnTime),
	}
	if feed.FaviconID != 0 {
		assigns = append(assigns, ub.Assign("favicon_id", feed.FaviconID))
	}
	ub.Update("feeds").Set(assigns...).Where(ub.Equal("id", existingID))
	query, args := ub.BuildWithFlavor(sqlbuilder.SQLite)
	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("update feed: %w", err)
	}
	return existingID, nil
}

func (d *DB) upsertItem(ctx context.Context, item models.Item, feedID int64) (int64, bool, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("id", "created_on_time").From("items").Where(sb.Equal("guid", item.GUID))
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	var existingID, existingCreated int64
	err := d.db.QueryRowContext(ctx, query, args...).Scan(&existingID, &existingCreated)
	switch {
	case err == sql.ErrNoRows:
		ib := sqlbuilder.NewInsertBuilder()
		ib.InsertInto("items").
			Cols("feed_id", "guid", "title", "author", "html", "url", "created_on_time", "added_on_time").
			Values(feedID, item.GUID, item.Title, item.Author, item.HTML, item.URL,
				item.CreatedOnTime, item.AddedOnTime)
		query, args := ib.BuildWithFlavor(sqlbuilder.SQLite)
		res, err := d.db.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, false, fmt.Errorf("insert item: %w", err)
		}
		id, err := res.LastInsertId()
		return id, true, err
	case err != nil:
		return 0, false, fmt.Errorf("lookup item: %w", err)
	}

	// Monotonic update: only a strictly newer revision overwrites.
	if existingCreated != 0 && existingCreated >= item.CreatedOnTime {
		log.WithFields(log.Fields{
			"guid": item.GUID,
		}).Debug("Skipping stale item revision")
		return existingID, false, nil
	}

	ub := sqlbuilder.NewUpdateBuilder()
	ub.Update("items").Set(
		ub.Assign("feed_id", feedID),
		ub.Assign("title", item.Title),
		ub.Assign("author", item.Author),
		ub.Assign("html", item.HTML),
		ub.Assign("url", item.URL),
		ub.Assign("created_on_time", item.CreatedOnTime),
		ub.Assign("added_on_time", item.AddedOnTime),
	).Where(ub.Equal("id", existingID))
	query, args = ub.BuildWithFlavor(sqlbuilder.SQLite)
	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return 0, false, fmt.Errorf("update item: %w", err)
	}
	return existingID, true, nil
}

func (d *DB) insertRow(ctx context.Context, table string, cols []string, values ...interface{}) (int64, error) {
	ib := sqlbuilder.NewInsertBuilder()
	ib.InsertInto(table).Cols(cols...).Values(values...)
	query, args := ib.BuildWithFlavor(sqlbuilder.SQLite)
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	return res.LastInsertId()
}

func (d *DB) feedIDByURL(ctx context.Context, url string) (int64, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("id").From("feeds").Where(sb.Equal("url", url))
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	var id int64
	err := d.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lookup feed: %w", err)
	}
	return id, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
