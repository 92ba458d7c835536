package db

import (
	"context"
	"database/sql"
	"fmt"

	sqlbuilder "github.com/huandu/go-sqlbuilder"

	"github.com/ajgon/feed-api/models"
)

// itemPageSize caps every item page, regardless of cursor mode.
const itemPageSize = 50

// ItemCursor selects one of the four mutually exclusive pagination modes.
// Precedence: SinceID > MaxID > WithIDs > unscoped.
type ItemCursor struct {
	SinceID int64
	MaxID   int64
	WithIDs []int64
}

// UserByAPIKey resolves a user from their api key. Unknown keys yield
// models.ErrUnknownAPIKey.
func (d *DB) UserByAPIKey(ctx context.Context, apiKey string) (*models.User, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("id", "email", "api_key", "super", "last_refreshed_on_time").
		From("users").Where(sb.Equal("api_key", apiKey))
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	var user models.User
	var super int
	err := d.db.QueryRowContext(ctx, query, args...).
		Scan(&user.ID, &user.Email, &user.APIKey, &super, &user.LastRefreshedOnTime)
	if err == sql.ErrNoRows {
		return nil, models.ErrUnknownAPIKey
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	user.Super = super != 0
	return &user, nil
}

// VisibleFeedIDs resolves the feed set a user may see: every feed for
// super users, otherwise the feeds joined via feeds_users.
func (d *DB) VisibleFeedIDs(ctx context.Context, user *models.User) ([]int64, error) {
	sb := sqlbuilder.NewSelectBuilder()
	if user.Super {
		sb.Select("id").From("feeds").OrderBy("id").Asc()
	} else {
		sb.Select("feeds.id").From("feeds").
			Join("feeds_users", "feeds.id = feeds_users.feed_id").
			Where(sb.Equal("feeds_users.user_id", user.ID)).
			OrderBy("feeds.id").Asc()
	}
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)
	return d.queryIDs(ctx, query, args)
}

// FeedsForUser returns the full feed rows visible to a user.
func (d *DB) FeedsForUser(ctx context.Context, user *models.User) ([]models.Feed, error) {
	sb := sqlbuilder.NewSelectBuilder()
	cols := []string{"feeds.id", "feeds.favicon_id", "feeds.feed_type", "feeds.title",
		"feeds.url", "feeds.site_url", "feeds.is_spark", "feeds.last_updated_on_time"}
	if user.Super {
		sb.Select(cols...).From("feeds").OrderBy("feeds.id").Asc()
	} else {
		sb.Select(cols...).From("feeds").
			Join("feeds_users", "feeds.id = feeds_users.feed_id").
			Where(sb.Equal("feeds_users.user_id", user.ID)).
			OrderBy("feeds.id").Asc()
	}
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer rows.Close()

	var feeds []models.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, feed)
	}
	return feeds, rows.Err()
}

// GroupsForUser returns the groups reachable through the user's visible
// feeds.
func (d *DB) GroupsForUser(ctx context.Context, feedIDs []int64) ([]models.Group, error) {
	if len(feedIDs) == 0 {
		return nil, nil
	}
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("groups.id", "groups.title").From("groups").
		Join("feeds_groups", "groups.id = feeds_groups.group_id").
		Where(sb.In("feeds_groups.feed_id", int64Args(feedIDs)...)).
		GroupBy("groups.id").
		OrderBy("groups.id").Asc()
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var groups []models.Group
	for rows.Next() {
		var g models.Group
		var title sql.NullString
		if err := rows.Scan(&g.ID, &title); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		g.Title = title.String
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// FeedGroupsFor returns the feed/group join rows restricted to the given
// feeds, ordered by group id.
func (d *DB) FeedGroupsFor(ctx context.Context, feedIDs []int64) ([]models.FeedGroup, error) {
	if len(feedIDs) == 0 {
		return nil, nil
	}
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("feed_id", "group_id").From("feeds_groups").
		Where(sb.In("feed_id", int64Args(feedIDs)...)).
		OrderBy("group_id").Asc()
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feeds_groups: %w", err)
	}
	defer rows.Close()

	var links []models.FeedGroup
	for rows.Next() {
		var fg models.FeedGroup
		if err := rows.Scan(&fg.FeedID, &fg.GroupID); err != nil {
			return nil, fmt.Errorf("scan feeds_groups: %w", err)
		}
		links = append(links, fg)
	}
	return links, rows.Err()
}

// FaviconsByIDs returns favicon rows for the given ids.
func (d *DB) FaviconsByIDs(ctx context.Context, ids []int64) ([]models.Favicon, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("id", "data").From("favicons").
		Where(sb.In("id", int64Args(ids)...)).
		OrderBy("id").Asc()
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query favicons: %w", err)
	}
	defer rows.Close()

	var favicons []models.Favicon
	for rows.Next() {
		var f models.Favicon
		var data sql.NullString
		if err := rows.Scan(&f.ID, &data); err != nil {
			return nil, fmt.Errorf("scan favicon: %w", err)
		}
		f.Data = data.String
		favicons = append(favicons, f)
	}
	return favicons, rows.Err()
}

// Items returns one page of items from the given feeds. Exactly one cursor
// mode applies, in the precedence SinceID > MaxID > WithIDs > unscoped.
// The max_id window is fetched descending and presented ascending; that
// ascending-after-fetch order is the one documented behavior.
func (d *DB) Items(ctx context.Context, feedIDs []int64, cursor ItemCursor) ([]models.Item, error) {
	if len(feedIDs) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("id", "feed_id", "guid", "title", "author", "html", "url",
		"is_saved", "is_read", "created_on_time", "added_on_time").
		From("items").
		Where(sb.In("feed_id", int64Args(feedIDs)...)).
		Limit(itemPageSize)

	reverse := false
	switch {
	case cursor.SinceID != 0:
		sb.Where(sb.GreaterThan("id", cursor.SinceID)).OrderBy("id").Asc()
	case cursor.MaxID != 0:
		sb.Where(sb.LessThan("id", cursor.MaxID)).OrderBy("id").Desc()
		reverse = true
	case len(cursor.WithIDs) > 0:
		sb.Where(sb.In("id", int64Args(cursor.WithIDs)...)).OrderBy("id").Asc()
	default:
		sb.OrderBy("id").Asc()
	}

	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if reverse {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}
	return items, nil
}

// CountItems reports the full item count across the given feeds,
// independent of any page window.
func (d *DB) CountItems(ctx context.Context, feedIDs []int64) (int64, error) {
	if len(feedIDs) == 0 {
		return 0, nil
	}
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("count(*)").From("items").Where(sb.In("feed_id", int64Args(feedIDs)...))
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	var count int64
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return count, nil
}

// ItemIDsByFlag returns ascending item ids from the given feeds where the
// boolean column (is_read or is_saved) has the given value.
func (d *DB) ItemIDsByFlag(ctx context.Context, feedIDs []int64, field string, value bool) ([]int64, error) {
	if len(feedIDs) == 0 {
		return nil, nil
	}
	if err := validateFlagField(field); err != nil {
		return nil, err
	}
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("id").From("items").
		Where(sb.In("feed_id", int64Args(feedIDs)...)).
		Where(sb.Equal(field, boolToInt(value))).
		OrderBy("id").Asc()
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)
	return d.queryIDs(ctx, query, args)
}

// ListFeeds returns every feed, ordered by id.
func (d *DB) ListFeeds(ctx context.Context) ([]models.Feed, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("id", "favicon_id", "feed_type", "title", "url", "site_url",
		"is_spark", "last_updated_on_time").
		From("feeds").OrderBy("id").Asc()
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer rows.Close()

	var feeds []models.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, feed)
	}
	return feeds, rows.Err()
}

// ListGroups returns every group, ordered by id.
func (d *DB) ListGroups(ctx context.Context) ([]models.Group, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("id", "title").From("groups").OrderBy("id").Asc()
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var groups []models.Group
	for rows.Next() {
		var g models.Group
		var title sql.NullString
		if err := rows.Scan(&g.ID, &title); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		g.Title = title.String
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// ListUsers returns every user, ordered by id.
func (d *DB) ListUsers(ctx context.Context) ([]models.User, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("id", "email", "api_key", "super", "last_refreshed_on_time").
		From("users").OrderBy("id").Asc()
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var super int
		if err := rows.Scan(&u.ID, &u.Email, &u.APIKey, &super, &u.LastRefreshedOnTime); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Super = super != 0
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateLastRefreshed records the time of the user's latest sync call.
func (d *DB) UpdateLastRefreshed(ctx context.Context, userID int64, now int64) error {
	ub := sqlbuilder.NewUpdateBuilder()
	ub.Update("users").Set(ub.Assign("last_refreshed_on_time", now)).Where(ub.Equal("id", userID))
	query, args := ub.BuildWithFlavor(sqlbuilder.SQLite)
	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update last_refreshed_on_time: %w", err)
	}
	return nil
}

func (d *DB) queryIDs(ctx context.Context, query string, args []interface{}) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFeed(row rowScanner) (models.Feed, error) {
	var feed models.Feed
	var faviconID sql.NullInt64
	var feedType string
	var isSpark int
	err := row.Scan(&feed.ID, &faviconID, &feedType, &feed.Title, &feed.URL,
		&feed.SiteURL, &isSpark, &feed.LastUpdatedOnTime)
	if err != nil {
		return feed, fmt.Errorf("scan feed: %w", err)
	}
	feed.FaviconID = faviconID.Int64
	feed.FeedType = models.FeedType(feedType)
	feed.IsSpark = isSpark != 0
	return feed, nil
}

func scanItem(row rowScanner) (models.Item, error) {
	var item models.Item
	var author sql.NullString
	var isSaved, isRead int
	err := row.Scan(&item.ID, &item.FeedID, &item.GUID, &item.Title, &author,
		&item.HTML, &item.URL, &isSaved, &isRead, &item.CreatedOnTime, &item.AddedOnTime)
	if err != nil {
		return item, fmt.Errorf("scan item: %w", err)
	}
	item.Author = author.String
	item.IsSaved = isSaved != 0
	item.IsRead = isRead != 0
	return item, nil
}

func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
