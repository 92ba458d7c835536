package sync

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/ajgon/feed-api/db"
	"github.com/ajgon/feed-api/models"
)

// APIVersion is reported in every response.
const APIVersion = 3

// Mark targets and states, as they appear on the wire.
const (
	MarkItem  = "item"
	MarkFeed  = "feed"
	MarkGroup = "group"

	AsRead    = "read"
	AsUnread  = "unread"
	AsSaved   = "saved"
	AsUnsaved = "unsaved"
)

// Builder assembles one sync response for an authenticated user. Every
// inclusion is scoped to the user's visible feed set. Inclusions are
// include-once: asking for the same key twice does not refetch.
type Builder struct {
	db      *db.DB
	user    *models.User
	doc     *Doc
	feedIDs []int64
	scoped  bool
}

func New(d *db.DB) *Builder {
	doc := NewDoc()
	doc.Set("api_version", APIVersion)
	return &Builder{db: d, doc: doc}
}

// Doc exposes the assembled response document.
func (b *Builder) Doc() *Doc { return b.doc }

func (b *Builder) SetAuth(ok bool) {
	b.doc.Set("auth", boolToInt(ok))
}

func (b *Builder) SetUser(user *models.User) {
	b.user = user
}

// visibleFeedIDs resolves and caches the ACL scope for this request.
func (b *Builder) visibleFeedIDs(ctx context.Context) ([]int64, error) {
	if b.scoped {
		return b.feedIDs, nil
	}
	ids, err := b.db.VisibleFeedIDs(ctx, b.user)
	if err != nil {
		return nil, err
	}
	b.feedIDs = ids
	b.scoped = true
	return ids, nil
}

// IncludeLastRefreshed reports the previous sync time and records this one.
func (b *Builder) IncludeLastRefreshed(ctx context.Context) error {
	b.doc.Set("last_refreshed_on_time", b.user.LastRefreshedOnTime)
	return b.db.UpdateLastRefreshed(ctx, b.user.ID, time.Now().Unix())
}

func (b *Builder) IncludeGroups(ctx context.Context) error {
	if b.doc.Has("groups") {
		return nil
	}
	feedIDs, err := b.visibleFeedIDs(ctx)
	if err != nil {
		return err
	}
	groups, err := b.db.GroupsForUser(ctx, feedIDs)
	if err != nil {
		return err
	}
	b.doc.Set("groups", lo.Map(groups, func(g models.Group, _ int) *Doc {
		return NewDoc().Set("id", g.ID).Set("title", g.Title)
	}))
	return nil
}

// IncludeFeedsGroups collapses the feed/group join into one row per group
// carrying an ascending, comma-joined list of its visible member feed ids.
func (b *Builder) IncludeFeedsGroups(ctx context.Context) error {
	if b.doc.Has("feeds_groups") {
		return nil
	}
	feedIDs, err := b.visibleFeedIDs(ctx)
	if err != nil {
		return err
	}
	links, err := b.db.FeedGroupsFor(ctx, feedIDs)
	if err != nil {
		return err
	}

	byGroup := make(map[int64][]int64)
	for _, link := range links {
		byGroup[link.GroupID] = append(byGroup[link.GroupID], link.FeedID)
	}
	groupIDs := lo.Keys(byGroup)
	sort.Slice(groupIDs, func(i, j int) bool { return groupIDs[i] < groupIDs[j] })

	rows := lo.Map(groupIDs, func(groupID int64, _ int) *Doc {
		ids := byGroup[groupID]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return NewDoc().Set("group_id", groupID).Set("feed_ids", joinIDs(ids))
	})
	b.doc.Set("feeds_groups", rows)
	return nil
}

func (b *Builder) IncludeFeeds(ctx context.Context) error {
	if b.doc.Has("feeds") {
		return nil
	}
	feeds, err := b.db.FeedsForUser(ctx, b.user)
	if err != nil {
		return err
	}
	// feed_type is an internal routing tag, stripped from output.
	b.doc.Set("feeds", lo.Map(feeds, func(f models.Feed, _ int) *Doc {
		return NewDoc().
			Set("id", f.ID).
			Set("favicon_id", f.FaviconID).
			Set("title", f.Title).
			Set("url", f.URL).
			Set("site_url", f.SiteURL).
			Set("is_spark", boolToInt(f.IsSpark)).
			Set("last_updated_on_time", f.LastUpdatedOnTime)
	}))
	return nil
}

func (b *Builder) IncludeFavicons(ctx context.Context) error {
	if b.doc.Has("favicons") {
		return nil
	}
	feeds, err := b.db.FeedsForUser(ctx, b.user)
	if err != nil {
		return err
	}
	faviconIDs := lo.Uniq(lo.FilterMap(feeds, func(f models.Feed, _ int) (int64, bool) {
		return f.FaviconID, f.FaviconID != 0
	}))
	favicons, err := b.db.FaviconsByIDs(ctx, faviconIDs)
	if err != nil {
		return err
	}
	b.doc.Set("favicons", lo.Map(favicons, func(f models.Favicon, _ int) *Doc {
		return NewDoc().Set("id", f.ID).Set("data", f.Data)
	}))
	return nil
}

// IncludeItems fetches one cursor page plus the full ACL-scoped count.
func (b *Builder) IncludeItems(ctx context.Context, cursor db.ItemCursor) error {
	if b.doc.Has("items") {
		return nil
	}
	feedIDs, err := b.visibleFeedIDs(ctx)
	if err != nil {
		return err
	}
	items, err := b.db.Items(ctx, feedIDs, cursor)
	if err != nil {
		return err
	}
	total, err := b.db.CountItems(ctx, feedIDs)
	if err != nil {
		return err
	}

	b.doc.Set("total_items", strconv.FormatInt(total, 10))
	// guid and added_on_time are ingestion bookkeeping, stripped from
	// output.
	b.doc.Set("items", lo.Map(items, func(it models.Item, _ int) *Doc {
		return NewDoc().
			Set("id", it.ID).
			Set("feed_id", it.FeedID).
			Set("title", it.Title).
			Set("author", it.Author).
			Set("html", it.HTML).
			Set("url", it.URL).
			Set("is_saved", boolToInt(it.IsSaved)).
			Set("is_read", boolToInt(it.IsRead)).
			Set("created_on_time", it.CreatedOnTime)
	}))
	return nil
}

// IncludeLinks is a protocol placeholder; the list is always empty.
func (b *Builder) IncludeLinks() {
	b.doc.Set("links", []*Doc{})
}

func (b *Builder) IncludeUnreadItemIDs(ctx context.Context) error {
	return b.includeItemIDs(ctx, "unread_item_ids", "is_read", false)
}

func (b *Builder) IncludeSavedItemIDs(ctx context.Context) error {
	return b.includeItemIDs(ctx, "saved_item_ids", "is_saved", true)
}

func (b *Builder) includeItemIDs(ctx context.Context, key, field string, value bool) error {
	feedIDs, err := b.visibleFeedIDs(ctx)
	if err != nil {
		return err
	}
	ids, err := b.db.ItemIDsByFlag(ctx, feedIDs, field, value)
	if err != nil {
		return err
	}
	b.doc.Set(key, joinIDs(ids))
	return nil
}

// Mark applies the write API: one item, or every item of a feed/group
// older than before. Unknown kinds and states are ignored, matching the
// protocol's lenient behavior.
func (b *Builder) Mark(ctx context.Context, kind, as string, id, before int64) error {
	kind = strings.ToLower(kind)
	as = strings.ToLower(as)

	var field string
	switch as {
	case AsRead, AsUnread:
		field = "is_read"
	case AsSaved, AsUnsaved:
		field = "is_saved"
	default:
		return nil
	}
	value := as == AsRead || as == AsSaved

	if id <= 0 {
		return nil
	}

	switch kind {
	case MarkItem:
		return b.db.MarkItem(ctx, id, field, value)
	case MarkFeed:
		return b.db.MarkFeed(ctx, id, field, value, before)
	case MarkGroup:
		return b.db.MarkGroup(ctx, id, field, value, before)
	}
	return nil
}

func joinIDs(ids []int64) string {
	return strings.Join(lo.Map(ids, func(id int64, _ int) string {
		return strconv.FormatInt(id, 10)
	}), ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
