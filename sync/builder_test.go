package sync_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajgon/feed-api/db"
	"github.com/ajgon/feed-api/models"
	syncapi "github.com/ajgon/feed-api/sync"
)

type fixture struct {
	db     *db.DB
	user   *models.User
	feedA  int64
	feedB  int64
	group  int64
	itemsA []int64
}

// newFixture seeds two feeds, one grouped, with the user attached to feed A
// only.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "feed-api.db")
	require.NoError(t, db.Migrate(path))
	d, err := db.Connect(path)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	fx := &fixture{db: d}

	for i, url := range []string{"https://a.example/feed", "https://b.example/feed"} {
		result, err := d.Ingest(ctx, models.Batch{
			Feed: &models.Feed{
				FeedType:          models.FeedTypeRSS,
				Title:             fmt.Sprintf("Feed %d", i+1),
				URL:               url,
				SiteURL:           "https://site.example",
				LastUpdatedOnTime: 100,
			},
		}, false)
		require.NoError(t, err)
		if i == 0 {
			fx.feedA = result.FeedID
		} else {
			fx.feedB = result.FeedID
		}
	}

	var items []models.Item
	for i := 1; i <= 3; i++ {
		items = append(items, models.Item{
			FeedID:        fx.feedA,
			GUID:          fmt.Sprintf("guid-%d", i),
			Title:         fmt.Sprintf("Item %d", i),
			HTML:          "<p>body</p>",
			URL:           fmt.Sprintf("https://site.example/%d", i),
			CreatedOnTime: int64(1000 + i),
			AddedOnTime:   int64(2000 + i),
		})
	}
	itemResult, err := d.Ingest(ctx, models.Batch{Items: items}, false)
	require.NoError(t, err)
	fx.itemsA = itemResult.ItemIDs

	groupResult, err := d.Ingest(ctx, models.Batch{Group: &models.Group{Title: "Tech"}}, false)
	require.NoError(t, err)
	fx.group = groupResult.GroupID
	require.NoError(t, d.AttachFeedGroup(ctx, fx.feedA, fx.group))
	require.NoError(t, d.AttachFeedGroup(ctx, fx.feedB, fx.group))

	userResult, err := d.Ingest(ctx, models.Batch{
		User: &models.User{Email: "user@example.com", APIKey: "abcd"},
	}, false)
	require.NoError(t, err)
	require.NoError(t, d.AttachFeedUser(ctx, fx.feedA, userResult.UserID))

	fx.user, err = d.UserByAPIKey(ctx, "abcd")
	require.NoError(t, err)

	return fx
}

func newBuilder(fx *fixture) *syncapi.Builder {
	b := syncapi.New(fx.db)
	b.SetAuth(true)
	b.SetUser(fx.user)
	return b
}

func TestBuilderBaseDocument(t *testing.T) {
	fx := newFixture(t)
	b := newBuilder(fx)

	out, err := json.Marshal(b.Doc())
	require.NoError(t, err)
	assert.Equal(t, `{"api_version":3,"auth":1}`, string(out))
}

func TestBuilderGroupsScopedToUser(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	b := newBuilder(fx)

	require.NoError(t, b.IncludeGroups(ctx))
	require.NoError(t, b.IncludeFeedsGroups(ctx))

	out, err := json.Marshal(b.Doc())
	require.NoError(t, err)
	// Only feed A is visible, so the group's feed_ids list shrinks with it.
	expected := fmt.Sprintf(
		`{"api_version":3,"auth":1,"groups":[{"id":%d,"title":"Tech"}],"feeds_groups":[{"group_id":%d,"feed_ids":"%d"}]}`,
		fx.group, fx.group, fx.feedA)
	assert.Equal(t, expected, string(out))
}

func TestBuilderFeedsStripFeedType(t *testing.T) {
	fx := newFixture(t)
	b := newBuilder(fx)

	require.NoError(t, b.IncludeFeeds(context.Background()))

	out, err := json.Marshal(b.Doc())
	require.NoError(t, err)
	assert.NotContains(t, string(out), "feed_type")
	assert.Contains(t, string(out), `"title":"Feed 1"`)
	assert.NotContains(t, string(out), `"title":"Feed 2"`, "unattached feed stays invisible")
}

func TestBuilderItems(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	b := newBuilder(fx)

	require.NoError(t, b.IncludeItems(ctx, db.ItemCursor{}))

	out, err := json.Marshal(b.Doc())
	require.NoError(t, err)
	assert.Contains(t, string(out), `"total_items":"3"`, "total is a string")
	assert.NotContains(t, string(out), "guid")
	assert.NotContains(t, string(out), "added_on_time")
	assert.Contains(t, string(out), `"html":"<p>body</p>"`)
}

func TestBuilderItemsIncludeOnce(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	b := newBuilder(fx)

	require.NoError(t, b.IncludeItems(ctx, db.ItemCursor{SinceID: fx.itemsA[0]}))
	// A second call with a different cursor must not refetch.
	require.NoError(t, b.IncludeItems(ctx, db.ItemCursor{}))

	items, ok := b.Doc().Get("items")
	require.True(t, ok)
	assert.Len(t, items.([]*syncapi.Doc), 2)
}

func TestBuilderItemIDLists(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.db.MarkItem(ctx, fx.itemsA[1], "is_read", true))
	require.NoError(t, fx.db.MarkItem(ctx, fx.itemsA[2], "is_saved", true))

	b := newBuilder(fx)
	require.NoError(t, b.IncludeUnreadItemIDs(ctx))
	require.NoError(t, b.IncludeSavedItemIDs(ctx))

	unread, _ := b.Doc().Get("unread_item_ids")
	assert.Equal(t, fmt.Sprintf("%d,%d", fx.itemsA[0], fx.itemsA[2]), unread)
	saved, _ := b.Doc().Get("saved_item_ids")
	assert.Equal(t, fmt.Sprintf("%d", fx.itemsA[2]), saved)
}

func TestBuilderMark(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		kind   string
		as     string
		id     int64
		before int64
		read   int
	}{
		{name: "mark item read", kind: "item", as: "read", id: 0, read: 1},
		{name: "mark feed read before cutoff", kind: "feed", as: "read", before: 9999, read: 3},
		{name: "unknown kind is ignored", kind: "folder", as: "read", id: 1, read: 3},
		{name: "unknown state is ignored", kind: "item", as: "starred", id: 1, read: 3},
		{name: "zero id is ignored", kind: "item", as: "read", id: -1, read: 3},
	}

	b := newBuilder(fx)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := tt.id
			if tt.name == "mark item read" {
				id = fx.itemsA[0]
			}
			if tt.kind == "feed" {
				id = fx.feedA
			}
			require.NoError(t, b.Mark(ctx, tt.kind, tt.as, id, tt.before))

			read, err := fx.db.ItemIDsByFlag(ctx, []int64{fx.feedA}, "is_read", true)
			require.NoError(t, err)
			assert.Len(t, read, tt.read)
		})
	}
}

func TestBuilderMarkGroupSaved(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	b := newBuilder(fx)

	require.NoError(t, b.Mark(ctx, "group", "saved", fx.group, 9999))

	saved, err := fx.db.ItemIDsByFlag(ctx, []int64{fx.feedA}, "is_saved", true)
	require.NoError(t, err)
	assert.Len(t, saved, 3)
}

func TestBuilderLastRefreshed(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	b := newBuilder(fx)

	require.NoError(t, b.IncludeLastRefreshed(ctx))

	reported, _ := b.Doc().Get("last_refreshed_on_time")
	assert.Equal(t, int64(0), reported, "first sync reports the stored zero")

	// The call itself bumps the stored value for the next sync.
	user, err := fx.db.UserByAPIKey(ctx, "abcd")
	require.NoError(t, err)
	assert.NotZero(t, user.LastRefreshedOnTime)
}

func TestBuilderLinksPlaceholder(t *testing.T) {
	fx := newFixture(t)
	b := newBuilder(fx)

	b.IncludeLinks()

	out, err := json.Marshal(b.Doc())
	require.NoError(t, err)
	assert.Contains(t, string(out), `"links":[]`)
}
