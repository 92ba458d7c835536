package poller_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajgon/feed-api/db"
	"github.com/ajgon/feed-api/models"
	"github.com/ajgon/feed-api/poller"
)

const feedBody = `<?xml version="1.0" encoding="utf-8"?>
<rss version="2.0">
  <channel>
    <title>Polled</title>
    <link>https://a.example/</link>
    <item>
      <title>Fresh</title>
      <description>body</description>
      <link>https://a.example/fresh</link>
      <guid>https://a.example/fresh</guid>
    </item>
  </channel>
</rss>`

type fakeGetter map[string]string

func (g fakeGetter) Fetch(_ context.Context, url string) ([]byte, error) {
	body, ok := g[url]
	if !ok {
		return nil, fmt.Errorf("no response for %s", url)
	}
	return []byte(body), nil
}

func testDB(t *testing.T) *db.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed-api.db")
	require.NoError(t, db.Migrate(path))
	d, err := db.Connect(path)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestPollerRefreshesFeeds(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	result, err := d.Ingest(ctx, models.Batch{
		Feed: &models.Feed{
			FeedType: models.FeedTypeRSS,
			Title:    "Stored title",
			URL:      "https://a.example/feed",
		},
	}, false)
	require.NoError(t, err)

	getter := fakeGetter{"https://a.example/feed": feedBody}
	p := poller.New(ctx, d, getter, time.Hour, 2, true)
	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool {
		count, err := d.CountItems(ctx, []int64{result.FeedID})
		return err == nil && count == 1
	}, 5*time.Second, 20*time.Millisecond)

	feeds, err := d.ListFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, "Polled", feeds[0].Title, "overwrite replaces stored metadata")
}

func TestPollerKeepMetadata(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	result, err := d.Ingest(ctx, models.Batch{
		Feed: &models.Feed{
			FeedType: models.FeedTypeRSS,
			Title:    "Stored title",
			URL:      "https://a.example/feed",
		},
	}, false)
	require.NoError(t, err)

	getter := fakeGetter{"https://a.example/feed": feedBody}
	p := poller.New(ctx, d, getter, time.Hour, 1, false)
	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool {
		count, err := d.CountItems(ctx, []int64{result.FeedID})
		return err == nil && count == 1
	}, 5*time.Second, 20*time.Millisecond)

	feeds, err := d.ListFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, "Stored title", feeds[0].Title, "items-only refresh leaves metadata alone")
}

func TestPollerIsolatesFailingFeeds(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	_, err := d.Ingest(ctx, models.Batch{
		Feed: &models.Feed{FeedType: models.FeedTypeRSS, Title: "Broken", URL: "https://broken.example/feed"},
	}, false)
	require.NoError(t, err)
	good, err := d.Ingest(ctx, models.Batch{
		Feed: &models.Feed{FeedType: models.FeedTypeRSS, Title: "Good", URL: "https://a.example/feed"},
	}, false)
	require.NoError(t, err)

	getter := fakeGetter{"https://a.example/feed": feedBody}
	p := poller.New(ctx, d, getter, time.Hour, 1, true)
	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool {
		count, err := d.CountItems(ctx, []int64{good.FeedID})
		return err == nil && count == 1
	}, 5*time.Second, 20*time.Millisecond, "a failing feed must not block the rest")
}
