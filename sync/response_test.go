package sync_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncapi "github.com/ajgon/feed-api/sync"
)

func TestDocJSONKeyOrder(t *testing.T) {
	doc := syncapi.NewDoc().
		Set("api_version", 3).
		Set("auth", 1).
		Set("last_refreshed_on_time", int64(0)).
		Set("total_items", "2")

	out, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Equal(t,
		`{"api_version":3,"auth":1,"last_refreshed_on_time":0,"total_items":"2"}`,
		string(out))
}

func TestDocSetOverwritesInPlace(t *testing.T) {
	doc := syncapi.NewDoc().Set("a", 1).Set("b", 2).Set("a", 3)

	out, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"b":2}`, string(out))
}

func TestDocNestedListJSON(t *testing.T) {
	doc := syncapi.NewDoc().Set("groups", []*syncapi.Doc{
		syncapi.NewDoc().Set("id", 1).Set("title", "Tech"),
		syncapi.NewDoc().Set("id", 2).Set("title", "News"),
	})

	out, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Equal(t, `{"groups":[{"id":1,"title":"Tech"},{"id":2,"title":"News"}]}`, string(out))
}

func TestDocRenderXML(t *testing.T) {
	doc := syncapi.NewDoc().
		Set("api_version", 3).
		Set("auth", 1).
		Set("groups", []*syncapi.Doc{
			syncapi.NewDoc().Set("id", 1).Set("title", "Tom & Jerry"),
		}).
		Set("items", []*syncapi.Doc{
			syncapi.NewDoc().Set("id", 7).Set("html", "<p>Hi</p>"),
		}).
		Set("links", []*syncapi.Doc{})

	out := doc.RenderXML()

	assert.True(t, len(out) > 0)
	assert.Contains(t, out, `<?xml version="1.0" encoding="utf-8"?>`)
	assert.Contains(t, out, "<response><api_version>3</api_version><auth>1</auth>")
	// List keys singularize their children.
	assert.Contains(t, out, "<groups><group><id>1</id><title>Tom &amp; Jerry</title></group></groups>")
	// html is literal markup inside CDATA, not escaped.
	assert.Contains(t, out, "<item><id>7</id><html><![CDATA[<p>Hi</p>]]></html></item>")
	assert.Contains(t, out, "<links></links>")
}
