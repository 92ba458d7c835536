package models

// FeedType tags the dialect a feed was ingested with. It is used only to
// route refreshes to the right extraction rules and is stripped from API
// responses.
type FeedType string

const (
	FeedTypeAtom FeedType = "Atom"
	FeedTypeRSS  FeedType = "RSS"
	FeedTypeRDF  FeedType = "RDF"
)

// Feed is one subscribed source, identified by its URL.
type Feed struct {
	ID                int64
	FaviconID         int64
	FeedType          FeedType
	Title             string
	URL               string
	SiteURL           string
	IsSpark           bool
	LastUpdatedOnTime int64
}

// Item is one normalized entry belonging to a feed. GUID is the
// source-declared id, or a synthesized stable hash when the source does not
// provide one. CreatedOnTime is the source-declared publish/update time,
// AddedOnTime the ingestion time shared across one fetch batch. Both are
// unix seconds.
type Item struct {
	ID            int64
	FeedID        int64
	GUID          string
	Title         string
	Author        string
	HTML          string
	URL           string
	IsSaved       bool
	IsRead        bool
	CreatedOnTime int64
	AddedOnTime   int64
}

type Group struct {
	ID    int64
	Title string
}

// User holds an account. APIKey is the md5 hex digest of "email:password",
// 32 lowercase hex characters. Super users see every feed regardless of
// feeds_users links.
type User struct {
	ID                  int64
	Email               string
	APIKey              string
	Super               bool
	LastRefreshedOnTime int64
}

// Favicon stores an inlined data URI for a feed icon.
type Favicon struct {
	ID   int64
	Data string
}

// FeedGroup links a feed to a group (composite identity, no lifecycle of
// its own).
type FeedGroup struct {
	FeedID  int64
	GroupID int64
}

// Batch is the unit of ingestion: whatever a single parse or admin action
// produced. Nil/empty members are simply not ingested.
type Batch struct {
	Feed    *Feed
	Items   []Item
	Group   *Group
	User    *User
	Favicon *Favicon
}

// IngestResult reports the ids of rows actually created or updated by one
// ingest call. Items skipped by the monotonic-update rule are omitted from
// ItemIDs, so len(ItemIDs) is the number of new or refreshed items.
type IngestResult struct {
	FeedID    int64
	ItemIDs   []int64
	GroupID   int64
	UserID    int64
	FaviconID int64
}
