package parser

import (
	"bytes"
	"context"
	"encoding/xml"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/ajgon/feed-api/models"
)

// Candidate is one discovered feed link.
type Candidate struct {
	Type  models.FeedType
	Title string
	URL   string
}

var (
	feedLinkType = regexp.MustCompile(`application/(atom|rss)\+xml`)
	shortcutIcon = regexp.MustCompile(`shortcut.?icon`)
)

// DiscoverFeeds probes a URL for feeds. If the document itself is a feed,
// it is the only candidate. Otherwise it is scanned as HTML for
// rel=alternate links, and each candidate is fetched in turn to confirm its
// actual type, since a lot of sites declare rss while serving atom
// underneath. Candidates inherit the link's title attribute.
func DiscoverFeeds(ctx context.Context, g Getter, pageURL string) ([]Candidate, error) {
	data, err := g.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	if doc, err := parseTree(data); err == nil {
		if variant, ok := DetectByRootElement(doc.name.Local); ok {
			return []Candidate{{Type: variant, Title: string(variant) + " Feed", URL: pageURL}}, nil
		}
	}

	var candidates []Candidate
	for _, link := range htmlLinks(data) {
		if link.attr("rel") != "alternate" || !feedLinkType.MatchString(link.attr("type")) {
			continue
		}
		href := resolveHref(pageURL, link.attr("href"))
		found, err := DiscoverFeeds(ctx, g, href)
		if err != nil || len(found) == 0 {
			continue
		}
		found[0].Title = link.attr("title")
		if found[0].URL != "" {
			candidates = append(candidates, found[0])
		}
	}
	return candidates, nil
}

// DiscoverFavicon probes a URL for a shortcut icon. A feed document is
// followed to its declared site URL first. Returns "" when nothing is
// found.
func DiscoverFavicon(ctx context.Context, g Getter, pageURL string) (string, error) {
	data, err := g.Fetch(ctx, pageURL)
	if err != nil {
		return "", err
	}

	if doc, err := parseTree(data); err == nil {
		if variant, ok := DetectByRootElement(doc.name.Local); ok {
			batch, err := Parse(variant, data)
			if err != nil || batch.Feed.SiteURL == "" {
				return "", nil
			}
			return DiscoverFavicon(ctx, g, batch.Feed.SiteURL)
		}
	}

	for _, link := range htmlLinks(data) {
		if !shortcutIcon.MatchString(link.attr("rel")) {
			continue
		}
		return resolveHref(pageURL, link.attr("href")), nil
	}
	return "", nil
}

// htmlLinks parses a document as HTML and collects its <link> elements.
func htmlLinks(data []byte) []*node {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	var links []*node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "link" {
			link := &node{}
			for _, a := range n.Attr {
				link.attrs = append(link.attrs, xmlAttr(a.Key, a.Val))
			}
			links = append(links, link)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}

// resolveHref resolves a link href against the page it came from. Relative
// hrefs use simple trailing-slash-trimmed concatenation, not full URI
// resolution.
func resolveHref(base, href string) string {
	if isAbsoluteURL(href) {
		return href
	}
	return strings.Trim(base, "/") + "/" + strings.Trim(href, "/")
}

func xmlAttr(key, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: key}, Value: value}
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}
