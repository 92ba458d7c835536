package parser

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/ajgon/feed-api/models"
)

// Getter retrieves raw bytes for a URL. Satisfied by fetcher.Fetcher.
type Getter interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ParseError reports a document that could not be parsed as the expected
// feed dialect.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("parse error: %v", e.Err)
	}
	return fmt.Sprintf("parse error for %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Atom namespace, used to skip atom:link self references that RSS channels
// routinely carry.
const atomNamespace = "http://www.w3.org/2005/Atom"

// rules is the per-variant extraction configuration. RDF is RSS with a
// different root element, not a different behavior.
type rules struct {
	rootElement string
	mimeType    string
	extract     func(doc *node, now int64) *models.Batch
}

var variantOrder = []models.FeedType{models.FeedTypeAtom, models.FeedTypeRSS, models.FeedTypeRDF}

var variants = map[models.FeedType]rules{
	models.FeedTypeAtom: {rootElement: "feed", mimeType: "application/atom+xml", extract: extractAtom},
	models.FeedTypeRSS:  {rootElement: "rss", mimeType: "application/rss+xml", extract: extractRSS},
	models.FeedTypeRDF:  {rootElement: "RDF", mimeType: "application/rss+xml", extract: extractRSS},
}

// DetectByRootElement classifies a document by its namespace-stripped root
// element name.
func DetectByRootElement(name string) (models.FeedType, bool) {
	if idx := strings.LastIndex(name, ":"); idx >= 0 {
		name = name[idx+1:]
	}
	for _, v := range variantOrder {
		if strings.EqualFold(variants[v].rootElement, name) {
			return v, true
		}
	}
	return "", false
}

// DetectByMimeType classifies a document by its declared MIME type. RSS and
// RDF share a MIME type; RSS wins.
func DetectByMimeType(mime string) (models.FeedType, bool) {
	for _, v := range variantOrder {
		if variants[v].mimeType == mime {
			return v, true
		}
	}
	return "", false
}

// Parse converts raw feed bytes into a feed record plus its items. The
// document root must match the variant's expected element or a ParseError
// is returned. Every item in the batch shares one added_on timestamp.
func Parse(variant models.FeedType, data []byte) (*models.Batch, error) {
	rule, ok := variants[variant]
	if !ok {
		return nil, &ParseError{Err: fmt.Errorf("unknown feed type %q", variant)}
	}

	doc, err := parseTree(data)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	if !matchesRoot(doc, rule.rootElement) {
		return nil, &ParseError{Err: fmt.Errorf("missing %s root element", rule.rootElement)}
	}

	batch := rule.extract(doc, time.Now().Unix())
	batch.Feed.FeedType = variant
	return batch, nil
}

// ParseURL fetches a feed and parses it, stamping the feed record with the
// URL it was fetched from.
func ParseURL(ctx context.Context, g Getter, variant models.FeedType, url string) (*models.Batch, error) {
	data, err := g.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	batch, err := Parse(variant, data)
	if err != nil {
		if perr, ok := err.(*ParseError); ok {
			perr.URL = url
		}
		return nil, err
	}
	batch.Feed.URL = url
	return batch, nil
}

func matchesRoot(doc *node, rootElement string) bool {
	return strings.EqualFold(doc.name.Local, rootElement)
}

// node is a minimal in-memory XML tree, enough to walk feed documents the
// way the extraction rules need to.
type node struct {
	name     xml.Name
	attrs    []xml.Attr
	children []*node
	chardata string
}

func (n *node) lower() string { return strings.ToLower(n.name.Local) }

func (n *node) attr(name string) string {
	for _, a := range n.attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// text returns the concatenated character data of the node and all its
// descendants, in document order.
func (n *node) text() string {
	if len(n.children) == 0 {
		return n.chardata
	}
	var b strings.Builder
	b.WriteString(n.chardata)
	for _, c := range n.children {
		b.WriteString(c.text())
	}
	return b.String()
}

// find returns the first direct child with the given lowercased local name.
func (n *node) find(name string) *node {
	for _, c := range n.children {
		if c.lower() == name {
			return c
		}
	}
	return nil
}

// findAll collects every descendant with the given lowercased local name,
// in document order.
func (n *node) findAll(name string) []*node {
	var out []*node
	for _, c := range n.children {
		if c.lower() == name {
			out = append(out, c)
		}
		out = append(out, c.findAll(name)...)
	}
	return out
}

// parseTree decodes an XML document into a node tree rooted at the document
// element. The decoder is primed with the full HTML4 named-entity table,
// since feeds routinely use HTML entities illegally in XML, and with a
// charset reader for non-UTF-8 declarations.
func parseTree(data []byte) (*node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = charset.NewReaderLabel

	var root *node
	var stack []*node
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name, attrs: t.Attr}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("multiple root elements")
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("unbalanced end element %s", t.Name.Local)
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].chardata += string(t)
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("no root element")
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("unexpected end of document")
	}
	return root, nil
}

func extractAtom(doc *node, now int64) *models.Batch {
	feed := &models.Feed{LastUpdatedOnTime: now}
	siteURLSet := false

	for _, n := range doc.children {
		switch n.lower() {
		case "title":
			feed.Title = n.text()
		case "id":
			if !siteURLSet {
				feed.SiteURL = n.text()
				siteURLSet = true
			}
		case "link":
			if n.attr("rel") == "alternate" && n.attr("type") == "text/html" {
				feed.SiteURL = n.attr("href")
				siteURLSet = true
			}
		}
	}

	var items []models.Item
	for _, entry := range doc.findAll("entry") {
		item := models.Item{AddedOnTime: now}
		urlSet, createdSet, guidSet := false, false, false

		for _, n := range entry.children {
			switch n.lower() {
			case "title":
				item.Title = n.text()
			case "author":
				if name := n.find("name"); name != nil {
					item.Author = name.text()
				}
			case "content":
				item.HTML = n.text()
			case "link":
				if n.attr("rel") == "alternate" && n.attr("type") == "text/html" {
					item.URL = n.attr("href")
					urlSet = true
				}
			case "published":
				// updated wins over published; the last matching node in
				// document order wins.
				if !createdSet {
					item.CreatedOnTime = parseTime(n.text())
					createdSet = true
				}
			case "updated":
				item.CreatedOnTime = parseTime(n.text())
				createdSet = true
			case "id":
				item.GUID = n.text()
				guidSet = true
				if !urlSet {
					item.URL = n.text()
					urlSet = true
				}
			}
		}

		if !guidSet {
			item.GUID = synthesizeGUID(item)
		}
		items = append(items, item)
	}

	return &models.Batch{Feed: feed, Items: items}
}

func extractRSS(doc *node, now int64) *models.Batch {
	feed := &models.Feed{LastUpdatedOnTime: now}

	if channel := doc.find("channel"); channel != nil {
		for _, n := range channel.children {
			if n.name.Space == atomNamespace {
				continue
			}
			switch n.lower() {
			case "title":
				feed.Title = n.text()
			case "link":
				feed.SiteURL = n.text()
			}
		}
	}

	var items []models.Item
	for _, entry := range doc.findAll("item") {
		item := models.Item{AddedOnTime: now}
		guidSet := false

		for _, n := range entry.children {
			if n.name.Space == atomNamespace {
				continue
			}
			switch n.lower() {
			case "title":
				item.Title = n.text()
			case "creator":
				item.Author = n.text()
			case "description", "content", "encoded":
				item.HTML = n.text()
			case "link":
				item.URL = n.text()
			case "pubdate", "date":
				item.CreatedOnTime = parseTime(n.text())
			case "guid":
				item.GUID = n.text()
				guidSet = true
			}
		}

		if !guidSet {
			item.GUID = synthesizeGUID(item)
		}
		items = append(items, item)
	}

	return &models.Batch{Feed: feed, Items: items}
}

// synthesizeGUID derives a stable identity for an entry that declares none,
// by hashing a canonical fixed-order encoding of its extracted fields.
func synthesizeGUID(item models.Item) string {
	h := sha1.New()
	fmt.Fprintf(h, "title=%s\x00author=%s\x00html=%s\x00url=%s\x00created=%d",
		item.Title, item.Author, item.HTML, item.URL, item.CreatedOnTime)
	return hex.EncodeToString(h.Sum(nil))
}
