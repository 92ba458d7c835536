// Package sync assembles Fever-style synchronization responses: an ordered
// field map filled from ACL-scoped inclusion fetches, rendered as JSON or
// XML.
package sync

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
)

// Doc is an insertion-ordered key/value document. The sync protocol is
// sensitive to field order in both output formats, so a plain map will not
// do.
type Doc struct {
	keys []string
	vals map[string]interface{}
}

func NewDoc() *Doc {
	return &Doc{vals: make(map[string]interface{})}
}

// Set stores a value under key, keeping first-insertion order. Setting an
// existing key overwrites in place.
func (d *Doc) Set(key string, value interface{}) *Doc {
	if _, ok := d.vals[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.vals[key] = value
	return d
}

func (d *Doc) Has(key string) bool {
	_, ok := d.vals[key]
	return ok
}

func (d *Doc) Get(key string) (interface{}, bool) {
	v, ok := d.vals[key]
	return v, ok
}

// MarshalJSON renders the document with its keys in insertion order.
func (d *Doc) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(d.vals[key])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// RenderXML renders the document as a <response> element. A list-valued key
// renders one child element per entry, with the tag name singularized by
// stripping a trailing "s". An "html" field is emitted as literal markup
// inside CDATA; everything else is escaped.
func (d *Doc) RenderXML() string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	d.renderXML(&b, "response")
	return b.String()
}

func (d *Doc) renderXML(b *strings.Builder, nodeName string) {
	fmt.Fprintf(b, "<%s>", nodeName)
	for _, key := range d.keys {
		switch val := d.vals[key].(type) {
		case []*Doc:
			fmt.Fprintf(b, "<%s>", key)
			for _, child := range val {
				child.renderXML(b, singularize(key))
			}
			fmt.Fprintf(b, "</%s>", key)
		case *Doc:
			val.renderXML(b, key)
		default:
			text := scalarText(val)
			if key == "html" {
				fmt.Fprintf(b, "<%s><![CDATA[%s]]></%s>", key, text, key)
			} else {
				fmt.Fprintf(b, "<%s>", key)
				xml.EscapeText(b, []byte(text))
				fmt.Fprintf(b, "</%s>", key)
			}
		}
	}
	fmt.Fprintf(b, "</%s>", nodeName)
}

func scalarText(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

func singularize(key string) string {
	return strings.TrimSuffix(key, "s")
}
