// Package fetch retrieves listing pages over plain HTTP or a headless
// browser, gated by robots.txt policy.
package fetch

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document is a parsed HTML page together with the URL it was fetched from.
// The URL matters for resolving relative links found on later pagination
// pages.
type Document struct {
	URL      string
	HTML     string
	Rendered bool

	*goquery.Document
}

// NewDocument parses HTML into a queryable document.
func NewDocument(pageURL, html string, rendered bool) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse document %s: %w", pageURL, err)
	}
	return &Document{
		URL:      pageURL,
		HTML:     html,
		Rendered: rendered,
		Document: doc,
	}, nil
}
