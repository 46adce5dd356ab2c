package extract

import (
	"math"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// MaxContentChars bounds the main text handed to the AI prompt.
	MaxContentChars = 15000
	// WordsPerMinute is the assumed reading speed.
	WordsPerMinute = 225
)

var (
	boilerplateSelector = "script, style, nav, footer, header, aside, noscript"
	contentClassRe      = regexp.MustCompile(`(?i)content|post|article|entry`)
)

// MainContent returns the whitespace-normalized text of the page's main content area.
//
// Boilerplate elements are dropped from a copy of the document, then the first of
// <article>, <main>, a content-like class, or <body> is used.
func MainContent(doc *goquery.Document) string {
	if doc == nil || len(doc.Nodes) == 0 {
		return ""
	}
	clone := goquery.NewDocumentFromNode(doc.Selection.Clone().Get(0))
	clone.Find(boilerplateSelector).Remove()

	container := clone.Find("article").First()
	if container.Length() == 0 {
		container = clone.Find("main").First()
	}
	if container.Length() == 0 {
		container = firstClassMatch(clone, contentClassRe)
	}
	if container.Length() == 0 {
		container = clone.Find("body").First()
	}
	if container.Length() == 0 {
		return ""
	}
	return truncate(cleanText(container), MaxContentChars)
}

// ReadingTime estimates minutes to read text. Any non-empty text takes at least a minute.
func ReadingTime(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	minutes := int(math.RoundToEven(float64(words) / WordsPerMinute))
	return max(1, minutes)
}
