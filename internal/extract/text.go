// Package extract pulls structured fields out of a parsed page.
//
// Every extractor accepts a nil document and returns zero values instead of failing.
// Extractors never mutate the document they are given, so they can run in any order.
package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// joinedText collects every text node under sel, trims each fragment, drops empty ones and
// joins the rest with sep.
func joinedText(sel *goquery.Selection, sep string) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(parts, sep)
}

// cleanText is the text of sel with whitespace collapsed to single spaces.
func cleanText(sel *goquery.Selection) string {
	return collapse(joinedText(sel, " "))
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// truncate cuts s to at most n characters (runes), never splitting a rune.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// firstClassMatch returns the first element in document order whose class attribute
// matches re.
func firstClassMatch(doc *goquery.Document, re *regexp.Regexp) *goquery.Selection {
	return doc.Find("[class]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		return re.MatchString(class)
	}).First()
}
