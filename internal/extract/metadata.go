package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Metadata holds page-level descriptive fields. Empty strings mean "not found".
type Metadata struct {
	Title         string
	Author        string
	PublishedDate string
	MainImage     string
	Description   string
}

var (
	bylinePrefixRe = regexp.MustCompile(`(?i)^by\s+`)
	authorClassRe  = regexp.MustCompile(`(?i)author|byline`)
)

// candidate yields one possible value for a field.
type candidate func(doc *goquery.Document) string

func metaContent(selector string) candidate {
	return func(doc *goquery.Document) string {
		v, _ := doc.Find(selector).First().Attr("content")
		return strings.TrimSpace(v)
	}
}

func attrOf(selector, attr string) candidate {
	return func(doc *goquery.Document) string {
		v, _ := doc.Find(selector).First().Attr(attr)
		return strings.TrimSpace(v)
	}
}

func textOf(selector string) candidate {
	return func(doc *goquery.Document) string {
		return cleanText(doc.Find(selector).First())
	}
}

func textOfClass(re *regexp.Regexp) candidate {
	return func(doc *goquery.Document) string {
		return cleanText(firstClassMatch(doc, re))
	}
}

var (
	titleCandidates = []candidate{
		metaContent(`meta[property="og:title"]`),
		metaContent(`meta[name="twitter:title"]`),
		textOf("title"),
		textOf("h1"),
	}
	authorCandidates = []candidate{
		metaContent(`meta[name="author"]`),
		metaContent(`meta[property="article:author"]`),
		textOf(`a[rel="author"]`),
		textOfClass(authorClassRe),
	}
	dateCandidates = []candidate{
		metaContent(`meta[property="article:published_time"]`),
		attrOf("time[datetime]", "datetime"),
	}
	imageCandidates = []candidate{
		metaContent(`meta[property="og:image"]`),
		metaContent(`meta[name="twitter:image"]`),
	}
	descriptionCandidates = []candidate{
		metaContent(`meta[property="og:description"]`),
		metaContent(`meta[name="description"]`),
	}
)

func firstOf(doc *goquery.Document, cands []candidate) string {
	for _, c := range cands {
		if v := c(doc); v != "" {
			return v
		}
	}
	return ""
}

// ExtractMetadata resolves each field from its ordered candidate list.
func ExtractMetadata(doc *goquery.Document) Metadata {
	if doc == nil {
		return Metadata{}
	}
	return Metadata{
		Title:         firstOf(doc, titleCandidates),
		Author:        cleanAuthor(firstOf(doc, authorCandidates)),
		PublishedDate: dateOnly(firstOf(doc, dateCandidates)),
		MainImage:     firstOf(doc, imageCandidates),
		Description:   firstOf(doc, descriptionCandidates),
	}
}

func cleanAuthor(s string) string {
	return strings.TrimSpace(bylinePrefixRe.ReplaceAllString(s, ""))
}

// dateOnly keeps the YYYY-MM-DD prefix of an ISO-8601 timestamp, or "" when the prefix is
// not a calendar date.
func dateOnly(s string) string {
	s = truncate(strings.TrimSpace(s), 10)
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		return ""
	}
	return s
}
