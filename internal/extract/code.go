package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/shpitdev/bookmark-enricher/pkg/enrichment"
)

const (
	minSnippetChars = 20
	maxSnippetChars = 5000
	snippetKeep     = 2000
	maxSnippets     = 5
)

// CodeSnippets collects up to five reasonably sized pre/code blocks in document order.
func CodeSnippets(doc *goquery.Document) []enrichment.CodeSnippet {
	if doc == nil {
		return nil
	}
	var out []enrichment.CodeSnippet
	doc.Find("pre, code").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		code := strings.TrimSpace(s.Text())
		n := runeLen(code)
		if n <= minSnippetChars || n >= maxSnippetChars {
			return true
		}
		out = append(out, enrichment.CodeSnippet{
			Code:     truncate(code, snippetKeep),
			Language: languageOf(s),
		})
		return len(out) < maxSnippets
	})
	return out
}

// languageOf reads the language-<lang> class convention used by most highlighters.
func languageOf(s *goquery.Selection) *string {
	class, _ := s.Attr("class")
	for _, c := range strings.Fields(class) {
		if strings.Contains(c, "language-") {
			lang := strings.ReplaceAll(c, "language-", "")
			return &lang
		}
	}
	return nil
}
