// Package detect classifies a URL, and optionally its parsed page, into a content type.
package detect

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/shpitdev/bookmark-enricher/pkg/enrichment"
)

var (
	VideoPatterns   = []string{"youtube.com", "youtu.be", "vimeo.com", "tiktok.com", "twitch.tv"}
	PodcastPatterns = []string{"spotify.com/episode", "podcasts.apple.com", "overcast.fm", "pocketcasts.com"}
	SocialPatterns  = []string{"twitter.com", "x.com", "instagram.com", "linkedin.com/posts", "facebook.com", "threads.net"}
	CodePatterns    = []string{"github.com", "gitlab.com", "stackoverflow.com", "codepen.io", "jsfiddle.net", "replit.com"}
	ProductPatterns = []string{"amazon.", "ebay.", "etsy.com", "shopify.", "aliexpress.", "walmart.com", "target.com"}
)

var (
	priceClassRe  = regexp.MustCompile(`(?i)price|cost|amount`)
	callToBuyRe   = regexp.MustCompile(`(?i)add to cart|buy now|purchase`)
	minCodeBlocks = 3
)

// target is the parsed form of the URL every rule looks at.
type target struct {
	host string // lowercased hostname, no port
	path string // lowercased path
	full string // lowercased raw URL
	doc  *goquery.Document
}

type rule struct {
	name  string
	match func(target) bool
	ct    enrichment.ContentType
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{name: "video_domain", match: hostMatches(VideoPatterns), ct: enrichment.TypeVideo},
	{name: "podcast_url", match: urlMatches(PodcastPatterns), ct: enrichment.TypePodcast},
	{name: "social_domain", match: hostMatches(SocialPatterns), ct: enrichment.TypeSocial},
	{name: "code_domain", match: hostMatches(CodePatterns), ct: enrichment.TypeCode},
	{name: "product_domain", match: hostMatches(ProductPatterns), ct: enrichment.TypeProduct},
	{name: "product_markup", match: hasProductMarkup, ct: enrichment.TypeProduct},
	{name: "code_blocks", match: hasManyCodeBlocks, ct: enrichment.TypeCode},
}

// Detect returns the content type for rawURL. doc may be nil, in which case only URL rules
// apply before falling back to article.
func Detect(rawURL string, doc *goquery.Document) enrichment.ContentType {
	ct, _ := DetectWithRule(rawURL, doc)
	return ct
}

// DetectWithRule is Detect plus the name of the rule that matched ("default" when none
// did).
func DetectWithRule(rawURL string, doc *goquery.Document) (enrichment.ContentType, string) {
	t := target{full: strings.ToLower(rawURL), doc: doc}
	if u, err := url.Parse(rawURL); err == nil {
		t.host = strings.ToLower(u.Hostname())
		t.path = strings.ToLower(u.Path)
	}
	for _, r := range rules {
		if r.match(t) {
			return r.ct, r.name
		}
	}
	return enrichment.TypeArticle, "default"
}

// hostMatches matches domain patterns on label boundaries, so "x.com" matches x.com and
// www.x.com but not netflix.com. A pattern with a trailing dot ("shopify.") is a stem matched
// anywhere in the host, so it covers amazon.co.uk and mystore.myshopify.com. A pattern
// carrying a path also requires the URL path to start with it.
func hostMatches(patterns []string) func(target) bool {
	return func(t target) bool {
		if t.host == "" {
			return false
		}
		for _, p := range patterns {
			domain, dir, hasDir := strings.Cut(p, "/")
			if !domainMatches(t.host, domain) {
				continue
			}
			if hasDir && !strings.HasPrefix(t.path, "/"+dir) {
				continue
			}
			return true
		}
		return false
	}
}

func domainMatches(host, domain string) bool {
	if strings.HasSuffix(domain, ".") {
		return strings.Contains(host, domain)
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func urlMatches(patterns []string) func(target) bool {
	return func(t target) bool {
		for _, p := range patterns {
			if strings.Contains(t.full, p) {
				return true
			}
		}
		return false
	}
}

func hasProductMarkup(t target) bool {
	if t.doc == nil {
		return false
	}
	found := t.doc.Find("[class]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		return priceClassRe.MatchString(class)
	}).Length() > 0
	if found {
		return true
	}
	return anyTextNode(t.doc, callToBuyRe)
}

func hasManyCodeBlocks(t target) bool {
	if t.doc == nil {
		return false
	}
	return t.doc.Find("pre, code").Length() > minCodeBlocks
}

func anyTextNode(doc *goquery.Document, re *regexp.Regexp) bool {
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.TextNode && re.MatchString(n.Data) {
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	for _, n := range doc.Nodes {
		if walk(n) {
			return true
		}
	}
	return false
}
