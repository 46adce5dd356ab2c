package detect

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/bookmark-enricher/pkg/enrichment"
)

func mustDoc(t *testing.T, page string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	require.NoError(t, err)
	return doc
}

func TestDetectWithRule(t *testing.T) {
	t.Parallel()

	productMarkup := `<html><body><span class="sale-price">$10</span></body></html>`
	buyButton := `<html><body><button>Add to Cart</button></body></html>`
	codeHeavy := `<html><body><pre>a</pre><pre>b</pre><code>c</code><code>d</code></body></html>`
	threeBlocks := `<html><body><pre>a</pre><pre>b</pre><code>c</code></body></html>`

	tests := []struct {
		name     string
		url      string
		page     string
		want     enrichment.ContentType
		wantRule string
	}{
		{name: "youtube", url: "https://www.youtube.com/watch?v=abc", want: enrichment.TypeVideo, wantRule: "video_domain"},
		{name: "short youtube", url: "https://youtu.be/abc", want: enrichment.TypeVideo, wantRule: "video_domain"},
		{name: "tiktok", url: "https://www.tiktok.com/@u/video/1", want: enrichment.TypeVideo, wantRule: "video_domain"},
		{name: "spotify episode", url: "https://open.spotify.com/episode/123", want: enrichment.TypePodcast, wantRule: "podcast_url"},
		{name: "spotify track is not a podcast", url: "https://open.spotify.com/track/123", want: enrichment.TypeArticle, wantRule: "default"},
		{name: "apple podcasts", url: "https://podcasts.apple.com/us/podcast/x", want: enrichment.TypePodcast, wantRule: "podcast_url"},
		{name: "x.com", url: "https://x.com/user/status/1", want: enrichment.TypeSocial, wantRule: "social_domain"},
		{name: "netflix is not x.com", url: "https://www.netflix.com/title/1", want: enrichment.TypeArticle, wantRule: "default"},
		{name: "linkedin post", url: "https://www.linkedin.com/posts/someone_abc", want: enrichment.TypeSocial, wantRule: "social_domain"},
		{name: "linkedin profile", url: "https://www.linkedin.com/in/someone", want: enrichment.TypeArticle, wantRule: "default"},
		{name: "github", url: "https://github.com/org/repo", want: enrichment.TypeCode, wantRule: "code_domain"},
		{name: "stackoverflow", url: "https://stackoverflow.com/questions/1", want: enrichment.TypeCode, wantRule: "code_domain"},
		{name: "amazon uk", url: "https://www.amazon.co.uk/dp/B000", want: enrichment.TypeProduct, wantRule: "product_domain"},
		{name: "shopify storefront", url: "https://mystore.myshopify.com/products/widget", want: enrichment.TypeProduct, wantRule: "product_domain"},
		{name: "ebay", url: "https://ebay.com/itm/1", want: enrichment.TypeProduct, wantRule: "product_domain"},
		{name: "price markup", url: "https://shop.example.com/item", page: productMarkup, want: enrichment.TypeProduct, wantRule: "product_markup"},
		{name: "buy button", url: "https://shop.example.com/item", page: buyButton, want: enrichment.TypeProduct, wantRule: "product_markup"},
		{name: "many code blocks", url: "https://blog.example.com/post", page: codeHeavy, want: enrichment.TypeCode, wantRule: "code_blocks"},
		{name: "three code blocks is not enough", url: "https://blog.example.com/post", page: threeBlocks, want: enrichment.TypeArticle, wantRule: "default"},
		{name: "domain beats markup", url: "https://github.com/org/repo", page: productMarkup, want: enrichment.TypeCode, wantRule: "code_domain"},
		{name: "video beats everything", url: "https://vimeo.com/1", page: codeHeavy, want: enrichment.TypeVideo, wantRule: "video_domain"},
		{name: "uppercase host", url: "HTTPS://WWW.GITHUB.COM/org", want: enrichment.TypeCode, wantRule: "code_domain"},
		{name: "plain article", url: "https://blog.example.com/post", want: enrichment.TypeArticle, wantRule: "default"},
		{name: "unparseable url", url: "://nope", want: enrichment.TypeArticle, wantRule: "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var doc *goquery.Document
			if tt.page != "" {
				doc = mustDoc(t, tt.page)
			}
			got, rule := DetectWithRule(tt.url, doc)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantRule, rule)
			assert.Equal(t, tt.want, Detect(tt.url, doc))
		})
	}
}

func TestDomainMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		host, domain string
		want         bool
	}{
		{"x.com", "x.com", true},
		{"www.x.com", "x.com", true},
		{"netflix.com", "x.com", false},
		{"amazon.de", "amazon.", true},
		{"smile.amazon.com", "amazon.", true},
		{"mystore.myshopify.com", "shopify.", true},
		{"shopify.com", "shopify.", true},
		{"amazon.com", "shopify.", false},
		{"target.com", "target.com", true},
		{"mytarget.com", "target.com", false},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, domainMatches(tt.host, tt.domain), "domainMatches(%q, %q)", tt.host, tt.domain)
	}
}

func TestDetectIsDeterministic(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<body><div class="price">$5</div></body>`)
	first := Detect("https://example.com/p", doc)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Detect("https://example.com/p", doc))
	}
}
