package enrich

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/shpitdev/bookmark-enricher/internal/analysis"
	"github.com/shpitdev/bookmark-enricher/internal/detect"
	"github.com/shpitdev/bookmark-enricher/internal/extract"
	"github.com/shpitdev/bookmark-enricher/internal/fetch"
	"github.com/shpitdev/bookmark-enricher/pkg/enrichment"
	"github.com/shpitdev/bookmark-enricher/pkg/redact"
)

// ProcessedAtLayout is UTC ISO-8601 with microseconds and a Z suffix.
const ProcessedAtLayout = "2006-01-02T15:04:05.000000Z"

type WebpageOptions struct {
	SkipAI      bool
	ExtractCode bool
}

// DefaultWebpageOptions runs AI analysis and extracts code.
func DefaultWebpageOptions() WebpageOptions {
	return WebpageOptions{ExtractCode: true}
}

// WebpageOutcome is the record plus the underlying causes of any embedded errors, which
// batch callers use to decide on retries.
type WebpageOutcome struct {
	Record      *enrichment.Result
	FetchErr    error
	AnalysisErr error
}

// Webpage enriches a single page URL.
type Webpage struct {
	fetcher  fetch.Fetcher
	analyzer PageAnalyzer
	log      *zap.Logger

	// Now is the clock used for processed_at.
	Now func() time.Time
}

func NewWebpage(fetcher fetch.Fetcher, analyzer PageAnalyzer, log *zap.Logger) *Webpage {
	if log == nil {
		log = zap.NewNop()
	}
	return &Webpage{fetcher: fetcher, analyzer: analyzer, log: log, Now: time.Now}
}

// Enrich fetches and analyzes rawURL. Fetch and analysis failures are embedded in the
// record; the returned error is reserved for internal faults.
func (w *Webpage) Enrich(ctx context.Context, rawURL string, opts WebpageOptions) (WebpageOutcome, error) {
	domain := DomainOf(rawURL)
	log := w.log.With(zap.String("url", rawURL))

	body, err := w.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		msg := redact.Secrets(err.Error())
		log.Warn("fetch failed", zap.String("error", msg))
		return WebpageOutcome{
			Record: &enrichment.Result{
				URL:    rawURL,
				Domain: domain,
				Error:  enrichment.NewErrorDetail(enrichment.StageFetch, msg, true),
			},
			FetchErr: err,
		}, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return WebpageOutcome{}, fmt.Errorf("parse html: %w", err)
	}

	ct, rule := detect.DetectWithRule(rawURL, doc)
	meta := extract.ExtractMetadata(doc)
	content := extract.MainContent(doc)
	log.Debug("page parsed", zap.String("type", string(ct)), zap.String("rule", rule), zap.Int("content_chars", len(content)))

	rec := &enrichment.Result{
		URL:           rawURL,
		Domain:        domain,
		Type:          ct,
		Title:         meta.Title,
		Author:        meta.Author,
		PublishedDate: meta.PublishedDate,
		MainImage:     meta.MainImage,
		Description:   meta.Description,
	}
	switch ct {
	case enrichment.TypeArticle:
		rt := extract.ReadingTime(content)
		rec.ReadingTime = &rt
	case enrichment.TypeProduct:
		p := extract.ExtractPrice(doc)
		rec.Price = p.Price
		rec.Currency = p.Currency
	case enrichment.TypeCode:
		if opts.ExtractCode {
			rec.CodeSnippets = extract.CodeSnippets(doc)
		}
	}

	out := WebpageOutcome{Record: rec}
	if !opts.SkipAI {
		ai := w.analyze(ctx, rawURL, meta.Title, content, ct)
		if ai.Title != "" {
			rec.Title = ai.Title
		}
		rec.AISummary = ai.Summary
		rec.AIAnalysis = ai.Analysis
		if ai.Err != nil {
			out.AnalysisErr = ai.Err
			rec.Error = enrichment.NewErrorDetail(enrichment.StageAIAnalysis, ai.ErrorMessage(), true)
			log.Warn("page analysis unavailable", zap.String("error", ai.ErrorMessage()))
		}
	}
	rec.ProcessedAt = w.Now().UTC().Format(ProcessedAtLayout)
	return out, nil
}

func (w *Webpage) analyze(ctx context.Context, rawURL, title, content string, ct enrichment.ContentType) analysis.PageAnalysis {
	if w.analyzer == nil {
		return analysis.PageAnalysis{Title: title, Err: analysis.ErrNotConfigured}
	}
	return w.analyzer.Analyze(ctx, rawURL, title, content, ct)
}

// DomainOf is the URL host with "www." removed.
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ReplaceAll(u.Host, "www.", "")
}
