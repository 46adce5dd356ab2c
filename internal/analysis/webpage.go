package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/shpitdev/bookmark-enricher/pkg/enrichment"
	"github.com/shpitdev/bookmark-enricher/pkg/redact"
)

const (
	minContentChars    = 100
	promptContentChars = 10000
)

var (
	ErrNotConfigured       = errors.New("GEMINI_API_KEY not configured")
	ErrInsufficientContent = errors.New("Insufficient content for analysis")
)

var jsonObjectRe = regexp.MustCompile(`\{[\s\S]*\}`)

var pageSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title":    {Type: genai.TypeString},
		"summary":  {Type: genai.TypeString},
		"analysis": {Type: genai.TypeString},
	},
	Required: []string{"title", "summary", "analysis"},
}

// PageAnalysis is the outcome of analyzing one page. Title always holds a usable value:
// the cleaned title on success, otherwise the raw title passed in.
type PageAnalysis struct {
	Title    string
	Summary  string
	Analysis string
	Err      error
}

// ErrorMessage is Err as a caller-safe string, or "" when there was no error.
func (p PageAnalysis) ErrorMessage() string {
	if p.Err == nil {
		return ""
	}
	return redact.Secrets(p.Err.Error())
}

// WebpageAnalyzer writes a cleaned title, summary and "why save this" analysis for a page.
type WebpageAnalyzer struct {
	model   Model
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewWebpageAnalyzer accepts a nil model, in which case every call reports ErrNotConfigured.
func NewWebpageAnalyzer(model Model, rps float64, log *zap.Logger) *WebpageAnalyzer {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebpageAnalyzer{model: model, limiter: newLimiter(rps), log: log}
}

func (a *WebpageAnalyzer) Analyze(ctx context.Context, url, title, content string, ct enrichment.ContentType) PageAnalysis {
	out := PageAnalysis{Title: title}
	if a == nil || a.model == nil {
		out.Err = ErrNotConfigured
		return out
	}
	if utf8.RuneCountInString(content) < minContentChars {
		out.Err = ErrInsufficientContent
		return out
	}
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			out.Err = err
			return out
		}
	}

	text, err := a.model.GenerateJSON(ctx, buildPagePrompt(url, title, content, ct), pageSchema)
	if err != nil {
		a.log.Warn("page analysis failed", zap.String("url", url), zap.String("error", redact.Secrets(err.Error())))
		out.Err = err
		return out
	}

	raw := jsonObjectRe.FindString(text)
	if raw == "" {
		out.Analysis = text
		return out
	}
	var parsed struct {
		Title    string `json:"title"`
		Summary  string `json:"summary"`
		Analysis string `json:"analysis"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		out.Err = err
		return out
	}
	if t := strings.TrimSpace(parsed.Title); t != "" {
		out.Title = t
	}
	out.Summary = strings.TrimSpace(parsed.Summary)
	out.Analysis = strings.TrimSpace(parsed.Analysis)
	return out
}

func buildPagePrompt(url, title, content string, ct enrichment.ContentType) string {
	if utf8.RuneCountInString(content) > promptContentChars {
		content = string([]rune(content)[:promptContentChars])
	}
	return `Analyze this webpage and provide:

1. **Title**: Clean up the raw title. Keep it as close to the original as possible but:
   - Remove site names, separators like " | " or " - Site Name" at the end
   - Keep it under 100 characters
   - Make it descriptive and recognizable
   - If the title includes a long description after ":" or "-", keep only the main title part

2. **Summary**: A 2-3 sentence summary of what this page is about.

3. **Analysis**: Why might someone save this bookmark? What are the key takeaways or value? Who would find this useful?

URL: ` + url + `
Raw Title: ` + title + `
Content Type: ` + string(ct) + `

Page Content:
` + content + `

Respond with a single JSON object with the keys "title" (max 100 chars), "summary" and "analysis".
`
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}
