package enrichment

import (
	"encoding/json"
	"strings"
)

// ContentType is the detected category of an enriched URL.
type ContentType string

const (
	TypeArticle  ContentType = "article"
	TypeVideo    ContentType = "video"
	TypePodcast  ContentType = "podcast"
	TypeProduct  ContentType = "product"
	TypeCode     ContentType = "code"
	TypeSocial   ContentType = "social"
	TypeDocument ContentType = "document"
)

// ContentTypes lists every recognized category.
var ContentTypes = []ContentType{
	TypeArticle,
	TypeVideo,
	TypePodcast,
	TypeProduct,
	TypeCode,
	TypeSocial,
	TypeDocument,
}

// Valid reports whether t is one of the recognized categories.
func (t ContentType) Valid() bool {
	for _, known := range ContentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Stage names the pipeline step an ErrorDetail originated from.
type Stage string

const (
	StageFetch         Stage = "fetch"
	StageTranscription Stage = "transcription"
	StageAIAnalysis    Stage = "ai_analysis"
	StageProcessing    Stage = "processing"
)

// ErrorDetail is a failure embedded in a Result.
type ErrorDetail struct {
	Stage       Stage  `json:"stage,omitempty"`
	Message     string `json:"message"`
	Recoverable *bool  `json:"recoverable,omitempty"`
}

// NewErrorDetail builds an ErrorDetail with an explicit recoverable flag.
func NewErrorDetail(stage Stage, message string, recoverable bool) *ErrorDetail {
	return &ErrorDetail{Stage: stage, Message: message, Recoverable: &recoverable}
}

// UnmarshalJSON accepts both the object form and a bare string message, which is what
// request-validation failures carry.
func (e *ErrorDetail) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if strings.HasPrefix(trimmed, `"`) {
		var msg string
		if err := json.Unmarshal(b, &msg); err != nil {
			return err
		}
		*e = ErrorDetail{Message: msg}
		return nil
	}
	type plain ErrorDetail
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*e = ErrorDetail(p)
	return nil
}

// CodeSnippet is one extracted code block.
type CodeSnippet struct {
	Code     string  `json:"code"`
	Language *string `json:"language"`
}

// UnmarshalJSON accepts a bare string as a snippet with no language.
func (c *CodeSnippet) UnmarshalJSON(b []byte) error {
	if strings.HasPrefix(strings.TrimSpace(string(b)), `"`) {
		var code string
		if err := json.Unmarshal(b, &code); err != nil {
			return err
		}
		*c = CodeSnippet{Code: code}
		return nil
	}
	type plain CodeSnippet
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*c = CodeSnippet(p)
	return nil
}

// Result is the normalized enrichment record for one URL.
//
// Every field is optional: fetch failures carry only url/domain/error, and internal faults
// carry only error.
type Result struct {
	URL           string        `json:"url,omitempty"`
	Domain        string        `json:"domain,omitempty"`
	Type          ContentType   `json:"type,omitempty"`
	Title         string        `json:"title,omitempty"`
	Author        string        `json:"author,omitempty"`
	PublishedDate string        `json:"published_date,omitempty"`
	MainImage     string        `json:"main_image,omitempty"`
	Description   string        `json:"description,omitempty"`
	ReadingTime   *int          `json:"reading_time,omitempty"`
	Price         *float64      `json:"price,omitempty"`
	Currency      string        `json:"currency,omitempty"`
	CodeSnippets  []CodeSnippet `json:"code_snippets,omitempty"`
	Transcription string        `json:"transcription,omitempty"`
	Transcript    string        `json:"transcript,omitempty"`
	AISummary     string        `json:"ai_summary,omitempty"`
	AIAnalysis    string        `json:"ai_analysis,omitempty"`
	ProcessedAt   string        `json:"processed_at,omitempty"`

	Error  *ErrorDetail  `json:"error,omitempty"`
	Errors []ErrorDetail `json:"errors,omitempty"`
}
