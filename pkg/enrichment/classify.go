package enrichment

import (
	"encoding/json"
	"fmt"
)

// Reasons reported by Classify, in evaluation order.
const (
	ReasonTransportStatus   = "transport_status"
	ReasonEmbeddedError     = "embedded_error"
	ReasonCriticalError     = "critical_error"
	ReasonMissingTitle      = "missing_title"
	ReasonInvalidType       = "invalid_type"
	ReasonMissingTranscript = "missing_transcript"
	ReasonMissingPrice      = "missing_price"
	ReasonMissingCode       = "missing_code_snippets"
	ReasonMalformedRecord   = "malformed_record"
)

// Verdict is the outcome of classifying one enrichment attempt.
type Verdict struct {
	Notify bool   `json:"notify"`
	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func notify(reason, detail string) Verdict {
	return Verdict{Notify: true, Reason: reason, Detail: detail}
}

// IsError reports whether the record, delivered with the given transport status, needs a
// human to look at it.
func IsError(r *Result, status int) bool {
	return Classify(r, status).Notify
}

// Classify runs the notification rules in order and reports the first one that fires.
//
// It is total: a nil record is treated as a record with every field absent.
func Classify(r *Result, status int) Verdict {
	if status >= 400 {
		return notify(ReasonTransportStatus, fmt.Sprintf("status %d", status))
	}
	if r == nil {
		r = &Result{}
	}

	if r.Error != nil {
		return notify(ReasonEmbeddedError, describe(*r.Error))
	}

	for _, e := range r.Errors {
		if critical(e) {
			return notify(ReasonCriticalError, describe(e))
		}
	}

	if r.Title == "" {
		return notify(ReasonMissingTitle, "")
	}

	if !r.Type.Valid() {
		return notify(ReasonInvalidType, fmt.Sprintf("type %q", r.Type))
	}

	switch r.Type {
	case TypeVideo, TypePodcast:
		if r.Transcription == "" && r.Transcript == "" {
			return notify(ReasonMissingTranscript, string(r.Type))
		}
	case TypeProduct:
		if r.Price == nil || *r.Price == 0 {
			return notify(ReasonMissingPrice, "")
		}
	case TypeCode:
		if len(r.CodeSnippets) == 0 {
			return notify(ReasonMissingCode, "")
		}
	}

	return Verdict{}
}

// ClassifyJSON classifies a raw JSON record produced by any enricher. Only the fields the
// rules read are inspected, each by truthiness: null, false, 0, "" and empty arrays or
// objects count as absent, and a value of an unexpected type is never a decode error. An
// "error" key escalates even when its value is null. A body that is not a JSON object is
// itself notify-worthy.
func ClassifyJSON(body []byte, status int) Verdict {
	if status >= 400 {
		return notify(ReasonTransportStatus, fmt.Sprintf("status %d", status))
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return notify(ReasonMalformedRecord, err.Error())
	}
	if fields == nil {
		return notify(ReasonMalformedRecord, "record is null")
	}

	if raw, ok := fields["error"]; ok {
		var e ErrorDetail
		_ = json.Unmarshal(raw, &e)
		return notify(ReasonEmbeddedError, describe(e))
	}

	var entries []json.RawMessage
	if json.Unmarshal(fields["errors"], &entries) == nil {
		for _, raw := range entries {
			var e struct {
				Stage       any `json:"stage"`
				Message     any `json:"message"`
				Recoverable any `json:"recoverable"`
			}
			if json.Unmarshal(raw, &e) != nil {
				continue
			}
			stage, _ := e.Stage.(string)
			msg, _ := e.Message.(string)
			d := ErrorDetail{Stage: Stage(stage), Message: msg}
			if b, isBool := e.Recoverable.(bool); isBool {
				d.Recoverable = &b
			}
			if critical(d) {
				return notify(ReasonCriticalError, describe(d))
			}
		}
	}

	if !truthy(fields["title"]) {
		return notify(ReasonMissingTitle, "")
	}

	var typ string
	_ = json.Unmarshal(fields["type"], &typ)
	t := ContentType(typ)
	if !t.Valid() {
		return notify(ReasonInvalidType, fmt.Sprintf("type %s", orNull(fields["type"])))
	}

	switch t {
	case TypeVideo, TypePodcast:
		if !truthy(fields["transcription"]) && !truthy(fields["transcript"]) {
			return notify(ReasonMissingTranscript, typ)
		}
	case TypeProduct:
		if !truthy(fields["price"]) {
			return notify(ReasonMissingPrice, "")
		}
	case TypeCode:
		if !truthy(fields["code_snippets"]) {
			return notify(ReasonMissingCode, "")
		}
	}
	return Verdict{}
}

// truthy reports whether a raw JSON value is present and non-empty.
func truthy(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}

func orNull(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	return string(raw)
}

// critical reports whether an entry of the errors list escalates on its own. Transcription
// and AI analysis failures escalate even when marked recoverable.
func critical(e ErrorDetail) bool {
	switch e.Stage {
	case StageTranscription, StageAIAnalysis:
		return true
	}
	return e.Recoverable != nil && !*e.Recoverable
}

func describe(e ErrorDetail) string {
	if e.Stage == "" {
		return e.Message
	}
	return string(e.Stage) + ": " + e.Message
}
