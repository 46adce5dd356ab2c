// Package analysis produces AI summaries of pages and videos with Gemini.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/genai"

	"github.com/shpitdev/bookmark-enricher/pkg/pipeline/core"
)

const DefaultModel = "gemini-2.0-flash"

// Config selects the Gemini endpoint. APIKey may be empty; analyzers then report the
// missing key instead of failing construction.
type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string

	// RateLimitRPS bounds Gemini calls per second across all requests. <=0 disables.
	RateLimitRPS float64
}

// RemoteFile is a file held by the Gemini File API.
type RemoteFile struct {
	Name     string
	URI      string
	MIMEType string
	State    State
}

// Model generates a JSON document constrained by schema.
type Model interface {
	GenerateJSON(ctx context.Context, prompt string, schema *genai.Schema) (string, error)
}

// Files is the subset of the File API the video analyzer needs.
type Files interface {
	Upload(ctx context.Context, path, mimeType string) (RemoteFile, error)
	Get(ctx context.Context, name string) (RemoteFile, error)
	GenerateFromFile(ctx context.Context, f RemoteFile, prompt string) (string, error)
	Delete(ctx context.Context, name string) error
}

// Backend implements Model and Files on a genai client.
type Backend struct {
	client *genai.Client
	model  string
}

// Dial creates a Backend for apiKey, using cfg for everything else.
func Dial(ctx context.Context, cfg Config, apiKey string) (*Backend, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Backend{client: client, model: model}, nil
}

func (b *Backend) ModelName() string { return b.model }

func (b *Backend) GenerateJSON(ctx context.Context, prompt string, schema *genai.Schema) (string, error) {
	resp, err := b.client.Models.GenerateContent(
		ctx,
		b.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   schema,
		},
	)
	if err != nil {
		return "", classifyErr(err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

func (b *Backend) Upload(ctx context.Context, path, mimeType string) (RemoteFile, error) {
	f, err := b.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{MIMEType: mimeType})
	if err != nil {
		return RemoteFile{}, classifyErr(err)
	}
	return toRemote(f), nil
}

func (b *Backend) Get(ctx context.Context, name string) (RemoteFile, error) {
	f, err := b.client.Files.Get(ctx, name, nil)
	if err != nil {
		return RemoteFile{}, classifyErr(err)
	}
	return toRemote(f), nil
}

func (b *Backend) GenerateFromFile(ctx context.Context, f RemoteFile, prompt string) (string, error) {
	parts := []*genai.Part{
		genai.NewPartFromURI(f.URI, f.MIMEType),
		genai.NewPartFromText(prompt),
	}
	resp, err := b.client.Models.GenerateContent(
		ctx,
		b.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		nil,
	)
	if err != nil {
		return "", classifyErr(err)
	}
	return resp.Text(), nil
}

func (b *Backend) Delete(ctx context.Context, name string) error {
	_, err := b.client.Files.Delete(ctx, name, nil)
	return err
}

func toRemote(f *genai.File) RemoteFile {
	if f == nil {
		return RemoteFile{}
	}
	return RemoteFile{
		Name:     f.Name,
		URI:      f.URI,
		MIMEType: f.MIMEType,
		State:    State(f.State),
	}
}

// classifyErr marks rate limiting, server errors and network timeouts as transient so
// batch workers retry them with backoff.
func classifyErr(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code/100 == 5 {
			return &core.TransientError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &core.TransientError{Err: err}
	}
	return err
}
