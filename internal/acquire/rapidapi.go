package acquire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultRapidAPIHost = "tiktok-video-no-watermark2.p.rapidapi.com"
	defaultDownloadWait = 10 * time.Minute
)

// RapidAPI resolves a watermark-free TikTok download link through RapidAPI and then
// streams the file to disk.
type RapidAPI struct {
	Key string
	// Host is sent as X-RapidAPI-Host; BaseURL defaults to https://<Host>.
	Host    string
	BaseURL string
	Client  *http.Client
}

func NewRapidAPI(key string) *RapidAPI {
	return &RapidAPI{
		Key:     key,
		Host:    DefaultRapidAPIHost,
		BaseURL: "https://" + DefaultRapidAPIHost,
		Client:  &http.Client{Timeout: defaultDownloadWait},
	}
}

func (r *RapidAPI) Name() string { return MethodRapidAPI }

type rapidResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		ID       string  `json:"id"`
		Title    string  `json:"title"`
		Duration float64 `json:"duration"`
		HDPlay   string  `json:"hdplay"`
		Play     string  `json:"play"`
		Cover    string  `json:"cover"`
		Author   struct {
			UniqueID string `json:"unique_id"`
		} `json:"author"`
	} `json:"data"`
}

func (r *RapidAPI) Acquire(ctx context.Context, videoURL, workDir string) (*DownloadResult, error) {
	if r.Key == "" {
		return nil, errors.New("RapidAPI key not configured")
	}
	info, err := r.lookup(ctx, videoURL)
	if err != nil {
		return nil, err
	}
	d := info.Data
	link := firstNonEmpty(d.HDPlay, d.Play)
	if link == "" {
		return nil, errors.New("No video URL found in RapidAPI response")
	}
	id := firstNonEmpty(d.ID, "unknown")
	path := filepath.Join(workDir, id+".mp4")
	if err := r.download(ctx, link, path); err != nil {
		return nil, err
	}
	return &DownloadResult{
		FilePath:       path,
		Title:          firstNonEmpty(d.Title, "Untitled"),
		Duration:       d.Duration,
		Ext:            "mp4",
		Uploader:       firstNonEmpty(d.Author.UniqueID, "Unknown"),
		VideoID:        id,
		Source:         SourceTikTok,
		Thumbnail:      d.Cover,
		DownloadMethod: MethodRapidAPI,
	}, nil
}

func (r *RapidAPI) lookup(ctx context.Context, videoURL string) (*rapidResponse, error) {
	q := url.Values{"url": {videoURL}, "hd": {"1"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("rapidapi: new request: %w", err)
	}
	req.Header.Set("X-RapidAPI-Key", r.Key)
	req.Header.Set("X-RapidAPI-Host", r.Host)

	resp, err := r.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("rapidapi: request: %w", err)
	}
	defer resp.Body.Close()

	var out rapidResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("rapidapi: decode response (status %d): %w", resp.StatusCode, err)
	}
	if out.Code != 0 {
		return nil, fmt.Errorf("RapidAPI error: %s", firstNonEmpty(out.Msg, "Unknown error"))
	}
	return &out, nil
}

func (r *RapidAPI) download(ctx context.Context, link, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return fmt.Errorf("rapidapi: download request: %w", err)
	}
	resp, err := r.client().Do(req)
	if err != nil {
		return fmt.Errorf("rapidapi: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rapidapi: download: unexpected status code: %d", resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("rapidapi: create %s: %w", path, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("rapidapi: write video file: %w", err)
	}
	return f.Close()
}

func (r *RapidAPI) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return http.DefaultClient
}
