// Package config resolves enricher settings from defaults, an optional YAML file, a .env
// file and the environment, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/shpitdev/bookmark-enricher/internal/acquire"
	"github.com/shpitdev/bookmark-enricher/internal/analysis"
	"github.com/shpitdev/bookmark-enricher/internal/fetch"
	"github.com/shpitdev/bookmark-enricher/internal/storage"
)

// FileEnv names the environment variable holding the YAML config path.
const FileEnv = "ENRICHER_CONFIG"

const (
	StorageGCS   = "gcs"
	StorageLocal = "local"
)

type Config struct {
	Server  Server  `yaml:"server"`
	Log     Log     `yaml:"log"`
	Gemini  Gemini  `yaml:"gemini"`
	Fetch   Fetch   `yaml:"fetch"`
	Storage Storage `yaml:"storage"`
	Acquire Acquire `yaml:"acquire"`
	Batch   Batch   `yaml:"batch"`
	Jobs    Jobs    `yaml:"jobs"`
}

type Server struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Gemini struct {
	// APIKey is only read from the environment.
	APIKey       string        `yaml:"-"`
	Model        string        `yaml:"model"`
	BaseURL      string        `yaml:"base_url"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxWait      time.Duration `yaml:"max_wait"`
}

type Fetch struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

type Storage struct {
	Backend string `yaml:"backend"`
	Bucket  string `yaml:"bucket"`
	// CredentialsJSON is the service-account JSON, only read from the environment.
	CredentialsJSON string `yaml:"-"`
	LocalDir        string `yaml:"local_dir"`
	PublicBaseURL   string `yaml:"public_base_url"`
}

type Acquire struct {
	YtDlpPath    string `yaml:"ytdlp_path"`
	FFmpegPath   string `yaml:"ffmpeg_path"`
	RapidAPIKey  string `yaml:"-"`
	RapidAPIHost string `yaml:"rapidapi_host"`
	TempDir      string `yaml:"temp_dir"`
}

type Batch struct {
	Workers        int           `yaml:"workers"`
	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	FailFast       bool          `yaml:"fail_fast"`
}

// Jobs points the work command at an orchestrator job queue.
type Jobs struct {
	GetJobURI     string `yaml:"get_job_uri"`
	PostResultURI string `yaml:"post_result_uri"`
	AuthToken     string `yaml:"-"`
	CAPath        string `yaml:"ca_path"`
}

func Default() Config {
	return Config{
		Server: Server{Port: 8080, RequestTimeout: 10 * time.Minute},
		Log:    Log{Level: "info", Format: "json"},
		Gemini: Gemini{
			Model:        analysis.DefaultModel,
			RateLimitRPS: 2,
			PollInterval: analysis.DefaultPollInterval,
			MaxWait:      analysis.DefaultMaxWait,
		},
		Fetch: Fetch{Timeout: fetch.DefaultTimeout, UserAgent: fetch.DefaultUserAgent},
		Storage: Storage{
			Backend:  StorageGCS,
			Bucket:   storage.DefaultBucket,
			LocalDir: "./data",
		},
		Acquire: Acquire{
			YtDlpPath:    "yt-dlp",
			FFmpegPath:   "ffmpeg",
			RapidAPIHost: acquire.DefaultRapidAPIHost,
		},
		Batch: Batch{
			Workers:        4,
			MaxRetries:     2,
			RequestTimeout: 90 * time.Second,
		},
	}
}

// Load builds a Config. file may be empty, in which case ENRICHER_CONFIG is consulted.
// dotenv is loaded if it exists; it never overrides variables already set.
func Load(file, dotenv string) (Config, error) {
	cfg := Default()

	if file == "" {
		file = strings.TrimSpace(os.Getenv(FileEnv))
	}
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := decodeYAML(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", file, err)
		}
	}

	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var errs []error
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		v, err := envInt(name, *dst)
		errs = append(errs, err)
		*dst = v
	}
	flt := func(name string, dst *float64) {
		v, err := envFloat(name, *dst)
		errs = append(errs, err)
		*dst = v
	}
	dur := func(name string, dst *time.Duration) {
		v, err := envDuration(name, *dst)
		errs = append(errs, err)
		*dst = v
	}
	flag := func(name string, dst *bool) {
		v, err := envBool(name, *dst)
		errs = append(errs, err)
		*dst = v
	}

	num("PORT", &cfg.Server.Port)
	dur("SERVER_REQUEST_TIMEOUT", &cfg.Server.RequestTimeout)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	str("GEMINI_API_KEY", &cfg.Gemini.APIKey)
	str("GEMINI_MODEL", &cfg.Gemini.Model)
	str("GEMINI_BASE_URL", &cfg.Gemini.BaseURL)
	flt("GEMINI_RATE_LIMIT_RPS", &cfg.Gemini.RateLimitRPS)
	dur("ANALYSIS_POLL_INTERVAL", &cfg.Gemini.PollInterval)
	dur("ANALYSIS_MAX_WAIT", &cfg.Gemini.MaxWait)

	dur("FETCH_TIMEOUT", &cfg.Fetch.Timeout)
	str("FETCH_USER_AGENT", &cfg.Fetch.UserAgent)

	str("STORAGE_BACKEND", &cfg.Storage.Backend)
	str("GCS_BUCKET", &cfg.Storage.Bucket)
	str("GOOGLE_SERVICE_ACCOUNT", &cfg.Storage.CredentialsJSON)
	str("STORAGE_LOCAL_DIR", &cfg.Storage.LocalDir)
	str("STORAGE_PUBLIC_BASE_URL", &cfg.Storage.PublicBaseURL)

	str("YTDLP_PATH", &cfg.Acquire.YtDlpPath)
	str("FFMPEG_PATH", &cfg.Acquire.FFmpegPath)
	str("RAPIDAPI_KEY", &cfg.Acquire.RapidAPIKey)
	str("RAPIDAPI_HOST", &cfg.Acquire.RapidAPIHost)
	str("VIDEO_TEMP_DIR", &cfg.Acquire.TempDir)

	num("WORKERS", &cfg.Batch.Workers)
	num("MAX_RETRIES", &cfg.Batch.MaxRetries)
	dur("REQUEST_TIMEOUT", &cfg.Batch.RequestTimeout)
	flt("RATE_LIMIT_RPS", &cfg.Batch.RateLimitRPS)
	flag("FAIL_FAST", &cfg.Batch.FailFast)

	str("GET_JOB_URI", &cfg.Jobs.GetJobURI)
	str("POST_RESULT_URI", &cfg.Jobs.PostResultURI)
	str("MODULE_AUTH_TOKEN", &cfg.Jobs.AuthToken)
	str("DEFAULT_CA_PATH", &cfg.Jobs.CAPath)

	return errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port must be in 1..65535, got %d", c.Server.Port)
	check(c.Server.RequestTimeout >= 0, "server.request_timeout must not be negative")

	_, err := zapcore.ParseLevel(c.Log.Level)
	check(err == nil, "log.level %q is not a zap level", c.Log.Level)
	check(c.Log.Format == "json" || c.Log.Format == "console", "log.format must be json or console, got %q", c.Log.Format)

	check(strings.TrimSpace(c.Gemini.Model) != "", "gemini.model is required")
	check(c.Gemini.RateLimitRPS >= 0, "gemini.rate_limit_rps must not be negative")
	check(c.Gemini.PollInterval > 0, "gemini.poll_interval must be positive")
	check(c.Gemini.MaxWait > 0, "gemini.max_wait must be positive")

	check(c.Fetch.Timeout > 0, "fetch.timeout must be positive")

	switch c.Storage.Backend {
	case StorageGCS:
		check(strings.TrimSpace(c.Storage.Bucket) != "", "storage.bucket is required for the gcs backend")
	case StorageLocal:
		check(strings.TrimSpace(c.Storage.LocalDir) != "", "storage.local_dir is required for the local backend")
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be %s or %s, got %q", StorageGCS, StorageLocal, c.Storage.Backend))
	}

	check(c.Acquire.YtDlpPath != "", "acquire.ytdlp_path is required")

	check(c.Batch.Workers > 0, "batch.workers must be positive, got %d", c.Batch.Workers)
	check(c.Batch.MaxRetries >= 0, "batch.max_retries must not be negative")
	check(c.Batch.RequestTimeout > 0, "batch.request_timeout must be positive")
	check(c.Batch.RateLimitRPS >= 0, "batch.rate_limit_rps must not be negative")

	return errors.Join(errs...)
}

func envInt(varName string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envFloat(varName string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envDuration(varName string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envBool(varName string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}
