package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/example/dxscan/internal/engine"
)

const (
	DefaultConfigPath = "dxscan.config.yml"
	MaxConcurrency    = 32

	envTarget          = "DX_TARGET"
	envFail            = "DX_FAIL"
	envRecursive       = "DX_RECURSIVE"
	envCI              = "CI"
	envToken           = "DX_GIT_SERVICE_TOKEN"
	envGitHubToken     = "GITHUB_TOKEN"
	envJSON            = "DX_JSON"
	envConcurrency     = "DX_CONCURRENCY"
	envTimeout         = "DX_TIMEOUT"
	envPractices       = "DX_PRACTICES"
	envSummaryFile     = "DX_SUMMARY_FILE"
	envArchiveEndpoint = "DX_ARCHIVE_ENDPOINT"
	envArchiveAccess   = "DX_ARCHIVE_ACCESS_KEY"
	envArchiveSecret   = "DX_ARCHIVE_SECRET_KEY"
	envArchiveBucket   = "DX_ARCHIVE_BUCKET"
	envArchiveSSL      = "DX_ARCHIVE_USE_SSL"
	envDatabaseURL     = "DX_DATABASE_URL"
)

// DefaultEnvFiles are loaded before environment variables are read.
var DefaultEnvFiles = []string{".env.local", ".env"}

// Loader merges configuration coming from files, environment variables, and CLI flags.
type Loader struct {
	ConfigPath string
	// EnvFiles overrides DefaultEnvFiles. Variables already present in the
	// environment are never replaced.
	EnvFiles []string
}

// ArchiveConfig points at the S3 compatible bucket that receives scan results.
type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Enabled reports whether any archive setting was provided.
func (a ArchiveConfig) Enabled() bool {
	return a.Endpoint != "" || a.Bucket != ""
}

// HistoryConfig points at the Postgres database that records scan runs.
type HistoryConfig struct {
	DatabaseURL string
}

// RuntimeConfig contains the fully merged settings required by sub-commands.
type RuntimeConfig struct {
	Target      string
	Fail        string
	Recursive   bool
	CI          bool
	Auth        string
	JSON        bool
	Concurrency int
	Timeout     time.Duration
	Practices   []string
	SummaryFile string
	Archive     ArchiveConfig
	History     HistoryConfig
}

// Overrides captures values coming from env vars or CLI flags. Pointer and
// XSet fields distinguish "not given" from the zero value.
type Overrides struct {
	Target          string
	Fail            string
	Recursive       *bool
	CI              *bool
	Auth            string
	JSON            *bool
	Concurrency     int
	ConcurrencySet  bool
	Timeout         time.Duration
	TimeoutSet      bool
	Practices       []string
	SummaryFile     string
	ArchiveEndpoint string
	ArchiveAccess   string
	ArchiveSecret   string
	ArchiveBucket   string
	ArchiveSSL      *bool
	DatabaseURL     string
}

// DefaultRuntimeConfig returns the baseline configuration when no overrides are provided.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Target:      ".",
		Fail:        string(engine.FailHigh),
		Concurrency: engine.DefaultConcurrency,
		Timeout:     5 * time.Minute,
		Archive:     ArchiveConfig{UseSSL: true},
	}
}

// Load resolves the final runtime configuration.
func (l Loader) Load(override Overrides) (RuntimeConfig, error) {
	cfg := DefaultRuntimeConfig()
	path := l.ConfigPath
	if path == "" {
		path = DefaultConfigPath
	}

	if fileExists(path) {
		fileOv, err := loadFromFile(path)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
		cfg.apply(fileOv)
	}

	envFiles := l.EnvFiles
	if envFiles == nil {
		envFiles = DefaultEnvFiles
	}
	for _, f := range envFiles {
		if fileExists(f) {
			if err := godotenv.Load(f); err != nil {
				return cfg, fmt.Errorf("%s: %w", f, err)
			}
		}
	}

	envOv, err := overridesFromEnv()
	if err != nil {
		return cfg, err
	}
	cfg.apply(envOv)
	cfg.apply(override)

	return cfg, nil
}

// Validate ensures the config contains the minimum required data for a scan.
func (c RuntimeConfig) Validate() error {
	if strings.TrimSpace(c.Target) == "" {
		return errors.New("no target configured; pass a path or URL, or set DX_TARGET")
	}

	if _, err := engine.ParseFailLevel(c.Fail); err != nil {
		return err
	}

	if c.Concurrency < 1 || c.Concurrency > MaxConcurrency {
		return fmt.Errorf("concurrency must be between 1 and %d (got %d)", MaxConcurrency, c.Concurrency)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative (got %s)", c.Timeout)
	}

	if c.Archive.Enabled() {
		if c.Archive.Endpoint == "" || c.Archive.Bucket == "" {
			return errors.New("archive needs both an endpoint and a bucket")
		}
		if c.Archive.AccessKey == "" || c.Archive.SecretKey == "" {
			return errors.New("archive needs an access key and a secret key")
		}
	}

	return nil
}

// FailLevel returns the parsed fail threshold. Call Validate first.
func (c RuntimeConfig) FailLevel() engine.FailLevel {
	level, err := engine.ParseFailLevel(c.Fail)
	if err != nil {
		return engine.FailHigh
	}
	return level
}

func (c *RuntimeConfig) apply(src Overrides) {
	if src.Target != "" {
		c.Target = src.Target
	}

	if src.Fail != "" {
		c.Fail = strings.ToLower(strings.TrimSpace(src.Fail))
	}

	if src.Recursive != nil {
		c.Recursive = *src.Recursive
	}

	if src.CI != nil {
		c.CI = *src.CI
	}

	if src.Auth != "" {
		c.Auth = src.Auth
	}

	if src.JSON != nil {
		c.JSON = *src.JSON
	}

	if src.ConcurrencySet {
		c.Concurrency = src.Concurrency
	}

	if src.TimeoutSet {
		c.Timeout = src.Timeout
	}

	if len(src.Practices) > 0 {
		c.Practices = cleanList(src.Practices)
	}

	if src.SummaryFile != "" {
		c.SummaryFile = src.SummaryFile
	}

	if src.ArchiveEndpoint != "" {
		c.Archive.Endpoint = src.ArchiveEndpoint
	}
	if src.ArchiveAccess != "" {
		c.Archive.AccessKey = src.ArchiveAccess
	}
	if src.ArchiveSecret != "" {
		c.Archive.SecretKey = src.ArchiveSecret
	}
	if src.ArchiveBucket != "" {
		c.Archive.Bucket = src.ArchiveBucket
	}
	if src.ArchiveSSL != nil {
		c.Archive.UseSSL = *src.ArchiveSSL
	}

	if src.DatabaseURL != "" {
		c.History.DatabaseURL = src.DatabaseURL
	}
}

// fileConfig is the YAML layout of dxscan.config.yml.
type fileConfig struct {
	Target      string       `yaml:"target,omitempty"`
	Fail        string       `yaml:"fail,omitempty"`
	Recursive   *bool        `yaml:"recursive,omitempty"`
	JSON        *bool        `yaml:"json,omitempty"`
	Concurrency *int         `yaml:"concurrency,omitempty"`
	Timeout     string       `yaml:"timeout,omitempty"`
	Practices   practiceList `yaml:"practices,omitempty"`
	SummaryFile string       `yaml:"summaryFile,omitempty"`
	Archive     *fileArchive `yaml:"archive,omitempty"`
	History     *fileHistory `yaml:"history,omitempty"`
}

type fileArchive struct {
	Endpoint string `yaml:"endpoint,omitempty"`
	Bucket   string `yaml:"bucket,omitempty"`
	UseSSL   *bool  `yaml:"useSSL,omitempty"`
}

type fileHistory struct {
	DatabaseURL string `yaml:"databaseURL,omitempty"`
}

func loadFromFile(path string) (Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Overrides{}, err
	}

	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Overrides{}, err
	}

	over := Overrides{
		Target:      raw.Target,
		Fail:        raw.Fail,
		Recursive:   raw.Recursive,
		JSON:        raw.JSON,
		Practices:   raw.Practices,
		SummaryFile: raw.SummaryFile,
	}

	if raw.Concurrency != nil {
		over.Concurrency = *raw.Concurrency
		over.ConcurrencySet = true
	}

	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return Overrides{}, fmt.Errorf("timeout: %w", err)
		}
		over.Timeout = d
		over.TimeoutSet = true
	}

	if raw.Archive != nil {
		over.ArchiveEndpoint = raw.Archive.Endpoint
		over.ArchiveBucket = raw.Archive.Bucket
		over.ArchiveSSL = raw.Archive.UseSSL
	}

	if raw.History != nil {
		over.DatabaseURL = raw.History.DatabaseURL
	}

	return over, nil
}

// DefaultFile renders the configuration written by "dxscan init". Secrets are
// left to the environment.
func DefaultFile() ([]byte, error) {
	def := DefaultRuntimeConfig()
	recursive := def.Recursive
	jsonOut := def.JSON
	concurrency := def.Concurrency

	return yaml.Marshal(fileConfig{
		Target:      def.Target,
		Fail:        def.Fail,
		Recursive:   &recursive,
		JSON:        &jsonOut,
		Concurrency: &concurrency,
		Timeout:     def.Timeout.String(),
	})
}

func overridesFromEnv() (Overrides, error) {
	ov := Overrides{}

	if value := os.Getenv(envTarget); value != "" {
		ov.Target = value
	}

	if value := os.Getenv(envFail); value != "" {
		ov.Fail = value
	}

	if value := os.Getenv(envRecursive); value != "" {
		parsed := parseBool(value)
		ov.Recursive = &parsed
	}

	if value := os.Getenv(envCI); value != "" {
		parsed := parseBool(value)
		ov.CI = &parsed
	}

	if value := os.Getenv(envToken); value != "" {
		ov.Auth = value
	} else if value := os.Getenv(envGitHubToken); value != "" {
		ov.Auth = value
	}

	if value := os.Getenv(envJSON); value != "" {
		parsed := parseBool(value)
		ov.JSON = &parsed
	}

	if value := os.Getenv(envConcurrency); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return ov, fmt.Errorf("%s: %w", envConcurrency, err)
		}
		ov.Concurrency = parsed
		ov.ConcurrencySet = true
	}

	if value := os.Getenv(envTimeout); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return ov, fmt.Errorf("%s: %w", envTimeout, err)
		}
		ov.Timeout = parsed
		ov.TimeoutSet = true
	}

	if value := os.Getenv(envPractices); value != "" {
		ov.Practices = ParsePractices(value)
	}

	if value := os.Getenv(envSummaryFile); value != "" {
		ov.SummaryFile = value
	}

	ov.ArchiveEndpoint = os.Getenv(envArchiveEndpoint)
	ov.ArchiveAccess = os.Getenv(envArchiveAccess)
	ov.ArchiveSecret = os.Getenv(envArchiveSecret)
	ov.ArchiveBucket = os.Getenv(envArchiveBucket)
	if value := os.Getenv(envArchiveSSL); value != "" {
		parsed := parseBool(value)
		ov.ArchiveSSL = &parsed
	}

	ov.DatabaseURL = os.Getenv(envDatabaseURL)

	return ov, nil
}

func parseBool(value string) bool {
	return strings.EqualFold(value, "true") || value == "1"
}

// ParsePractices splits a comma, space or newline separated list of practice ids.
func ParsePractices(input string) []string {
	return splitOnDelimiters(input, []rune{',', '\n', '\r', ' '})
}

func splitOnDelimiters(input string, delims []rune) []string {
	if input == "" {
		return nil
	}

	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil
	}

	separator := func(r rune) bool {
		for _, d := range delims {
			if r == d {
				return true
			}
		}
		return false
	}

	parts := strings.FieldsFunc(trimmed, separator)
	return cleanList(parts)
}

func cleanList(values []string) []string {
	var out []string
	for _, v := range values {
		candidate := strings.TrimSpace(v)
		if candidate != "" {
			out = append(out, candidate)
		}
	}
	return out
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// practiceList enables YAML fields that can be specified as a scalar or sequence.
type practiceList []string

func (p *practiceList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var out []string
		for _, node := range value.Content {
			out = append(out, strings.TrimSpace(node.Value))
		}
		*p = cleanList(out)
	case yaml.ScalarNode:
		*p = ParsePractices(value.Value)
	default:
		return fmt.Errorf("unsupported YAML type for practices")
	}
	return nil
}
