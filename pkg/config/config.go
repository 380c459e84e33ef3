package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/soypete/alttext/pkg/alttext"
	"github.com/soypete/alttext/pkg/database"
	"github.com/soypete/alttext/pkg/logging"
	"github.com/soypete/alttext/pkg/prompts"
	"github.com/soypete/alttext/pkg/storage"
	"github.com/soypete/alttext/pkg/vision"
)

//go:embed schema.json
var schemaJSON string

// ErrNoConfigFile is returned by LoadDefault when no config file exists.
var ErrNoConfigFile = errors.New("no alttext.yaml found in current directory or home")

// Queue backends.
const (
	QueueBackendPostgres = "postgres"
	QueueBackendFile     = "file"
)

// Config represents the alttext configuration
type Config struct {
	OpenAI     OpenAIConfig         `json:"openai" yaml:"openai"`
	Prompts    PromptsConfig        `json:"prompts" yaml:"prompts"`
	Generation alttext.Settings     `json:"generation" yaml:"generation"`
	Images     ImagesConfig         `json:"images" yaml:"images"`
	Storage    storage.VolumeConfig `json:"storage" yaml:"storage"`
	Database   database.Config      `json:"database" yaml:"database"`
	Queue      QueueConfig          `json:"queue" yaml:"queue"`
	Server     ServerConfig         `json:"server" yaml:"server"`
	Log        LogConfig            `json:"log" yaml:"log"`
}

// OpenAIConfig contains vision model settings
type OpenAIConfig struct {
	APIKey      string        `json:"api_key" yaml:"api_key"`
	BaseURL     string        `json:"base_url" yaml:"base_url"`
	Model       string        `json:"model" yaml:"model"`
	ImageDetail string        `json:"image_detail" yaml:"image_detail"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
}

// PromptsConfig contains prompt templates. Dir holds optional <kind>.txt
// overrides.
type PromptsConfig struct {
	AltText  string `json:"alt_text" yaml:"alt_text"`
	Title    string `json:"title" yaml:"title"`
	Filename string `json:"filename" yaml:"filename"`
	Dir      string `json:"dir" yaml:"dir"`
}

// Templates returns the configured templates keyed by prompt kind.
func (p PromptsConfig) Templates() map[prompts.Kind]string {
	return map[prompts.Kind]string{
		prompts.KindAltText:  p.AltText,
		prompts.KindTitle:    p.Title,
		prompts.KindFilename: p.Filename,
	}
}

// ImagesConfig contains image normalization and URL probe settings
type ImagesConfig struct {
	vision.ImageProcessorConfig `yaml:",inline"`
	ProbeTimeout                time.Duration `json:"probe_timeout" yaml:"probe_timeout"`
	ProbeCacheTTL               time.Duration `json:"probe_cache_ttl" yaml:"probe_cache_ttl"`
}

// QueueConfig contains deferred job settings
type QueueConfig struct {
	Backend           string        `json:"backend" yaml:"backend"`
	StateDir          string        `json:"state_dir" yaml:"state_dir"`
	Concurrency       int           `json:"concurrency" yaml:"concurrency"`
	RequestsPerMinute int           `json:"requests_per_minute" yaml:"requests_per_minute"`
	PollInterval      time.Duration `json:"poll_interval" yaml:"poll_interval"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Load loads configuration from a YAML or JSON file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates configuration bytes. JSON is parsed
// as YAML, so both formats share one decoder.
func Parse(data []byte) (*Config, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if err := validateSchema(doc); err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.resolveEnv()
	config.setDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns a configuration with every default applied and secrets
// taken from the environment.
func Default() *Config {
	var config Config
	config.resolveEnv()
	config.setDefaults()
	return &config
}

// LoadDefault attempts to load alttext.yaml or alttext.json from the current
// directory, then .alttext.yaml from home
func LoadDefault() (*Config, error) {
	for _, name := range []string{"alttext.yaml", "alttext.json"} {
		if _, err := os.Stat(name); err == nil {
			return Load(name)
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		homePath := filepath.Join(home, ".alttext.yaml")
		if _, err := os.Stat(homePath); err == nil {
			return Load(homePath)
		}
	}

	return nil, ErrNoConfigFile
}

func validateSchema(doc map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("failed to validate config: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// resolveEnv replaces "$NAME" values with the environment variable NAME and
// fills unset secrets from their conventional variables.
func (c *Config) resolveEnv() {
	c.OpenAI.APIKey = expandEnv(c.OpenAI.APIKey)
	c.OpenAI.BaseURL = expandEnv(c.OpenAI.BaseURL)
	c.Database.URL = expandEnv(c.Database.URL)
	c.Database.Password = expandEnv(c.Database.Password)
	c.Storage.BaseURL = expandEnv(c.Storage.BaseURL)

	if c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Database.URL == "" {
		c.Database.URL = os.Getenv("DATABASE_URL")
	}
}

func expandEnv(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "$") {
		return s
	}
	name := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(s, "$"), "{"), "}")
	return os.Getenv(name)
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	// OpenAI defaults
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = vision.DefaultBaseURL
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = vision.DefaultModel
	}
	if c.OpenAI.ImageDetail == "" {
		c.OpenAI.ImageDetail = string(vision.DetailLow)
	}
	if c.OpenAI.Timeout == 0 {
		c.OpenAI.Timeout = vision.DefaultTimeout
	}

	// Prompt defaults
	if strings.TrimSpace(c.Prompts.AltText) == "" {
		c.Prompts.AltText = prompts.DefaultAltTextTemplate
	}

	// Image defaults
	images := vision.DefaultImageProcessorConfig()
	if c.Images.MaxLongEdge == 0 {
		c.Images.MaxLongEdge = images.MaxLongEdge
	}
	if c.Images.MaxShortEdge == 0 {
		c.Images.MaxShortEdge = images.MaxShortEdge
	}
	if c.Images.LargeFileBytes == 0 {
		c.Images.LargeFileBytes = images.LargeFileBytes
	}
	if c.Images.LargeFileQuality == 0 {
		c.Images.LargeFileQuality = images.LargeFileQuality
	}
	if c.Images.Quality == 0 {
		c.Images.Quality = images.Quality
	}
	if c.Images.ProbeTimeout == 0 {
		c.Images.ProbeTimeout = vision.DefaultProbeTimeout
	}
	if c.Images.ProbeCacheTTL == 0 {
		c.Images.ProbeCacheTTL = vision.DefaultProbeCacheTTL
	}

	// Storage defaults
	if c.Storage.BasePath == "" {
		c.Storage.BasePath = storage.DefaultVolumeConfig().BasePath
	}

	// Database defaults
	db := database.DefaultConfig()
	if c.Database.Host == "" {
		c.Database.Host = db.Host
	}
	if c.Database.Port == 0 {
		c.Database.Port = db.Port
	}
	if c.Database.Database == "" {
		c.Database.Database = db.Database
	}
	if c.Database.User == "" {
		c.Database.User = db.User
	}
	if c.Database.Password == "" {
		c.Database.Password = db.Password
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = db.SSLMode
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = db.MaxOpenConns
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = db.MaxIdleConns
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = db.ConnMaxLifetime
	}

	// Queue defaults
	if c.Queue.Backend == "" {
		c.Queue.Backend = QueueBackendPostgres
	}
	if c.Queue.StateDir == "" {
		c.Queue.StateDir = "/tmp/alttext-jobs"
	}
	if c.Queue.Concurrency == 0 {
		c.Queue.Concurrency = 4
	}
	if c.Queue.RequestsPerMinute == 0 {
		c.Queue.RequestsPerMinute = 60
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = 2 * time.Second
	}

	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = logging.FormatJSON
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := vision.ParseDetail(c.OpenAI.ImageDetail); err != nil {
		return err
	}
	if c.OpenAI.Timeout < 0 {
		return fmt.Errorf("openai.timeout must not be negative: %s", c.OpenAI.Timeout)
	}

	if c.Images.MaxShortEdge > c.Images.MaxLongEdge {
		return fmt.Errorf("images.max_short_edge (%d) exceeds images.max_long_edge (%d)",
			c.Images.MaxShortEdge, c.Images.MaxLongEdge)
	}

	switch c.Queue.Backend {
	case QueueBackendPostgres, QueueBackendFile:
	default:
		return fmt.Errorf("invalid queue backend: %s (must be 'postgres' or 'file')", c.Queue.Backend)
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue.concurrency must be at least 1: %d", c.Queue.Concurrency)
	}
	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue.poll_interval must be positive: %s", c.Queue.PollInterval)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}

// RequireAPIKey reports a missing OpenAI key. Commands that never call the
// vision API skip it.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		return errors.New("openai.api_key is required (set it in the config file or OPENAI_API_KEY)")
	}
	return nil
}
