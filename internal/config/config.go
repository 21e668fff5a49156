package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config mirrors the YAML schema. Values come from YAML; the few defaults live in
// applyDefaults so an empty section still yields a usable client.
type Config struct {
	Version    int              `yaml:"version"`
	General    General          `yaml:"general"`
	Models     Models           `yaml:"models"`
	Network    Network          `yaml:"network"`
	Sources    Sources          `yaml:"sources"`
	Gallery    Gallery          `yaml:"gallery"`
	Cache      Cache            `yaml:"cache"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Logging    Logging          `yaml:"logging"`
	Metrics    Metrics          `yaml:"metrics"`
	UI         UIOptions        `yaml:"ui"`
}

type General struct {
	DataRoot   string `yaml:"data_root"`
	OutputRoot string `yaml:"output_root"` // saved gallery images land here
}

// Models maps a model category (checkpoints, loras, ...) to the directories scanned for it.
// Files under Unsorted are assigned a category by the classifier.
type Models struct {
	Roots    map[string][]string `yaml:"roots"`
	Unsorted []string            `yaml:"unsorted"`
}

type Network struct {
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	UserAgent      string  `yaml:"user_agent"`
	Domain         string  `yaml:"domain"`   // com | work
	BaseURL        string  `yaml:"base_url"` // replaces the Domain origin (mirrors, local proxies)
	MaxRetries     int     `yaml:"max_retries"`
	Backoff        Backoff `yaml:"backoff"`
}

type Backoff struct {
	MinMS int `yaml:"min_ms"`
	MaxMS int `yaml:"max_ms"`
}

type Sources struct {
	CivitAI SourceWithToken `yaml:"civitai"`
}

type SourceWithToken struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
}

type Gallery struct {
	CardWidth        int    `yaml:"card_width"`
	Gap              int    `yaml:"gap"`
	Limit            int    `yaml:"limit"`
	Sort             string `yaml:"sort"`        // Most Reactions | Most Comments | Newest
	NSFW             string `yaml:"nsfw"`        // None | Soft | Mature | X
	FilterType       string `yaml:"filter_type"` // all | image | video
	ProbeConcurrency int    `yaml:"probe_concurrency"`
}

type Cache struct {
	ProbeTTLHours int `yaml:"probe_ttl_hours"`
	APITTLHours   int `yaml:"api_ttl_hours"`
}

type ClassifierConfig struct {
	Rules []ClassifierRule `yaml:"rules"`
}

type ClassifierRule struct {
	Regex string `yaml:"regex"`
	Type  string `yaml:"type"`
}

type Logging struct {
	Level  string  `yaml:"level"`  // debug|info|warn|error
	Format string  `yaml:"format"` // human|json
	File   LogFile `yaml:"file"`
}

type LogFile struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Metrics struct {
	PrometheusTextfile PromTextfile `yaml:"prometheus_textfile"`
}

type PromTextfile struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type UIOptions struct {
	// RefreshHz controls the TUI spinner tick rate. 0 means 1; values above 10 are clamped.
	RefreshHz int `yaml:"refresh_hz"`
	// Language is a BCP 47 tag used to collate tree entries (default "en").
	Language string `yaml:"language"`
	// DefaultCategory is the manager tab selected at start; empty picks the first one.
	DefaultCategory string `yaml:"default_category"`
}

// SupportedModelTypes are the categories the scanner and the manager know about.
var SupportedModelTypes = []string{"checkpoints", "loras", "vae", "embeddings", "hypernetworks"}

// DefaultPath returns $MODSHELF_CONFIG or ~/.config/modshelf/config.yml.
func DefaultPath() string {
	if p := os.Getenv("MODSHELF_CONFIG"); p != "" {
		return p
	}
	h, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(h, ".config", "modshelf", "config.yml")
}

// Load reads, parses, expands, and validates a YAML config file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	expanded, err := expandTilde(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(expanded)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse expands ${ENV} placeholders, unmarshals, fills defaults and validates.
func Parse(b []byte) (*Config, error) {
	b = []byte(os.ExpandEnv(string(b)))
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	if err := c.expandPaths(); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Network.TimeoutSeconds == 0 {
		c.Network.TimeoutSeconds = 30
	}
	if c.Network.Domain == "" {
		c.Network.Domain = "com"
	}
	if c.Network.UserAgent == "" {
		c.Network.UserAgent = "modshelf/0.1"
	}
	if c.Network.Backoff.MinMS == 0 && c.Network.Backoff.MaxMS == 0 {
		c.Network.Backoff = Backoff{MinMS: 500, MaxMS: 8000}
	}
	if c.Sources.CivitAI.TokenEnv == "" {
		c.Sources.CivitAI.TokenEnv = "CIVITAI_TOKEN"
	}
	if c.Gallery.CardWidth == 0 {
		c.Gallery.CardWidth = 150
	}
	if c.Gallery.Gap == 0 {
		c.Gallery.Gap = 8
	}
	if c.Gallery.Limit == 0 {
		c.Gallery.Limit = 50
	}
	if c.Gallery.Sort == "" {
		c.Gallery.Sort = "Most Reactions"
	}
	if c.Gallery.NSFW == "" {
		c.Gallery.NSFW = "None"
	}
	if c.Gallery.FilterType == "" {
		c.Gallery.FilterType = "all"
	}
	if c.Gallery.ProbeConcurrency == 0 {
		c.Gallery.ProbeConcurrency = 8
	}
	if c.General.OutputRoot == "" && c.General.DataRoot != "" {
		c.General.OutputRoot = filepath.Join(c.General.DataRoot, "output")
	}
}

func (c *Config) expandPaths() error {
	var err error
	if c.General.DataRoot, err = expandTilde(c.General.DataRoot); err != nil {
		return err
	}
	if c.General.OutputRoot, err = expandTilde(c.General.OutputRoot); err != nil {
		return err
	}
	if c.Logging.File.Path, err = expandTilde(c.Logging.File.Path); err != nil {
		return err
	}
	if c.Metrics.PrometheusTextfile.Path, err = expandTilde(c.Metrics.PrometheusTextfile.Path); err != nil {
		return err
	}
	for i, d := range c.Models.Unsorted {
		if c.Models.Unsorted[i], err = expandTilde(d); err != nil {
			return fmt.Errorf("models.unsorted[%d]: %w", i, err)
		}
	}
	for cat, dirs := range c.Models.Roots {
		for i, d := range dirs {
			exp, err := expandTilde(d)
			if err != nil {
				return fmt.Errorf("models.roots.%s[%d]: %w", cat, i, err)
			}
			dirs[i] = exp
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d", c.Version)
	}
	if c.General.DataRoot == "" {
		return errors.New("general.data_root is required")
	}
	switch c.Network.Domain {
	case "com", "work":
	default:
		return fmt.Errorf("network.domain invalid: %s (want com or work)", c.Network.Domain)
	}
	if b := c.Network.BaseURL; b != "" && !strings.HasPrefix(b, "http://") && !strings.HasPrefix(b, "https://") {
		return fmt.Errorf("network.base_url must be an http(s) URL: %s", b)
	}
	switch strings.ToLower(c.Gallery.FilterType) {
	case "all", "image", "video":
	default:
		return fmt.Errorf("gallery.filter_type invalid: %s", c.Gallery.FilterType)
	}
	if c.Gallery.CardWidth < 1 {
		return fmt.Errorf("gallery.card_width must be >= 1")
	}
	if c.Gallery.Gap < 0 {
		return fmt.Errorf("gallery.gap must be >= 0")
	}
	if c.Cache.ProbeTTLHours < 0 || c.Cache.APITTLHours < 0 {
		return fmt.Errorf("cache ttl values must be >= 0")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level invalid: %s", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "human", "json":
	default:
		return fmt.Errorf("logging.format invalid: %s", c.Logging.Format)
	}
	for i, r := range c.Classifier.Rules {
		if r.Regex == "" || r.Type == "" {
			return fmt.Errorf("classifier.rules[%d]: regex and type required", i)
		}
		if _, err := regexp.Compile(r.Regex); err != nil {
			return fmt.Errorf("classifier.rules[%d].regex: %v", i, err)
		}
	}
	if c.UI.RefreshHz < 0 {
		return fmt.Errorf("ui.refresh_hz must be >= 0")
	}
	return nil
}

// BaseURL returns the Civitai origin selected by network.domain.
func (c *Config) BaseURL() string {
	if c.Network.BaseURL != "" {
		return strings.TrimRight(c.Network.BaseURL, "/")
	}
	return DomainURL(c.Network.Domain)
}

// DomainURL maps a network choice to its origin; anything but "work" means civitai.com.
func DomainURL(domain string) string {
	if domain == "work" {
		return "https://civitai.work"
	}
	return "https://civitai.com"
}

// DBPath is the state database location under data_root.
func (c *Config) DBPath() string {
	return filepath.Join(c.General.DataRoot, "state.db")
}

// ProbeCacheDir is the badger directory for measured image sizes.
func (c *Config) ProbeCacheDir() string {
	return filepath.Join(c.General.DataRoot, "probe-cache")
}

func expandTilde(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if p[0] != '~' {
		return p, nil
	}
	h, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if p == "~" {
		return h, nil
	}
	return filepath.Join(h, p[2:]), nil
}

// EnsureDir creates path if it is set.
func EnsureDir(path string, perm fs.FileMode) error {
	if path == "" {
		return nil
	}
	return os.MkdirAll(path, perm)
}
