package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/agent"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
)

const appName = "fabricator"

type Config struct {
	AI       AIConfig          `yaml:"ai" validate:"required"`
	Limits   Limits            `yaml:"limits" validate:"required"`
	Pipeline PipelineConfig    `yaml:"pipeline" validate:"required"`
	Cache    CacheConfig       `yaml:"cache"`
	Paths    PathsConfig       `yaml:"paths" validate:"required"`
	Prompts  map[string]string `yaml:"prompts,omitempty"`
}

type AIConfig struct {
	Providers   map[string]ProviderConfig `yaml:"providers" validate:"dive"`
	Models      map[string]string         `yaml:"models" validate:"required,dive,modeluri"`
	Temperature *float64                  `yaml:"temperature,omitempty" validate:"omitempty,min=0,max=2"`
	MaxTokens   int                       `yaml:"max_tokens" validate:"required,min=256,max=200000"`
	Seed        *int64                    `yaml:"seed,omitempty"`
	Timeout     time.Duration             `yaml:"timeout" validate:"required,min=10s,max=1h"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty" validate:"omitempty,url"`
}

type PipelineConfig struct {
	RepairAttempts    int  `yaml:"repair_attempts" validate:"min=0,max=10"`
	AppendAttempts    int  `yaml:"append_attempts" validate:"min=0,max=10"`
	MaxScenes         int  `yaml:"max_scenes" validate:"required,min=2,max=20"`
	SceneContextRunes int  `yaml:"scene_context_runes" validate:"required,min=500"`
	LoreExcerptRunes  int  `yaml:"lore_excerpt_runes" validate:"min=0"`
	DraftParts        int  `yaml:"outline_draft_parts" validate:"required,min=1,max=10"`
	CarryForward      bool `yaml:"carry_forward"`
	Critique          bool `yaml:"critique"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Size    int           `yaml:"size" validate:"omitempty,min=1"`
	TTL     time.Duration `yaml:"ttl,omitempty"`
}

type PathsConfig struct {
	OutputDir   string `yaml:"output_dir" validate:"required"`
	LorebookDir string `yaml:"lorebook_dir" validate:"required"`
	RecordsDB   string `yaml:"records_db" validate:"required"`
}

// keyEnv lists the environment variable consulted when a provider has no key.
var keyEnv = map[string]string{
	"anthropic":  "ANTHROPIC_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

func DefaultConfig() *Config {
	dataDir := dataHome()
	return &Config{
		AI: AIConfig{
			Providers: map[string]ProviderConfig{
				"anthropic": {APIKey: "${ANTHROPIC_API_KEY}"},
			},
			Models: map[string]string{
				agent.DefaultRoute: "anthropic://claude-sonnet-4-5",
			},
			MaxTokens: 4096,
			Timeout:   5 * time.Minute,
		},
		Limits: DefaultLimits(),
		Pipeline: PipelineConfig{
			RepairAttempts:    2,
			AppendAttempts:    2,
			MaxScenes:         6,
			SceneContextRunes: 6000,
			LoreExcerptRunes:  4000,
			DraftParts:        1,
			CarryForward:      true,
			Critique:          true,
		},
		Cache: CacheConfig{
			Size: 512,
			TTL:  7 * 24 * time.Hour,
		},
		Paths: PathsConfig{
			OutputDir:   filepath.Join(dataDir, "output"),
			LorebookDir: filepath.Join(dataDir, "lorebooks"),
			RecordsDB:   filepath.Join(dataDir, "records.db"),
		},
	}
}

// Load reads .env, then the YAML file at path (or the resolved default path),
// overlays it on DefaultConfig and validates the result. A missing file is
// not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = Path()
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(expandTilde(path))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.resolve()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Path resolves the config file location.
func Path() string {
	if path := os.Getenv("FABRICATOR_CONFIG"); path != "" {
		return path
	}
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, appName, "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", appName, "config.yaml")
}

func dataHome() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, appName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", appName)
}

// expandTilde expands a leading ~/ to the user's home directory
func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// resolve expands ${VAR} placeholders, fills provider keys from the
// environment and expands paths.
func (c *Config) resolve() {
	if c.AI.Providers == nil {
		c.AI.Providers = make(map[string]ProviderConfig)
	}
	for name, p := range c.AI.Providers {
		p.APIKey = strings.TrimSpace(os.ExpandEnv(p.APIKey))
		p.BaseURL = strings.TrimSpace(os.ExpandEnv(p.BaseURL))
		if p.APIKey == "" {
			if env, ok := keyEnv[name]; ok {
				p.APIKey = os.Getenv(env)
			}
		}
		c.AI.Providers[name] = p
	}
	for name, env := range keyEnv {
		if _, ok := c.AI.Providers[name]; ok {
			continue
		}
		if key := os.Getenv(env); key != "" {
			c.AI.Providers[name] = ProviderConfig{APIKey: key}
		}
	}

	c.Paths.OutputDir = expandTilde(c.Paths.OutputDir)
	c.Paths.LorebookDir = expandTilde(c.Paths.LorebookDir)
	c.Paths.RecordsDB = expandTilde(c.Paths.RecordsDB)
	for name, text := range c.Prompts {
		if file, ok := strings.CutPrefix(text, "@"); ok {
			c.Prompts[name] = "@" + expandTilde(file)
		}
	}
}

func (c *Config) validate() error {
	validate := validator.New()

	validate.RegisterValidation("modeluri", func(fl validator.FieldLevel) bool {
		_, _, err := agent.ParseModelURI(fl.Field().String())
		return err == nil
	})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if _, ok := c.AI.Models[agent.DefaultRoute]; !ok {
		return fmt.Errorf("config validation failed: ai.models needs a %q route", agent.DefaultRoute)
	}
	return nil
}

// Schemes returns the provider names the model routes refer to.
func (c *Config) Schemes() []string {
	seen := make(map[string]bool)
	for _, uri := range c.AI.Models {
		scheme, _, err := agent.ParseModelURI(uri)
		if err == nil {
			seen[scheme] = true
		}
	}
	schemes := make([]string, 0, len(seen))
	for s := range seen {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// RequireKeys reports the first routed provider that has no API key.
// ollama runs locally and needs none.
func (c *Config) RequireKeys() error {
	for _, scheme := range c.Schemes() {
		if scheme == "ollama" {
			continue
		}
		if c.AI.Providers[scheme].APIKey == "" {
			hint := ""
			if env, ok := keyEnv[scheme]; ok {
				hint = fmt.Sprintf(" (set %s or ai.providers.%s.api_key)", env, scheme)
			}
			return fmt.Errorf("provider %s: %w%s", scheme, core.ErrNoAPIKey, hint)
		}
	}
	return nil
}

// ClientOptions translates limits and sampling settings for agent.Client.
func (c *Config) ClientOptions() []agent.Option {
	return []agent.Option{
		agent.WithRetry(c.Limits.MaxRetries),
		agent.WithTimeout(c.AI.Timeout),
		agent.WithRateLimit(c.Limits.RateLimit.RequestsPerMinute, c.Limits.RateLimit.BurstSize),
		agent.WithMaxPromptSize(c.Limits.MaxPromptSize),
		agent.WithDefaults(agent.GenerateOptions{
			Temperature: c.AI.Temperature,
			MaxTokens:   c.AI.MaxTokens,
			Seed:        c.AI.Seed,
		}),
	}
}

// Save writes cfg as YAML. Provider keys are replaced by their environment
// placeholders so secrets never land on disk.
func Save(cfg *Config, path string) error {
	out := *cfg
	out.AI.Providers = make(map[string]ProviderConfig, len(cfg.AI.Providers))
	for name, p := range cfg.AI.Providers {
		if env, ok := keyEnv[name]; ok {
			p.APIKey = "${" + env + "}"
		} else if p.APIKey != "" {
			p.APIKey = "${" + strings.ToUpper(name) + "_API_KEY}"
		}
		out.AI.Providers[name] = p
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	path = expandTilde(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
