// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads, validates, and watches promptroute configuration.
//
// Configuration is TOML first with a JSON fallback, layered as
// defaults <- config file <- environment. A .env file in the working
// directory is honored for the API key so it never has to live in the
// config file itself.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/jeranaias/promptroute/internal/catalog"
	"github.com/jeranaias/promptroute/internal/router"
	"github.com/jeranaias/promptroute/internal/util"
)

// =============================================================================
// CONFIGURATION TYPES
// =============================================================================

// Config is the root configuration.
type Config struct {
	// DefaultModel is the catalog id used when no policy entry applies.
	DefaultModel string `toml:"default_model" json:"default_model"`

	// OptimizationTarget is balanced, cost, speed, or quality. Recorded on
	// routing decisions; selection always follows the routing tables.
	OptimizationTarget string `toml:"optimization_target" json:"optimization_target"`

	// Models is the ordered model catalog ([[models]] array of tables).
	Models []ModelConfig `toml:"models" json:"models"`

	// PromptTypes is the ordered classification rule list. First rule with
	// a matching pattern wins.
	PromptTypes []PromptTypeRule `toml:"prompt_types" json:"prompt_types"`

	// Routing holds the per-type, per-length-bucket model tables.
	Routing RoutingConfig `toml:"routing" json:"routing"`

	// Gateway configures the completions client.
	Gateway GatewayConfig `toml:"gateway" json:"gateway"`

	// Ledger configures the persistent cost ledger.
	Ledger LedgerConfig `toml:"ledger" json:"ledger"`

	// CallLog configures the SQLite model call log.
	CallLog CallLogConfig `toml:"call_log" json:"call_log"`
}

// ModelConfig describes one catalog model.
type ModelConfig struct {
	ID              string   `toml:"id" json:"id"`
	Name            string   `toml:"name" json:"name"`
	Description     string   `toml:"description" json:"description"`
	Strengths       []string `toml:"strengths" json:"strengths"`
	CostPer1KTokens float64  `toml:"cost_per_1k_tokens" json:"cost_per_1k_tokens"`
	MaxTokens       int      `toml:"max_tokens" json:"max_tokens"`
	ContextLength   int      `toml:"context_length" json:"context_length"`
	Temperature     float64  `toml:"temperature" json:"temperature"`
}

// PromptTypeRule is one ordered classification rule.
type PromptTypeRule struct {
	Type           string   `toml:"type" json:"type"`
	Patterns       []string `toml:"patterns" json:"patterns"`
	PreferredModel string   `toml:"preferred_model" json:"preferred_model"`
}

// BucketModels maps the three length buckets to model ids.
type BucketModels struct {
	Short  string `toml:"short" json:"short"`
	Medium string `toml:"medium" json:"medium"`
	Long   string `toml:"long" json:"long"`
}

// RoutingConfig holds the policy tables, one per prompt type.
type RoutingConfig struct {
	CodeModels     BucketModels `toml:"code_models" json:"code_models"`
	CreativeModels BucketModels `toml:"creative_models" json:"creative_models"`
	AnalysisModels BucketModels `toml:"analysis_models" json:"analysis_models"`
	QuestionModels BucketModels `toml:"question_models" json:"question_models"`
}

// GatewayConfig configures the completions client.
type GatewayConfig struct {
	BaseURL           string `toml:"base_url" json:"base_url"`
	APIKey            string `toml:"api_key" json:"api_key"`
	TimeoutSecs       int    `toml:"timeout_secs" json:"timeout_secs"`
	MaxRetries        int    `toml:"max_retries" json:"max_retries"`
	RequestsPerMinute int    `toml:"requests_per_minute" json:"requests_per_minute"`
}

// LedgerConfig configures the persistent cost ledger.
type LedgerConfig struct {
	// Path to the JSONL ledger. Empty means ~/.promptroute/costs.jsonl.
	Path string `toml:"path" json:"path"`
}

// CallLogConfig configures the SQLite call log.
type CallLogConfig struct {
	// Path to the SQLite database. Empty means ~/.promptroute/calls.db.
	Path string `toml:"path" json:"path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration: a five-model catalog, the
// standard classification rules, and routing tables that send heavy work to
// capable models and quick questions to cheap ones.
func Default() *Config {
	return &Config{
		DefaultModel:       "anthropic/claude-3-haiku",
		OptimizationTarget: "balanced",
		Models: []ModelConfig{
			{
				ID:              "openai/gpt-4o",
				Name:            "GPT-4o",
				Description:     "Strong general model, excellent at code",
				Strengths:       []string{"coding", "reasoning"},
				CostPer1KTokens: 0.005,
				MaxTokens:       4096,
				ContextLength:   128000,
				Temperature:     0.7,
			},
			{
				ID:              "anthropic/claude-3-opus",
				Name:            "Claude 3 Opus",
				Description:     "Highest quality, long-form work",
				Strengths:       []string{"analysis", "long_context", "writing"},
				CostPer1KTokens: 0.015,
				MaxTokens:       4096,
				ContextLength:   200000,
				Temperature:     0.7,
			},
			{
				ID:              "anthropic/claude-3-sonnet",
				Name:            "Claude 3 Sonnet",
				Description:     "Balanced quality and cost",
				Strengths:       []string{"writing", "analysis"},
				CostPer1KTokens: 0.003,
				MaxTokens:       4096,
				ContextLength:   200000,
				Temperature:     0.7,
			},
			{
				ID:              "anthropic/claude-3-haiku",
				Name:            "Claude 3 Haiku",
				Description:     "Fast and cheap, good for quick answers",
				Strengths:       []string{"speed", "qa"},
				CostPer1KTokens: 0.00025,
				MaxTokens:       4096,
				ContextLength:   200000,
				Temperature:     0.7,
			},
			{
				ID:              "mistralai/mistral-7b-instruct",
				Name:            "Mistral 7B Instruct",
				Description:     "Cheapest option for simple tasks",
				Strengths:       []string{"speed"},
				CostPer1KTokens: 0.0002,
				MaxTokens:       4096,
				ContextLength:   32000,
				Temperature:     0.7,
			},
		},
		PromptTypes: []PromptTypeRule{
			{
				Type: "coding",
				Patterns: []string{
					"```",
					`\bdef\s+\w+\s*\(`,
					`\bfunction\s+\w+\s*\(`,
					`\bclass\s+\w+`,
					`\bimport\s+\w+`,
					`#include\b`,
					`\bselect\s+.+\s+from\b`,
					`\b(write|debug|refactor|fix|implement)\b.*\b(code|function|script|program|bug|class|method)\b`,
					`\b(stack trace|traceback|segfault|compile error)\b`,
				},
				PreferredModel: "openai/gpt-4o",
			},
			{
				Type: "creative",
				Patterns: []string{
					`\b(write|compose|draft)\b.*\b(story|poem|song|essay|novel|lyrics|screenplay)\b`,
					`\bbrainstorm\b`,
					`\bimagine\b`,
					`\bfiction\b`,
				},
				PreferredModel: "anthropic/claude-3-sonnet",
			},
			{
				Type: "analysis",
				Patterns: []string{
					`\b(summarize|summarise|summary|tl;?dr|key points|overview)\b`,
					`\banaly(ze|se|sis)\b`,
					`\bcompare\b.*\bcontrast\b`,
					`\bevaluate\b`,
					`\bpros and cons\b`,
				},
				PreferredModel: "anthropic/claude-3-sonnet",
			},
			{
				Type: "quick_questions",
				Patterns: []string{
					`\?\s*$`,
					`^(what|how|why|when|where|who|which|can|do|does|is|are|could|should)\b`,
					`\b(explain|describe|tell me)\b`,
				},
				PreferredModel: "anthropic/claude-3-haiku",
			},
		},
		Routing: RoutingConfig{
			CodeModels: BucketModels{
				Short:  "openai/gpt-4o",
				Medium: "openai/gpt-4o",
				Long:   "anthropic/claude-3-opus",
			},
			CreativeModels: BucketModels{
				Short:  "anthropic/claude-3-sonnet",
				Medium: "anthropic/claude-3-sonnet",
				Long:   "anthropic/claude-3-opus",
			},
			AnalysisModels: BucketModels{
				Short:  "anthropic/claude-3-haiku",
				Medium: "anthropic/claude-3-sonnet",
				Long:   "anthropic/claude-3-sonnet",
			},
			QuestionModels: BucketModels{
				Short:  "anthropic/claude-3-haiku",
				Medium: "anthropic/claude-3-haiku",
				Long:   "anthropic/claude-3-sonnet",
			},
		},
		Gateway: GatewayConfig{
			BaseURL:           "https://openrouter.ai/api/v1",
			TimeoutSecs:       60,
			MaxRetries:        3,
			RequestsPerMinute: 60,
		},
	}
}

// ConfigDir returns ~/.promptroute.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".promptroute"), nil
}

// ConfigPathTOML returns the default TOML config path.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the default JSON config path.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration from the default locations: TOML first, then
// JSON, then built-in defaults. A .env file in the working directory is
// loaded before environment overrides are applied.
func Load() (*Config, error) {
	// Missing .env is the normal case, not an error.
	_ = godotenv.Load()

	if tomlPath, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			return LoadFromPath(tomlPath)
		}
	}
	if jsonPath, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			return LoadFromPath(jsonPath)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file, applying defaults,
// env overrides, and validation. The extension picks the decoder: .toml uses
// TOML, anything else is tried as JSON.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode TOML config: %w", err)
		}
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode JSON config: %w", err)
		}
	}

	fillDefaults(cfg)
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// fillDefaults backfills anything the config file left out. A file with no
// models at all inherits the whole built-in catalog, rules, and routing
// tables together, so defaults never reference models the file dropped.
func fillDefaults(cfg *Config) {
	def := Default()

	if len(cfg.Models) == 0 {
		cfg.Models = def.Models
		if len(cfg.PromptTypes) == 0 {
			cfg.PromptTypes = def.PromptTypes
		}
		if cfg.Routing == (RoutingConfig{}) {
			cfg.Routing = def.Routing
		}
		if cfg.DefaultModel == "" {
			cfg.DefaultModel = def.DefaultModel
		}
	}
	if cfg.OptimizationTarget == "" {
		cfg.OptimizationTarget = def.OptimizationTarget
	}
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = def.Gateway.BaseURL
	}
	if cfg.Gateway.TimeoutSecs == 0 {
		cfg.Gateway.TimeoutSecs = def.Gateway.TimeoutSecs
	}
	if cfg.Gateway.MaxRetries == 0 {
		cfg.Gateway.MaxRetries = def.Gateway.MaxRetries
	}
	if cfg.Gateway.RequestsPerMinute == 0 {
		cfg.Gateway.RequestsPerMinute = def.Gateway.RequestsPerMinute
	}
}

// SaveTOML writes the configuration as TOML using an atomic write.
func SaveTOML(cfg *Config, path string) error {
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(buf.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ApplyEnvOverrides layers PROMPTROUTE_* environment variables over the
// loaded values. OPENROUTER_API_KEY is honored as a fallback for the key.
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("PROMPTROUTE_API_KEY"); key != "" {
		c.Gateway.APIKey = key
	} else if key := os.Getenv("OPENROUTER_API_KEY"); key != "" && c.Gateway.APIKey == "" {
		c.Gateway.APIKey = key
	}
	if model := os.Getenv("PROMPTROUTE_MODEL"); model != "" {
		c.DefaultModel = model
	}
	if target := os.Getenv("PROMPTROUTE_TARGET"); target != "" {
		c.OptimizationTarget = target
	}
	if url := os.Getenv("PROMPTROUTE_BASE_URL"); url != "" {
		c.Gateway.BaseURL = url
	}
	if ledger := os.Getenv("PROMPTROUTE_LEDGER"); ledger != "" {
		c.Ledger.Path = ledger
	}
	if rpm := os.Getenv("PROMPTROUTE_RPM"); rpm != "" {
		if n, err := strconv.Atoi(rpm); err == nil && n > 0 {
			c.Gateway.RequestsPerMinute = n
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration. Invalid configuration is fatal at
// startup: a router built from it would misroute or misprice requests.
func (c *Config) Validate() error {
	var errs ValidateErrors

	known := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		field := fmt.Sprintf("models[%d]", i)
		if m.ID == "" {
			errs = append(errs, ValidationError{Field: field + ".id", Message: "must not be empty"})
			continue
		}
		if known[m.ID] {
			errs = append(errs, ValidationError{Field: field + ".id", Message: fmt.Sprintf("duplicate model id %q", m.ID)})
		}
		known[m.ID] = true
		if m.CostPer1KTokens < 0 {
			errs = append(errs, ValidationError{Field: field + ".cost_per_1k_tokens", Message: "must be non-negative"})
		}
		if m.MaxTokens <= 0 {
			errs = append(errs, ValidationError{Field: field + ".max_tokens", Message: "must be positive"})
		}
		if m.ContextLength <= 0 {
			errs = append(errs, ValidationError{Field: field + ".context_length", Message: "must be positive"})
		}
		if m.Temperature < 0 || m.Temperature > 2 {
			errs = append(errs, ValidationError{Field: field + ".temperature", Message: "must be in [0, 2]"})
		}
	}
	if len(c.Models) == 0 {
		errs = append(errs, ValidationError{Field: "models", Message: "at least one model required"})
	}

	if c.DefaultModel == "" {
		errs = append(errs, ValidationError{Field: "default_model", Message: "must not be empty"})
	} else if len(known) > 0 && !known[c.DefaultModel] {
		errs = append(errs, ValidationError{Field: "default_model", Message: fmt.Sprintf("unknown model %q", c.DefaultModel)})
	}

	if _, ok := router.ParseTarget(c.OptimizationTarget); !ok {
		errs = append(errs, ValidationError{Field: "optimization_target", Message: fmt.Sprintf("unknown target %q", c.OptimizationTarget)})
	}

	for i, rule := range c.PromptTypes {
		field := fmt.Sprintf("prompt_types[%d]", i)
		if _, ok := router.ParsePromptType(rule.Type); !ok {
			errs = append(errs, ValidationError{Field: field + ".type", Message: fmt.Sprintf("unknown prompt type %q", rule.Type)})
		}
		if len(rule.Patterns) == 0 {
			errs = append(errs, ValidationError{Field: field + ".patterns", Message: "must not be empty"})
		}
		if rule.PreferredModel != "" && len(known) > 0 && !known[rule.PreferredModel] {
			errs = append(errs, ValidationError{Field: field + ".preferred_model", Message: fmt.Sprintf("unknown model %q", rule.PreferredModel)})
		}
	}

	checkTable := func(name string, bm BucketModels) {
		for bucket, id := range map[string]string{"short": bm.Short, "medium": bm.Medium, "long": bm.Long} {
			if id != "" && len(known) > 0 && !known[id] {
				errs = append(errs, ValidationError{Field: "routing." + name + "." + bucket, Message: fmt.Sprintf("unknown model %q", id)})
			}
		}
	}
	checkTable("code_models", c.Routing.CodeModels)
	checkTable("creative_models", c.Routing.CreativeModels)
	checkTable("analysis_models", c.Routing.AnalysisModels)
	checkTable("question_models", c.Routing.QuestionModels)

	if c.Gateway.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "gateway.timeout_secs", Message: "must be non-negative"})
	}
	if c.Gateway.MaxRetries < 0 {
		errs = append(errs, ValidationError{Field: "gateway.max_retries", Message: "must be non-negative"})
	}
	if c.Gateway.RequestsPerMinute < 0 {
		errs = append(errs, ValidationError{Field: "gateway.requests_per_minute", Message: "must be non-negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ASSEMBLY
// =============================================================================

// BuildCatalog converts the configured models into a catalog, preserving
// declaration order.
func (c *Config) BuildCatalog() (*catalog.Catalog, error) {
	specs := make([]catalog.ModelSpec, 0, len(c.Models))
	for _, m := range c.Models {
		specs = append(specs, catalog.ModelSpec{
			ID:            m.ID,
			Name:          m.Name,
			Description:   m.Description,
			Strengths:     m.Strengths,
			CostPer1K:     decimal.NewFromFloat(m.CostPer1KTokens),
			MaxTokens:     m.MaxTokens,
			ContextLength: m.ContextLength,
			Temperature:   m.Temperature,
		})
	}
	return catalog.New(specs)
}

// BuildRouter compiles the classification rules and policy tables into a
// router over cat.
func (c *Config) BuildRouter(cat *catalog.Catalog) (*router.Router, error) {
	specs := make([]router.RuleSpec, 0, len(c.PromptTypes))
	for _, rule := range c.PromptTypes {
		specs = append(specs, router.RuleSpec{
			Type:           rule.Type,
			Patterns:       rule.Patterns,
			PreferredModel: rule.PreferredModel,
		})
	}
	rules, err := router.CompileRules(specs)
	if err != nil {
		return nil, fmt.Errorf("failed to compile classification rules: %w", err)
	}

	target, _ := router.ParseTarget(c.OptimizationTarget)

	return router.New(cat, router.Options{
		Rules:        rules,
		Policy:       c.policyTable(),
		DefaultModel: c.DefaultModel,
		Target:       target,
	})
}

func (c *Config) policyTable() router.PolicyTable {
	bucketMap := func(bm BucketModels) map[router.LengthBucket]string {
		return map[router.LengthBucket]string{
			router.BucketShort:  bm.Short,
			router.BucketMedium: bm.Medium,
			router.BucketLong:   bm.Long,
		}
	}
	return router.PolicyTable{
		router.PromptCoding:        bucketMap(c.Routing.CodeModels),
		router.PromptCreative:      bucketMap(c.Routing.CreativeModels),
		router.PromptAnalysis:      bucketMap(c.Routing.AnalysisModels),
		router.PromptQuickQuestion: bucketMap(c.Routing.QuestionModels),
	}
}
