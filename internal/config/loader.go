package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// validLLMProviders lists the chat backends the build knows how to construct.
var validLLMProviders = []string{"ollama", "llamacpp", "openai"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with the documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Server.RequestTimeoutSeconds == 0 {
		cfg.Server.RequestTimeoutSeconds = 30
	}
	if cfg.Limits.MaxInputLength == 0 {
		cfg.Limits.MaxInputLength = 2000
	}
	if cfg.Limits.MaxRequestSize == 0 {
		cfg.Limits.MaxRequestSize = 8192
	}
	if cfg.Limits.PerIPPerMinute == 0 {
		cfg.Limits.PerIPPerMinute = 10
	}
	if cfg.Limits.PerIPPerHour == 0 {
		cfg.Limits.PerIPPerHour = 100
	}
	if cfg.Limits.GlobalPerMinute == 0 {
		cfg.Limits.GlobalPerMinute = 1000
	}
	if cfg.Conversation.MaxTurns == 0 {
		cfg.Conversation.MaxTurns = 10
	}
	if cfg.Conversation.TTLSeconds == 0 {
		cfg.Conversation.TTLSeconds = 1800
	}
	if cfg.Conversation.MaxHistoryTokens == 0 {
		cfg.Conversation.MaxHistoryTokens = 4000
	}
	if cfg.Conversation.MaxConversations == 0 {
		cfg.Conversation.MaxConversations = 1000
	}
	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = "ollama"
	}
	if cfg.Models.Classifier == "" {
		cfg.Models.Classifier = "qwen2.5:0.5b"
	}
	if cfg.Models.Router == "" {
		cfg.Models.Router = "qwen2.5:1.5b"
	}
	if cfg.Models.Generator == "" {
		cfg.Models.Generator = "qwen2.5:7b"
	}
	if cfg.Models.Verifier == "" {
		cfg.Models.Verifier = cfg.Models.Classifier
	}
	if cfg.Models.MaxInflight == 0 {
		cfg.Models.MaxInflight = 4
	}
	if cfg.Context.DocsDir == "" {
		cfg.Context.DocsDir = "context"
	}
	if cfg.Context.MaxContextTokens == 0 {
		cfg.Context.MaxContextTokens = 2000
	}
	if cfg.Inbox.Dir == "" {
		cfg.Inbox.Dir = "inbox"
	}
	if cfg.RequestLog.Path == "" {
		cfg.RequestLog.Path = "requests.log"
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	switch cfg.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.RequestTimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("server.request_timeout_seconds must be >= 1, got %d", cfg.Server.RequestTimeoutSeconds))
	}

	if cfg.Limits.IPHashSalt == "" {
		errs = append(errs, errors.New("limits.ip_hash_salt is required; client addresses are only ever stored as salted hashes"))
	}
	if cfg.Limits.MaxInputLength < 1 {
		errs = append(errs, fmt.Errorf("limits.max_input_length must be >= 1, got %d", cfg.Limits.MaxInputLength))
	}
	if cfg.Limits.MaxRequestSize < cfg.Limits.MaxInputLength {
		errs = append(errs, fmt.Errorf("limits.max_request_size (%d) must be >= limits.max_input_length (%d)", cfg.Limits.MaxRequestSize, cfg.Limits.MaxInputLength))
	}
	for _, pair := range []struct {
		name string
		v    int
	}{
		{"limits.per_ip_per_minute", cfg.Limits.PerIPPerMinute},
		{"limits.per_ip_per_hour", cfg.Limits.PerIPPerHour},
		{"limits.global_per_minute", cfg.Limits.GlobalPerMinute},
		{"conversation.max_turns", cfg.Conversation.MaxTurns},
		{"conversation.ttl_seconds", cfg.Conversation.TTLSeconds},
		{"conversation.max_history_tokens", cfg.Conversation.MaxHistoryTokens},
		{"conversation.max_conversations", cfg.Conversation.MaxConversations},
		{"models.max_inflight", cfg.Models.MaxInflight},
	} {
		if pair.v < 1 {
			errs = append(errs, fmt.Errorf("%s must be >= 1, got %d", pair.name, pair.v))
		}
	}

	if !slices.Contains(validLLMProviders, cfg.Providers.LLM.Name) {
		errs = append(errs, fmt.Errorf("providers.llm.name %q is invalid; valid values: %v", cfg.Providers.LLM.Name, validLLMProviders))
	}
	switch cfg.Providers.Embeddings.Name {
	case "", "ollama":
	default:
		errs = append(errs, fmt.Errorf("providers.embeddings.name %q is invalid; valid values: ollama (or empty to disable)", cfg.Providers.Embeddings.Name))
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Providers.Embeddings.Model == "" {
		errs = append(errs, errors.New("providers.embeddings.model is required when an embeddings provider is configured"))
	}
	if cfg.Safety.GroundingThreshold < 0 || cfg.Safety.GroundingThreshold >= 1 {
		errs = append(errs, fmt.Errorf("safety.grounding_threshold %.2f is out of range [0, 1)", cfg.Safety.GroundingThreshold))
	}
	if cfg.Safety.GroundingThreshold > 0 && cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("safety.grounding_threshold requires providers.embeddings to be configured"))
	}
	if cfg.Context.ReloadSeconds < 0 {
		errs = append(errs, fmt.Errorf("context.reload_seconds must be >= 0, got %d", cfg.Context.ReloadSeconds))
	}

	return errors.Join(errs...)
}
