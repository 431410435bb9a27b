package config

import (
	"strings"
	"testing"
)

const minimalYAML = `
limits:
  ip_hash_salt: "test-salt"
`

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Server.RequestTimeoutSeconds != 30 {
		t.Errorf("RequestTimeoutSeconds = %d, want 30", cfg.Server.RequestTimeoutSeconds)
	}
	if cfg.Limits.MaxInputLength != 2000 {
		t.Errorf("MaxInputLength = %d, want 2000", cfg.Limits.MaxInputLength)
	}
	if cfg.Limits.MaxRequestSize != 8192 {
		t.Errorf("MaxRequestSize = %d, want 8192", cfg.Limits.MaxRequestSize)
	}
	if cfg.Limits.PerIPPerMinute != 10 || cfg.Limits.PerIPPerHour != 100 || cfg.Limits.GlobalPerMinute != 1000 {
		t.Errorf("rate limits = %d/%d/%d, want 10/100/1000",
			cfg.Limits.PerIPPerMinute, cfg.Limits.PerIPPerHour, cfg.Limits.GlobalPerMinute)
	}
	if cfg.Conversation.MaxTurns != 10 || cfg.Conversation.TTLSeconds != 1800 || cfg.Conversation.MaxHistoryTokens != 4000 {
		t.Errorf("conversation bounds = %d/%d/%d, want 10/1800/4000",
			cfg.Conversation.MaxTurns, cfg.Conversation.TTLSeconds, cfg.Conversation.MaxHistoryTokens)
	}
	if cfg.Models.Verifier != cfg.Models.Classifier {
		t.Errorf("Verifier = %q, want classifier fallback %q", cfg.Models.Verifier, cfg.Models.Classifier)
	}
	if cfg.MetricsEnabled {
		t.Error("MetricsEnabled should default to false")
	}
}

func TestLoadFromReader_UnknownKeyRejected(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("bogus_key: 1\n"))
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing salt",
			mutate:  func(c *Config) { c.Limits.IPHashSalt = "" },
			wantErr: "ip_hash_salt",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantErr: "log_level",
		},
		{
			name:    "request size below input length",
			mutate:  func(c *Config) { c.Limits.MaxRequestSize = 100 },
			wantErr: "max_request_size",
		},
		{
			name:    "unknown llm provider",
			mutate:  func(c *Config) { c.Providers.LLM.Name = "bedrock" },
			wantErr: "providers.llm.name",
		},
		{
			name:    "grounding without embeddings",
			mutate:  func(c *Config) { c.Safety.GroundingThreshold = 0.4 },
			wantErr: "grounding_threshold requires",
		},
		{
			name: "grounding out of range",
			mutate: func(c *Config) {
				c.Providers.Embeddings = ProviderEntry{Name: "ollama", Model: "nomic-embed-text"}
				c.Safety.GroundingThreshold = 1.5
			},
			wantErr: "out of range",
		},
		{
			name:    "negative rate limit",
			mutate:  func(c *Config) { c.Limits.PerIPPerMinute = -1 },
			wantErr: "per_ip_per_minute",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			ApplyDefaults(cfg)
			cfg.Limits.IPHashSalt = "s"
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
