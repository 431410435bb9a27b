// Package config provides the configuration schema, loader, and validation
// for the kelloggchat gateway.
package config

// Config is the root configuration structure, typically loaded from a YAML
// file using [Load] or [LoadFromReader].
type Config struct {
	Server         ServerConfig       `yaml:"server"`
	Limits         LimitsConfig       `yaml:"limits"`
	Conversation   ConversationConfig `yaml:"conversation"`
	Providers      ProvidersConfig    `yaml:"providers"`
	Models         ModelsConfig       `yaml:"models"`
	Context        ContextConfig      `yaml:"context"`
	Safety         SafetyConfig       `yaml:"safety"`
	Inbox          InboxConfig        `yaml:"inbox"`
	RequestLog     RequestLogConfig   `yaml:"reqlog"`
	MetricsEnabled bool               `yaml:"metrics_enabled"`
}

// ServerConfig holds network, logging, and timeout settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`

	// RequestTimeoutSeconds is the whole-request deadline for one chat request.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`

	// TrustedProxies lists IPs or CIDRs whose forwarded headers are honoured
	// when resolving the client address. Requests from any other peer have
	// forwarded headers ignored.
	TrustedProxies []string `yaml:"trusted_proxies"`

	// AdminToken is the bearer token guarding /admin routes. Empty disables
	// the admin surface entirely.
	AdminToken string `yaml:"admin_token"`
}

// LimitsConfig holds input-size and rate-limit settings.
type LimitsConfig struct {
	// MaxInputLength is the maximum message length in characters after decoding.
	MaxInputLength int `yaml:"max_input_length"`

	// MaxRequestSize is the maximum request body size in bytes.
	MaxRequestSize int `yaml:"max_request_size"`

	// PerIPPerMinute caps admitted requests per client hash per minute.
	PerIPPerMinute int `yaml:"per_ip_per_minute"`

	// PerIPPerHour caps admitted requests per client hash per hour.
	PerIPPerHour int `yaml:"per_ip_per_hour"`

	// GlobalPerMinute caps admitted requests across all clients per minute.
	GlobalPerMinute int `yaml:"global_per_minute"`

	// IPHashSalt is mixed into the client-address hash. Raw addresses are
	// never stored or logged; only the salted hash identifies a source.
	IPHashSalt string `yaml:"ip_hash_salt"`
}

// ConversationConfig bounds the in-memory conversation store.
type ConversationConfig struct {
	// MaxTurns is the maximum number of user turns kept per conversation.
	MaxTurns int `yaml:"max_turns"`

	// TTLSeconds is the idle lifetime of a conversation.
	TTLSeconds int `yaml:"ttl_seconds"`

	// MaxHistoryTokens bounds the history sent to the models.
	MaxHistoryTokens int `yaml:"max_history_tokens"`

	// MaxConversations is the global capacity; least-recently-active
	// conversations are evicted beyond it.
	MaxConversations int `yaml:"max_conversations"`
}

// ProvidersConfig selects the model backends.
type ProvidersConfig struct {
	LLM        ProviderEntry `yaml:"llm"`
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by provider kinds.
type ProviderEntry struct {
	// Name selects the implementation. LLM: "ollama", "llamacpp", or
	// "openai". Embeddings: "ollama" or empty to disable.
	Name string `yaml:"name"`

	// BaseURL overrides the runtime's default endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKey is the authentication key, if the endpoint wants one.
	APIKey string `yaml:"api_key"`

	// Model selects a model within the provider. Only meaningful for
	// embeddings; chat model names come from [ModelsConfig] per tier.
	Model string `yaml:"model"`
}

// ModelsConfig names the model used by each pipeline tier.
type ModelsConfig struct {
	// Classifier is the small model used by the jailbreak and output-safety
	// stages.
	Classifier string `yaml:"classifier"`

	// Router is the small model used by the combined intent/domain stage.
	Router string `yaml:"router"`

	// Generator is the large model used for response generation and revision.
	Generator string `yaml:"generator"`

	// Verifier optionally overrides Classifier for the output-safety stage.
	Verifier string `yaml:"verifier"`

	// Embedding names the embedding model (informational; the embeddings
	// provider binds its own model).
	Embedding string `yaml:"embedding"`

	// MaxInflight bounds concurrent model calls to protect the local runtime.
	MaxInflight int `yaml:"max_inflight"`
}

// ContextConfig locates and bounds the static context documents.
type ContextConfig struct {
	// DocsDir is the directory holding one markdown file per domain.
	DocsDir string `yaml:"docs_dir"`

	// MaxContextTokens bounds the assembled context per request.
	MaxContextTokens int `yaml:"max_context_tokens"`

	// ReloadSeconds is the polling interval for hot reload. Zero disables
	// reloading; the registry is then fixed at process start.
	ReloadSeconds int `yaml:"reload_seconds"`
}

// SafetyConfig tunes the output-safety stage.
type SafetyConfig struct {
	// GroundingThreshold is the minimum cosine similarity between a response
	// and its retrieved context. Responses below it are treated as unsafe.
	// Zero disables the embedding-based check.
	GroundingThreshold float64 `yaml:"grounding_threshold"`
}

// InboxConfig locates the contact-message store.
type InboxConfig struct {
	// Dir is the directory contact messages are written to, one file per
	// message, owner-readable only.
	Dir string `yaml:"dir"`
}

// RequestLogConfig locates the append-only request log.
type RequestLogConfig struct {
	// Path is the request-log file. Records are JSON lines.
	Path string `yaml:"path"`
}
