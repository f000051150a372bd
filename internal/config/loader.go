package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
	"stt":        {"console"},
	"tts":        {"console", "say"},
	"wake":       {"console", "always"},
}

// Load reads the YAML configuration file at path, expands ${VAR} references
// from the environment and returns a validated [Config] with defaults applied.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(strings.NewReader(os.ExpandEnv(string(raw))))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown keys are rejected. An empty document yields the
// defaults.
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

// ApplyDefaults fills unset fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = int(math.Ceil(cfg.Server.RateLimit))
	}

	if cfg.Providers.STT.Name == "" {
		cfg.Providers.STT.Name = "console"
	}
	if cfg.Providers.TTS.Name == "" {
		cfg.Providers.TTS.Name = "console"
	}
	if cfg.Providers.Wake.Name == "" {
		cfg.Providers.Wake.Name = "always"
	}

	m := &cfg.Memory
	if m.Backend == "" {
		m.Backend = DefaultMemoryBackend
	}
	if m.IndexPath == "" {
		m.IndexPath = DefaultIndexPath
	}
	if m.LogPath == "" {
		m.LogPath = DefaultLogPath
	}
	if m.SQLitePath == "" {
		m.SQLitePath = DefaultSQLitePath
	}
	if m.Dimensions == 0 {
		m.Dimensions = DefaultDimensions
	}

	d := &cfg.Dialogue
	if d.TopK == 0 {
		d.TopK = DefaultTopK
	}
	if d.GenerationTimeout == 0 {
		d.GenerationTimeout = DefaultGenerationTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit %g must not be negative", cfg.Server.RateLimit))
	}
	if cfg.Server.RateBurst < 0 {
		errs = append(errs, fmt.Errorf("server.rate_burst %d must not be negative", cfg.Server.RateBurst))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("providers.embeddings.name is required"))
	}
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("wake", cfg.Providers.Wake.Name)

	// Memory
	m := cfg.Memory
	if m.Backend != "" && !m.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("memory.backend %q is invalid; valid values: file, postgres, sqlite", m.Backend))
	}
	if m.Backend == MemoryPostgres && m.PostgresDSN == "" {
		errs = append(errs, errors.New("memory.postgres_dsn is required when memory.backend is postgres"))
	}
	if m.Backend == MemoryFile && m.IndexPath != "" && m.IndexPath == m.LogPath {
		errs = append(errs, fmt.Errorf("memory.index_path and memory.log_path must differ, both are %q", m.IndexPath))
	}
	if m.Backend != MemoryFile && m.Backend != "" && m.DeferredPersistence {
		slog.Warn("memory.deferred_persistence only applies to the file backend", "backend", m.Backend)
	}
	if m.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("memory.dimensions %d must be positive", m.Dimensions))
	}
	if m.FlushInterval < 0 {
		errs = append(errs, fmt.Errorf("memory.flush_interval %s must not be negative", m.FlushInterval))
	}
	if m.EmbeddingCacheSize < 0 {
		errs = append(errs, fmt.Errorf("memory.embedding_cache_size %d must not be negative", m.EmbeddingCacheSize))
	}

	// Dialogue
	d := cfg.Dialogue
	if d.TopK < 0 {
		errs = append(errs, fmt.Errorf("dialogue.top_k %d must be positive", d.TopK))
	}
	if d.GenerationTimeout < 0 {
		errs = append(errs, fmt.Errorf("dialogue.generation_timeout %s must not be negative", d.GenerationTimeout))
	}
	if d.Temperature < 0 || d.Temperature > 2 {
		errs = append(errs, fmt.Errorf("dialogue.temperature %.2f is out of range [0, 2]", d.Temperature))
	}
	if d.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("dialogue.max_tokens %d must not be negative", d.MaxTokens))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
