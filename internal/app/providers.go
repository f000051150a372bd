package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxmem/internal/config"
	"github.com/MrWong99/voxmem/internal/observe"
	"github.com/MrWong99/voxmem/internal/resilience"
	"github.com/MrWong99/voxmem/pkg/provider/console"
	"github.com/MrWong99/voxmem/pkg/provider/embeddings"
	"github.com/MrWong99/voxmem/pkg/provider/embeddings/cache"
	ollamaembed "github.com/MrWong99/voxmem/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/voxmem/pkg/provider/embeddings/openai"
	"github.com/MrWong99/voxmem/pkg/provider/llm"
	"github.com/MrWong99/voxmem/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/voxmem/pkg/provider/llm/openai"
	"github.com/MrWong99/voxmem/pkg/provider/stt"
	sttconsole "github.com/MrWong99/voxmem/pkg/provider/stt/console"
	"github.com/MrWong99/voxmem/pkg/provider/tts"
	ttsconsole "github.com/MrWong99/voxmem/pkg/provider/tts/console"
	"github.com/MrWong99/voxmem/pkg/provider/tts/say"
	"github.com/MrWong99/voxmem/pkg/provider/wake"
	wakeconsole "github.com/MrWong99/voxmem/pkg/provider/wake/console"
)

// DefaultWakePhrase is what the console wake detector waits for when no
// "phrase" option is configured.
const DefaultWakePhrase = "hey assistant"

// Providers holds one interface value per provider slot. Populated by
// [BuildProviders] or injected directly in tests.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider
	STT        stt.Transcriber
	TTS        tts.Synthesizer
	Wake       wake.Detector

	// Breakers reports the circuit breakers of the LLM fallback chain. Nil
	// when LLM is a single backend.
	Breakers func() []resilience.Snapshot

	// closers release provider resources such as the embedding cache.
	closers []func()
}

// Close releases provider resources.
func (p *Providers) Close() {
	for _, c := range p.closers {
		c()
	}
	p.closers = nil
}

// Console is the terminal the console providers read from and write to.
type Console struct {
	In  io.Reader
	Out io.Writer
}

// anyllmVendors share one factory: optional APIKey and optional BaseURL.
var anyllmVendors = []string{"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// RegisterBuiltinProviders wires every built-in provider factory into reg.
// The console transcriber and the console wake detector share one line
// reader over term.In so that each typed line is consumed exactly once.
func RegisterBuiltinProviders(reg *config.Registry, term Console) {
	// ── LLM ─────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptionString("organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, vendor := range anyllmVendors {
		reg.RegisterLLM(vendor, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(vendor, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── Embeddings ──────────────────────────────────────────────────────────
	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if n := entry.OptionInt("dimensions"); n > 0 {
			opts = append(opts, oaembed.WithDimensions(n))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if n := entry.OptionInt("dimensions"); n > 0 {
			opts = append(opts, ollamaembed.WithDimensions(n))
		}
		if ka := entry.OptionString("keep_alive"); ka != "" {
			opts = append(opts, ollamaembed.WithKeepAlive(ka))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	// ── Speech ──────────────────────────────────────────────────────────────
	var lines *console.Lines
	sharedLines := func() *console.Lines {
		if lines == nil {
			lines = console.NewLines(term.In)
		}
		return lines
	}

	reg.RegisterSTT("console", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		prompt := entry.OptionString("prompt")
		if prompt == "" {
			prompt = "You: "
		}
		return sttconsole.New(sharedLines(), sttconsole.WithPrompt(func() {
			_, _ = io.WriteString(term.Out, prompt)
		})), nil
	})

	reg.RegisterTTS("console", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []ttsconsole.Option
		if p := entry.OptionString("prefix"); p != "" {
			opts = append(opts, ttsconsole.WithPrefix(p))
		}
		return ttsconsole.New(term.Out, opts...), nil
	})

	reg.RegisterTTS("say", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []say.Option
		if cmd := entry.OptionString("command"); cmd != "" {
			opts = append(opts, say.WithCommand(cmd))
		}
		if v := entry.OptionString("voice"); v != "" {
			opts = append(opts, say.WithVoice(v))
		}
		if wpm := entry.OptionInt("rate"); wpm > 0 {
			opts = append(opts, say.WithRate(wpm))
		}
		return say.New(opts...)
	})

	reg.RegisterWake("console", func(entry config.ProviderEntry) (wake.Detector, error) {
		phrase := entry.OptionString("phrase")
		if phrase == "" {
			phrase = DefaultWakePhrase
		}
		return wakeconsole.New(sharedLines(), phrase), nil
	})

	reg.RegisterWake("always", func(config.ProviderEntry) (wake.Detector, error) {
		return wake.Always{}, nil
	})

	for _, kind := range []string{"llm", "embeddings", "stt", "tts", "wake"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// BuildProviders instantiates every provider named in cfg. LLM backends are
// instrumented individually and chained behind circuit breakers when
// fallbacks are configured; the embeddings provider is instrumented and then
// cached when memory.embedding_cache_size is positive.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	ps := &Providers{}

	gen, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)
	ps.LLM = observe.InstrumentLLM(gen, m, cfg.Providers.LLM.Name)

	if len(cfg.Providers.LLMFallbacks) > 0 {
		chain := resilience.NewLLMFallback(ps.LLM, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
		for i, entry := range cfg.Providers.LLMFallbacks {
			fb, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %d %q: %w", i, entry.Name, err)
			}
			chain.AddFallback(entry.Name, observe.InstrumentLLM(fb, m, entry.Name))
			slog.Info("provider created", "kind", "llm_fallback", "name", entry.Name, "model", entry.Model)
		}
		ps.LLM = chain
		ps.Breakers = chain.Breakers
	}

	emb, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("create embeddings provider %q: %w", cfg.Providers.Embeddings.Name, err)
	}
	slog.Info("provider created", "kind", "embeddings", "name", cfg.Providers.Embeddings.Name, "model", cfg.Providers.Embeddings.Model)
	ps.Embeddings = observe.InstrumentEmbeddings(emb, m, cfg.Providers.Embeddings.Name)
	if n := cfg.Memory.EmbeddingCacheSize; n > 0 {
		c, err := cache.New(ps.Embeddings, cache.WithMaxBytes(n))
		if err != nil {
			return nil, fmt.Errorf("create embedding cache: %w", err)
		}
		ps.Embeddings = c
		ps.closers = append(ps.closers, c.Close)
	}

	if ps.STT, err = createOptional(reg.CreateSTT, "stt", cfg.Providers.STT); err != nil {
		return nil, err
	}
	if ps.TTS, err = createOptional(reg.CreateTTS, "tts", cfg.Providers.TTS); err != nil {
		return nil, err
	}
	if ps.Wake, err = createOptional(reg.CreateWake, "wake", cfg.Providers.Wake); err != nil {
		return nil, err
	}
	return ps, nil
}

// createOptional builds a speech provider. An unregistered name leaves the
// slot empty so that commands without a voice session still start.
func createOptional[T any](create func(config.ProviderEntry) (T, error), kind string, entry config.ProviderEntry) (T, error) {
	var zero T
	if entry.Name == "" {
		return zero, nil
	}
	p, err := create(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not registered, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}
