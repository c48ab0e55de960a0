package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/repliq/internal/toolexec"
)

// ValidBackendNames lists the adapter implementations the default registry
// knows. Used by [Validate] to warn about unrecognised backend names.
var ValidBackendNames = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	names := make(map[string]int, len(cfg.Providers.LLM))
	for i, entry := range cfg.Providers.LLM {
		prefix := fmt.Sprintf("providers.llm[%d]", i)
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := names[entry.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.llm[%d]", prefix, entry.Name, prev))
			}
			names[entry.Name] = i
		}
		if backend := entry.BackendName(); backend != "" && !slices.Contains(ValidBackendNames, backend) {
			slog.Warn("unknown backend name, may be a typo or third-party adapter",
				"entry", entry.Name,
				"backend", backend,
				"known", ValidBackendNames,
			)
		}
	}
	for i, entry := range cfg.Providers.LLM {
		prefix := fmt.Sprintf("providers.llm[%d]", i)
		for _, fb := range entry.Fallbacks {
			if _, ok := names[fb]; !ok {
				errs = append(errs, fmt.Errorf("%s.fallbacks references unknown provider %q", prefix, fb))
			}
			if fb == entry.Name {
				errs = append(errs, fmt.Errorf("%s.fallbacks must not reference the entry itself", prefix))
			}
		}
	}
	if cfg.Providers.Default != "" {
		if _, ok := names[cfg.Providers.Default]; !ok {
			errs = append(errs, fmt.Errorf("providers.default %q does not match any providers.llm entry", cfg.Providers.Default))
		}
	}
	if len(cfg.Providers.LLM) == 0 {
		slog.Warn("no LLM providers configured; every query will fail with provider-not-found")
	}

	// History
	if cfg.History.PreserveRecent < 0 {
		errs = append(errs, fmt.Errorf("history.preserve_recent must not be negative"))
	}
	if cfg.History.Summarize && cfg.History.SummaryProvider != "" {
		if _, ok := names[cfg.History.SummaryProvider]; !ok {
			errs = append(errs, fmt.Errorf("history.summary_provider %q does not match any providers.llm entry", cfg.History.SummaryProvider))
		}
	}

	// Cache
	if cfg.Cache.Backend != "" && !cfg.Cache.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("cache.backend %q is invalid; valid values: memory, postgres", cfg.Cache.Backend))
	}
	if cfg.Cache.Backend == CachePostgres && cfg.Cache.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("cache.postgres_dsn is required when cache.backend is postgres"))
	}
	if cfg.Cache.Backend != "" && cfg.Cache.TTL <= 0 {
		slog.Warn("cache backend configured without a positive ttl; nothing will be cached")
	}

	// Query
	if cfg.Query.ParallelToolLimit < 0 {
		errs = append(errs, fmt.Errorf("query.parallel_tool_limit must not be negative"))
	}

	// MCP servers
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == toolexec.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == toolexec.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}
