package config

import "testing"

func baseConfig() *Config {
	return &Config{
		Server: ServerConfig{LogLevel: LogInfo},
		Providers: ProvidersConfig{
			Default: "main",
			LLM: []ProviderEntry{
				{Name: "main", Backend: "openai", Model: "gpt-4o"},
				{Name: "local", Backend: "ollama", Model: "llama3"},
			},
		},
		History: HistoryConfig{MaxTokens: 6000, PreserveRecent: 4},
		Cache:   CacheConfig{Backend: CacheMemory, TTL: Duration(900e9)},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	old := baseConfig()
	new := baseConfig()

	d := Diff(old, new)
	if d.HasChanges() {
		t.Errorf("identical configs reported changes: %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	new.Server.LogLevel = LogDebug

	d := Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("LogLevelChanged = false")
	}
	if d.NewLogLevel != LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
}

func TestDiff_CacheTTL(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	new.Cache.TTL = Duration(60e9)

	d := Diff(old, new)
	if !d.CacheTTLChanged {
		t.Error("CacheTTLChanged = false")
	}
	if d.NewCacheTTL != Duration(60e9) {
		t.Errorf("NewCacheTTL = %v", d.NewCacheTTL)
	}
}

func TestDiff_History(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	new.History.MaxTokens = 2000

	if d := Diff(old, new); !d.HistoryChanged {
		t.Error("HistoryChanged = false")
	}
}

func TestDiff_ProviderChanges(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	// Remove "local", modify "main", add "backup".
	new.Providers.LLM = []ProviderEntry{
		{Name: "main", Backend: "openai", Model: "gpt-4.1"},
		{Name: "backup", Backend: "anthropic", Model: "claude-sonnet-4-0"},
	}

	d := Diff(old, new)
	byName := make(map[string]ProviderDiff, len(d.ProviderChanges))
	for _, pc := range d.ProviderChanges {
		byName[pc.Name] = pc
	}

	if !byName["local"].Removed {
		t.Error("local was not reported as removed")
	}
	if !byName["main"].Modified {
		t.Error("main was not reported as modified")
	}
	if !byName["backup"].Added {
		t.Error("backup was not reported as added")
	}
}

func TestDiff_FallbackOrderMatters(t *testing.T) {
	old := baseConfig()
	old.Providers.LLM[0].Fallbacks = []string{"local"}
	new := baseConfig()
	new.Providers.LLM[0].Fallbacks = []string{}

	d := Diff(old, new)
	if len(d.ProviderChanges) != 1 || !d.ProviderChanges[0].Modified {
		t.Errorf("fallback change not detected: %+v", d.ProviderChanges)
	}
}
