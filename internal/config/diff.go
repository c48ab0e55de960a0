package config

import "maps"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	CacheTTLChanged bool
	NewCacheTTL     Duration

	HistoryChanged bool

	CustomInstructionsChanged bool

	ProviderChanges []ProviderDiff
}

// ProviderDiff describes what changed for a single provider entry between two
// configs.
type ProviderDiff struct {
	Name     string
	Added    bool
	Removed  bool
	Modified bool
}

// HasChanges reports whether any hot-reloadable field changed.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.CacheTTLChanged || d.HistoryChanged ||
		d.CustomInstructionsChanged || len(d.ProviderChanges) > 0
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Cache.TTL != new.Cache.TTL {
		d.CacheTTLChanged = true
		d.NewCacheTTL = new.Cache.TTL
	}
	if old.History != new.History {
		d.HistoryChanged = true
	}
	if old.Query.CustomInstructions != new.Query.CustomInstructions {
		d.CustomInstructionsChanged = true
	}

	oldEntries := make(map[string]*ProviderEntry, len(old.Providers.LLM))
	for i := range old.Providers.LLM {
		oldEntries[old.Providers.LLM[i].Name] = &old.Providers.LLM[i]
	}
	newEntries := make(map[string]*ProviderEntry, len(new.Providers.LLM))
	for i := range new.Providers.LLM {
		newEntries[new.Providers.LLM[i].Name] = &new.Providers.LLM[i]
	}

	for name, oldEntry := range oldEntries {
		newEntry, exists := newEntries[name]
		if !exists {
			d.ProviderChanges = append(d.ProviderChanges, ProviderDiff{Name: name, Removed: true})
			continue
		}
		if !entriesEqual(oldEntry, newEntry) {
			d.ProviderChanges = append(d.ProviderChanges, ProviderDiff{Name: name, Modified: true})
		}
	}
	for name := range newEntries {
		if _, exists := oldEntries[name]; !exists {
			d.ProviderChanges = append(d.ProviderChanges, ProviderDiff{Name: name, Added: true})
		}
	}

	return d
}

// entriesEqual compares two provider entries field by field. Options and
// Fallbacks need structural comparison, so == on the struct does not apply.
func entriesEqual(a, b *ProviderEntry) bool {
	if a.Name != b.Name || a.Backend != b.Backend || a.APIKey != b.APIKey ||
		a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if a.Fallbacks[i] != b.Fallbacks[i] {
			return false
		}
	}
	return maps.EqualFunc(a.Options, b.Options, func(x, y any) bool { return x == y })
}
