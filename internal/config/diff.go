package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; structural
// changes (listen address, rule source, pool sizing) require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DisambiguationChanged is set when any caller-facing disambiguation
	// default (primary domain, Australian preference, threshold,
	// alternatives cap) changed.
	DisambiguationChanged bool
	NewDisambiguation     DisambiguationConfig

	// KnowledgeFilesChanged is set when the term-file overlay list changed;
	// the knowledge base should be rebuilt from scratch.
	KnowledgeFilesChanged bool

	// StaticRuleFilesChanged is set when the static rule-file list changed;
	// the rule store's extra static rules should be reloaded.
	StaticRuleFilesChanged bool

	// RestartRequired is set when a non-hot-reloadable field changed.
	RestartRequired bool
}

// Empty reports whether the diff contains no changes at all.
func (d ConfigDiff) Empty() bool {
	return d == ConfigDiff{}
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Disambiguation != new.Disambiguation {
		d.DisambiguationChanged = true
		d.NewDisambiguation = new.Disambiguation
	}

	if !slices.Equal(old.Knowledge.TermFiles, new.Knowledge.TermFiles) ||
		old.Knowledge.DisableBuiltin != new.Knowledge.DisableBuiltin {
		d.KnowledgeFilesChanged = true
	}

	if !slices.Equal(old.Rules.StaticFiles, new.Rules.StaticFiles) {
		d.StaticRuleFilesChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) ||
		old.PatternPool != new.PatternPool ||
		old.Rules.Source != new.Rules.Source ||
		old.Rules.URL != new.Rules.URL ||
		old.Rules.PostgresDSN != new.Rules.PostgresDSN ||
		old.Rules.DynamicTTL != new.Rules.DynamicTTL ||
		old.Rules.FetchTimeout != new.Rules.FetchTimeout ||
		old.Rules.WaitTimeout != new.Rules.WaitTimeout ||
		old.Perf != new.Perf {
		d.RestartRequired = true
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
