package config

import "slices"

// ConfigDiff describes what changed between two configs, split by when a
// change can take effect.
type ConfigDiff struct {
	// Applied before the next batch.
	LogLevelChanged bool
	NewLogLevel     LogLevel
	ExecutorChanged bool
	CallerChanged   bool
	AnalyzerChanged bool

	// RestartRequired lists the sections whose changes need a restart
	// because clients were built from them at startup.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ExecutorChanged && !d.CallerChanged &&
		!d.AnalyzerChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.ExecutorChanged = old.Executor != new.Executor
	d.CallerChanged = old.Caller != new.Caller
	d.AnalyzerChanged = old.Analyzer != new.Analyzer

	if old.Server.MetricsAddr != new.Server.MetricsAddr {
		d.RestartRequired = append(d.RestartRequired, "server.metrics_addr")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if len(old.Platforms) != len(new.Platforms) {
		d.RestartRequired = append(d.RestartRequired, "platforms")
	} else {
		for id, p := range old.Platforms {
			if np, ok := new.Platforms[id]; !ok || np != p {
				d.RestartRequired = append(d.RestartRequired, "platforms")
				break
			}
		}
	}
	if old.Telephony != new.Telephony {
		d.RestartRequired = append(d.RestartRequired, "telephony")
	}
	return d
}

func sameProviders(a, b ProvidersConfig) bool {
	return sameEntry(a.LLM, b.LLM) && sameEntry(a.TTS, b.TTS) && sameEntry(a.STT, b.STT) &&
		slices.EqualFunc(a.LLMFallbacks, b.LLMFallbacks, sameEntry) &&
		slices.EqualFunc(a.STTFallbacks, b.STTFallbacks, sameEntry) &&
		slices.EqualFunc(a.TTSFallbacks, b.TTSFallbacks, sameEntry)
}

// sameEntry compares the scalar fields of two entries. Options maps are
// compared by key count only.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && len(a.Options) == len(b.Options)
}
