package config

import (
	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
)

// ChangedSections lists the top-level sections that differ between two configs.
// Only section names are returned so secrets (token, dsn) never reach the logs.
func ChangedSections(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	pairs := []struct {
		name     string
		old, new any
	}{
		{"telegram", oldCfg.Telegram, newCfg.Telegram},
		{"logging", oldCfg.Logging, newCfg.Logging},
		{"storage", oldCfg.Storage, newCfg.Storage},
		{"watch", oldCfg.Watch, newCfg.Watch},
		{"directory", oldCfg.Directory, newCfg.Directory},
		{"metrics", oldCfg.Metrics, newCfg.Metrics},
	}
	var out []string
	for _, p := range pairs {
		if sectionHash(p.old) != sectionHash(p.new) {
			out = append(out, p.name)
		}
	}
	return out
}

func sectionHash(v any) uint64 {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(b)
}
