package installs

import (
	"github.com/metatypedev/ghjk/internal/ir"
	"github.com/metatypedev/ghjk/internal/lockfile"
	"github.com/metatypedev/ghjk/internal/ports"
)

// LockKeys returns the lockfile keys that resolving every install of sets
// would look up: the config hash of each install and, recursively, of the
// dependency configs the resolver would pick for it. Ports missing from the
// registry contribute only their own hash.
func LockKeys(registry *ports.Registry, sets []ir.InstallSet) (map[string]bool, error) {
	keys := make(map[string]bool)
	for _, set := range sets {
		seen := make(map[string]bool)
		var walk func(cfg ir.InstallConfig) error
		walk = func(cfg ir.InstallConfig) error {
			hash, err := ir.InstallConfigHash(cfg)
			if err != nil {
				return err
			}
			keys[hash] = true
			if seen[hash] {
				return nil
			}
			seen[hash] = true

			entry, err := registry.Get(cfg.Port)
			if err != nil {
				return nil
			}
			deps := []struct {
				names     []string
				overrides map[string]ir.InstallConfig
				kind      string
			}{
				{entry.Manifest.ResolutionDeps, cfg.ResolutionDepConfigs, "resolution"},
				{entry.Manifest.BuildDeps, cfg.BuildDepConfigs, "build"},
			}
			for _, d := range deps {
				for _, name := range d.names {
					dep, err := depConfig(set, cfg.Port, name, d.kind, d.overrides)
					if err != nil {
						continue
					}
					if err := walk(dep); err != nil {
						return err
					}
				}
			}
			return nil
		}
		for _, cfg := range set.Installs {
			if err := walk(cfg); err != nil {
				return nil, err
			}
		}
	}
	return keys, nil
}

// PruneLock drops lockfile resolutions that no install set of cfg can reach
// any more and returns how many were dropped.
func PruneLock(lock *lockfile.Lockfile, registry *ports.Registry, cfg *ir.ModuleConfig) (int, error) {
	byID, err := cfg.InstallSets()
	if err != nil {
		return 0, err
	}
	sets := make([]ir.InstallSet, 0, len(byID))
	for _, set := range byID {
		sets = append(sets, set)
	}
	keep, err := LockKeys(registry, sets)
	if err != nil {
		return 0, err
	}
	return lock.Prune(keep), nil
}
