// Package registry implements the Source Registry:
// the authoritative mapping from a kernel variant name to its PKGBUILD
// clone URL, with Viper-overridable entries for local mirrors or forks.
package registry

import (
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Source describes one recognised kernel variant's remote origin.
type Source struct {
	Variant  string
	CloneURL string
}

// defaultSources is the static table of known kernel variants (excerpt of the
// authoritative table).
var defaultSources = map[string]Source{
	"linux":          {Variant: "linux", CloneURL: "https://gitlab.archlinux.org/archlinux/packaging/packages/linux.git"},
	"linux-lts":      {Variant: "linux-lts", CloneURL: "https://gitlab.archlinux.org/archlinux/packaging/packages/linux-lts.git"},
	"linux-hardened": {Variant: "linux-hardened", CloneURL: "https://gitlab.archlinux.org/archlinux/packaging/packages/linux-hardened.git"},
	"linux-zen":      {Variant: "linux-zen", CloneURL: "https://gitlab.archlinux.org/archlinux/packaging/packages/linux-zen.git"},
	"linux-mainline": {Variant: "linux-mainline", CloneURL: "https://aur.archlinux.org/linux-mainline.git"},
	"linux-tkg":      {Variant: "linux-tkg", CloneURL: "https://github.com/Frogging-Family/linux-tkg.git"},
}

// Registry resolves a kernel variant name to its clone URL. Entries may be
// overridden at construction time (e.g. from Viper config) without touching
// the compiled-in defaults.
type Registry struct {
	sources map[string]Source
}

// globalOverrides holds variant overrides loaded once at process startup
// from sources.yaml (see LoadOverridesFromViper) and applied to every
// Registry subsequently constructed, so a single CLI-wide config file edit
// redirects every build run without threading a config object through the
// orchestrator.
var (
	globalOverridesMu sync.RWMutex
	globalOverrides   = map[string]Source{}
)

// LoadOverridesFromViper reads a "sources" map (kernel variant name to
// clone URL) from v — typically a Viper instance that has loaded
// sources.yaml — and registers each entry as a global override. Call once
// during CLI startup, before any Registry is constructed for a build run.
func LoadOverridesFromViper(v *viper.Viper) {
	overrides := v.GetStringMapString("sources")
	if len(overrides) == 0 {
		return
	}
	globalOverridesMu.Lock()
	defer globalOverridesMu.Unlock()
	for variant, cloneURL := range overrides {
		globalOverrides[strings.ToLower(variant)] = Source{Variant: variant, CloneURL: cloneURL}
	}
}

// New returns a Registry seeded with defaultSources plus any overrides
// LoadOverridesFromViper has registered.
func New() *Registry {
	r := &Registry{sources: make(map[string]Source, len(defaultSources))}
	for k, v := range defaultSources {
		r.sources[k] = v
	}
	globalOverridesMu.RLock()
	for k, v := range globalOverrides {
		r.sources[k] = v
	}
	globalOverridesMu.RUnlock()
	return r
}

// Override replaces or adds a variant's clone URL, used to point at a
// mirror or fork.
func (r *Registry) Override(variant, cloneURL string) {
	r.sources[strings.ToLower(variant)] = Source{Variant: variant, CloneURL: cloneURL}
}

// Lookup resolves variant (case-insensitive) to its Source.
func (r *Registry) Lookup(variant string) (Source, bool) {
	s, ok := r.sources[strings.ToLower(variant)]
	return s, ok
}

// Variants returns every recognised variant name, for CLI help text and
// validation.
func (r *Registry) Variants() []string {
	names := make([]string, 0, len(r.sources))
	for k := range r.sources {
		names = append(names, k)
	}
	return names
}
