package patcher

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// amdShieldDirs maps each AMD GPU subtree to its canonical Makefile module
// variable name. Ported from original_source/src/kernel/lto.rs's
// AMD_SHIELD_DIRS / get_module_name.
var amdShieldDirs = []struct {
	dir    string
	module string
}{
	{"drivers/gpu/drm/amd", "amdgpu"},
	{"drivers/gpu/drm/amd/amdgpu", "amdgpu"},
	{"drivers/gpu/drm/amd/amdkfd", "amdkfd"},
	{"drivers/gpu/drm/amd/display", "amdgpu_display"},
}

// GetModuleNameForDir returns the canonical Makefile module variable name
// for one of the AMD GPU shield directories.
func GetModuleNameForDir(dir string) string {
	for _, d := range amdShieldDirs {
		if d.dir == dir {
			return d.module
		}
	}
	return "amdgpu"
}

var (
	flagsVarRegex = regexp.MustCompile(`^(\s*)((?:export\s+)?[A-Z_]+FLAGS)\s*([:+?]?=)\s*(.*)$`)
	ltoICFFlagRegex = regexp.MustCompile(`-flto(?:=[a-z]+)?|(?:-Wl,)?--icf(?:=[a-z]+)?`)
)

// RemoveICFFlags strips -flto/-flto=.../--icf/--icf=.../-Wl,--icf... from
// every *FLAGS assignment line in the root Makefile, preserving
// indentation, the variable name, and the trailing-newline property of the
// input. Non-assignment lines pass through unchanged. Idempotent: a second
// pass finds no flags left to remove. Ported from
// original_source/src/kernel/lto.rs remove_icf_flags.
func RemoveICFFlags(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		m := flagsVarRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		indent, varName, op, value := m[1], m[2], m[3], m[4]
		value = ltoICFFlagRegex.ReplaceAllString(value, "")
		value = collapseSpaces(value)
		lines[i] = fmt.Sprintf("%s%s%s%s", indent, varName, op, value)
	}
	out := strings.Join(lines, "\n")
	return preservesTrailingNewline(content, out)
}

// RemoveICFFlags is a Patcher method operating on the root Makefile.
func (p *Patcher) RemoveICFFlags() error {
	path := filepath.Join(p.srcDir, "Makefile")
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Best-effort: no root Makefile during a dry run
			// is tolerated.
			log.Warn("root Makefile absent, skipping ICF flag removal")
			return nil
		}
		return err
	}
	if err := p.backup(path); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(RemoveICFFlags(string(content))), 0o644)
}

// ShieldLTO appends CFLAGS filter-out directives to each AMD GPU subtree
// Makefile named in shieldModules (directory paths relative to srcDir),
// so -flto/-flto=thin/-flto=full never reach those translation units.
// No-op per-file if already applied. Best-effort: a missing subtree
// Makefile is logged and tolerated. Ported from
// original_source/src/kernel/lto.rs shield_amd_gpu_from_lto, generalized
// from a single Makefile to each shielded subtree's own Makefile.
func (p *Patcher) ShieldLTO(shieldModules []string) error {
	for _, dir := range shieldModules {
		path := filepath.Join(p.srcDir, dir, "Makefile")
		content, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				log.Warn("GPU shield Makefile absent, skipping", "dir", dir)
				continue
			}
			return err
		}

		module := GetModuleNameForDir(dir)
		text := string(content)
		if strings.Contains(text, fmt.Sprintf("CFLAGS_%s", module)) && strings.Contains(text, "filter-out -flto") {
			continue // already shielded, fixed point
		}

		if err := p.backup(path); err != nil {
			return err
		}

		var b strings.Builder
		b.WriteString(text)
		if !strings.HasSuffix(text, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("\n# PHASE LTO SHIELD: GPU driver excluded from link-time optimization\n")
		fmt.Fprintf(&b, "CFLAGS_%s := $(filter-out -flto$(comma)thin,$(CFLAGS_%s))\n", module, module)
		fmt.Fprintf(&b, "CFLAGS_%s := $(filter-out -flto$(comma)full,$(CFLAGS_%s))\n", module, module)
		fmt.Fprintf(&b, "CFLAGS_%s := $(filter-out -flto,$(CFLAGS_%s))\n", module, module)

		if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
			return err
		}
	}
	return nil
}
