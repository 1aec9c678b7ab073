package patcher

import (
	"os"
	"path/filepath"
	"testing"
)

func writePKGBUILD(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "PKGBUILD"), []byte(content), 0o644); err != nil {
		t.Fatalf("write PKGBUILD: %v", err)
	}
}

func readPKGBUILD(t *testing.T, dir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "PKGBUILD"))
	if err != nil {
		t.Fatalf("read PKGBUILD: %v", err)
	}
	return string(data)
}

const samplePKGBUILD = `#!/usr/bin/env bash
pkgbase=linux-cachyos
pkgdesc='Custom kernel'
pkgname=('linux-cachyos' 'linux-cachyos-headers')

package_linux-cachyos() {
	:
}

package_linux-cachyos-headers() {
	:
}
`

func TestPatchPKGBUILDForRebrandingRewritesAllSites(t *testing.T) {
	dir := t.TempDir()
	writePKGBUILD(t, dir, samplePKGBUILD)

	p := New(dir)
	if err := p.PatchPKGBUILDForRebranding("Gaming"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := readPKGBUILD(t, dir)
	if !contains(out, "pkgbase=linux-cachyos-goatd-gaming") {
		t.Errorf("pkgbase not rebranded:\n%s", out)
	}
	if !contains(out, "provides=('linux-cachyos')") {
		t.Errorf("expected provides() line for coexistence:\n%s", out)
	}
	if !contains(out, "'linux-cachyos-goatd-gaming'") || !contains(out, "'linux-cachyos-goatd-gaming-headers'") {
		t.Errorf("pkgname array entries not rebranded:\n%s", out)
	}
	if !contains(out, "package_linux-cachyos-goatd-gaming()") {
		t.Errorf("package function not rebranded:\n%s", out)
	}
}

func TestPatchPKGBUILDForRebrandingIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writePKGBUILD(t, dir, samplePKGBUILD)

	p := New(dir)
	if err := p.PatchPKGBUILDForRebranding("gaming"); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	once := readPKGBUILD(t, dir)

	if err := p.PatchPKGBUILDForRebranding("gaming"); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	twice := readPKGBUILD(t, dir)

	if once != twice {
		t.Errorf("rebranding not idempotent:\nfirst:\n%s\nsecond:\n%s", once, twice)
	}
	if countOccurrences(twice, "-goatd-gaming-goatd-gaming") > 0 {
		t.Error("double-branding detected")
	}
}

func TestPatchPKGBUILDForRebrandingMissingPkgbaseErrors(t *testing.T) {
	dir := t.TempDir()
	writePKGBUILD(t, dir, "#!/usr/bin/env bash\npkgdesc='no pkgbase here'\n")

	p := New(dir)
	if err := p.PatchPKGBUILDForRebranding("gaming"); err == nil {
		t.Fatal("expected error when pkgbase is missing")
	}
}

func TestInjectPKGBUILDMetadataVariablesDoesNotAccumulate(t *testing.T) {
	dir := t.TempDir()
	writePKGBUILD(t, dir, samplePKGBUILD)

	p := New(dir)
	vars := map[string]string{"GOATD_PROFILE": "gaming", "GOATD_LTO_TYPE": "thin"}
	if err := p.InjectPKGBUILDMetadataVariables(vars); err != nil {
		t.Fatalf("first injection: %v", err)
	}
	if err := p.InjectPKGBUILDMetadataVariables(vars); err != nil {
		t.Fatalf("second injection: %v", err)
	}
	out := readPKGBUILD(t, dir)
	if countOccurrences(out, "GOATD_PROFILE=") != 1 {
		t.Errorf("expected exactly one GOATD_PROFILE= assignment, got %d:\n%s",
			countOccurrences(out, "GOATD_PROFILE="), out)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

func countOccurrences(s, substr string) int {
	count := 0
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			count++
			i += len(substr) - 1
		}
	}
	return count
}
