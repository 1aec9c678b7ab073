package patcher

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/models"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, ".config"), []byte(content), 0o644); err != nil {
		t.Fatalf("write .config: %v", err)
	}
}

func readConfig(t *testing.T, dir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, ".config"))
	if err != nil {
		t.Fatalf("read .config: %v", err)
	}
	return string(data)
}

const sampleConfig = `CONFIG_CC_IS_GCC=y
CONFIG_GCC_VERSION=130200
CONFIG_CMDLINE="root=/dev/sda1 quiet"
CONFIG_CMDLINE_BOOL=y
CONFIG_LTO_NONE=y
# CONFIG_HAS_LTO_CLANG is not set
`

func TestApplyKconfigEnforcesClang(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, sampleConfig)

	p := New(dir)
	opts := map[string]string{"CONFIG_HZ": "1000"}
	if err := p.ApplyKconfig(opts, models.LTOThin); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := readConfig(t, dir)

	if !strings.Contains(out, "CONFIG_CC_IS_CLANG=y") {
		t.Errorf("expected clang enforced:\n%s", out)
	}
	if strings.Contains(out, "CONFIG_CC_IS_GCC=y") {
		t.Errorf("expected gcc signalling removed:\n%s", out)
	}
	if strings.Contains(out, "CONFIG_HZ=1000") == false {
		t.Errorf("expected user option applied:\n%s", out)
	}
}

func TestApplyKconfigLTOThinIsAuthoritative(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, sampleConfig)

	p := New(dir)
	if err := p.ApplyKconfig(map[string]string{}, models.LTOThin); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := readConfig(t, dir)

	if strings.Count(out, "CONFIG_LTO_CLANG_THIN=y") != 1 {
		t.Errorf("expected exactly one authoritative LTO_CLANG_THIN line:\n%s", out)
	}
	if strings.Contains(out, "CONFIG_LTO_NONE=y") {
		t.Errorf("expected prior LTO_NONE line removed:\n%s", out)
	}
	if strings.Contains(out, "# CONFIG_HAS_LTO_CLANG is not set") {
		t.Errorf("expected prior unset HAS_LTO_CLANG removed:\n%s", out)
	}
}

func TestApplyKconfigCmdlinePreservesPriorTokensAndAppendsNew(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, sampleConfig)

	p := New(dir)
	if err := p.ApplyKconfig(map[string]string{}, models.LTONone); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := readConfig(t, dir)

	for _, tok := range []string{"root=/dev/sda1", "quiet", "nowatchdog", "preempt=full"} {
		if !strings.Contains(out, tok) {
			t.Errorf("expected cmdline to contain %q:\n%s", tok, out)
		}
	}
	if strings.Count(out, "CONFIG_CMDLINE=") != 1 {
		t.Errorf("expected exactly one CONFIG_CMDLINE line:\n%s", out)
	}
}

func TestApplyKconfigMGLRUAndHardeningTokens(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, sampleConfig)

	p := New(dir)
	opts := map[string]string{
		"_MGLRU_CONFIG_LRU_GEN":         "CONFIG_LRU_GEN=y",
		"_MGLRU_CONFIG_LRU_GEN_ENABLED": "CONFIG_LRU_GEN_ENABLED=y",
		"_HARDENING_LEVEL_minimal":      "1",
	}
	if err := p.ApplyKconfig(opts, models.LTONone); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := readConfig(t, dir)

	if !strings.Contains(out, "CONFIG_LRU_GEN=y") || !strings.Contains(out, "CONFIG_LRU_GEN_ENABLED=y") {
		t.Errorf("expected MGLRU config keys applied:\n%s", out)
	}
	if !strings.Contains(out, "lru_gen.enabled=7") {
		t.Errorf("expected lru_gen cmdline token:\n%s", out)
	}
	if !strings.Contains(out, "mitigations=off") {
		t.Errorf("expected mitigations=off for minimal hardening:\n%s", out)
	}
}

func TestApplyKconfigIsIdempotentOnSecondPass(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, sampleConfig)

	p := New(dir)
	opts := map[string]string{"CONFIG_HZ": "1000"}
	if err := p.ApplyKconfig(opts, models.LTOThin); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	first := readConfig(t, dir)

	if err := p.ApplyKconfig(opts, models.LTOThin); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	second := readConfig(t, dir)

	if strings.Count(second, "CONFIG_LTO_CLANG_THIN=y") != 1 {
		t.Errorf("LTO line duplicated across passes:\n%s", second)
	}
	if strings.Count(second, "CONFIG_HZ=1000") != 1 {
		t.Errorf("HZ option duplicated across passes:\nfirst:\n%s\nsecond:\n%s", first, second)
	}
}
