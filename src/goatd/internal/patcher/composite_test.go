package patcher

import (
	"strings"
	"testing"

	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/models"
)

const testPollyFlags = "-mllvm -polly -mllvm -polly-vectorizer=stripmine -mllvm -polly-opt-fusion=max"

const fullPKGBUILD = `#!/usr/bin/env bash
pkgbase=linux-cachyos
pkgdesc='Custom kernel'
pkgname=('linux-cachyos' 'linux-cachyos-headers')

prepare() {
	cd "$srcdir"
	cd "$srcdir/linux"
}

build() {
	cd "$srcdir/linux"
	cp ../config .config
	make oldconfig
	make LLVM=1 LLVM_IAS=1 all
}

package_linux-cachyos() {
	:
}
`

func TestExecuteFullPatchWithEnvAppliesEveryOperation(t *testing.T) {
	dir := t.TempDir()
	writePKGBUILD(t, dir, fullPKGBUILD)
	writeConfig(t, dir, "CONFIG_CC_IS_GCC=y\n")

	cfg := models.NewKernelConfig()
	cfg.Profile = models.ProfileGaming
	cfg.LTOType = models.LTOThin
	cfg.NativeOptimizations = true
	cfg.UseModprobed = true
	cfg.UseWhitelist = true
	cfg.UsePolly = true
	cfg.ConfigOptions = map[string]string{
		"_POLLY_CFLAGS":   testPollyFlags,
		"_POLLY_CXXFLAGS": testPollyFlags,
		"_POLLY_LDFLAGS":  testPollyFlags,
	}

	p := New(dir)
	metadataVars := map[string]string{"GOATD_PROFILE": "gaming"}
	buildEnv := PrepareBuildEnvironment(true, "/usr/bin")

	if err := p.ExecuteFullPatchWithEnv(metadataVars, cfg, buildEnv); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pkgbuild := readPKGBUILD(t, dir)
	for _, want := range []string{
		"GOATD_PROFILE='gaming'",
		"pkgbase=linux-cachyos-goatd-gaming",
		"export CC=clang",
		modprobedStart,
		whitelistStart,
		e1CriticalStart,
		buildEnvStart,
		pollyStart,
	} {
		if !contains(pkgbuild, want) {
			t.Errorf("expected PKGBUILD to contain %q:\n%s", want, pkgbuild)
		}
	}

	config := readConfig(t, dir)
	if !strings.Contains(config, "CONFIG_CC_IS_CLANG=y") {
		t.Errorf("expected .config to enforce clang:\n%s", config)
	}
	if !strings.Contains(config, "CONFIG_LTO_CLANG_THIN=y") {
		t.Errorf("expected .config to carry thin LTO:\n%s", config)
	}
}

func TestExecuteFullPatchWithEnvIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writePKGBUILD(t, dir, fullPKGBUILD)
	writeConfig(t, dir, "CONFIG_CC_IS_GCC=y\n")

	cfg := models.NewKernelConfig()
	cfg.Profile = models.ProfileWorkstation
	cfg.LTOType = models.LTOThin
	cfg.ConfigOptions = map[string]string{}

	p := New(dir)
	metadataVars := map[string]string{"GOATD_PROFILE": "workstation"}
	buildEnv := PrepareBuildEnvironment(false, "/usr/bin")

	if err := p.ExecuteFullPatchWithEnv(metadataVars, cfg, buildEnv); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	firstPKGBUILD := readPKGBUILD(t, dir)
	firstConfig := readConfig(t, dir)

	if err := p.ExecuteFullPatchWithEnv(metadataVars, cfg, buildEnv); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	secondPKGBUILD := readPKGBUILD(t, dir)
	secondConfig := readConfig(t, dir)

	if firstPKGBUILD != secondPKGBUILD {
		t.Errorf("PKGBUILD not idempotent across full patch runs:\nfirst:\n%s\nsecond:\n%s", firstPKGBUILD, secondPKGBUILD)
	}
	if firstConfig != secondConfig {
		t.Errorf(".config not idempotent across full patch runs:\nfirst:\n%s\nsecond:\n%s", firstConfig, secondConfig)
	}
}

func TestPollyVarsReturnsNilWhenAbsent(t *testing.T) {
	if v := pollyVars(map[string]string{}); v != nil {
		t.Errorf("expected nil when no polly signalling keys present, got %+v", v)
	}
}

func TestPollyVarsMapsSignalsToExportNames(t *testing.T) {
	v := pollyVars(map[string]string{"_POLLY_CFLAGS": testPollyFlags})
	if v["CFLAGS"] != testPollyFlags {
		t.Errorf("expected CFLAGS mapped from _POLLY_CFLAGS, got %+v", v)
	}
}
