package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	goerrors "github.com/MadGoatHaz/goatd-kernel/src/common/errors"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/execrun"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/models"
)

const fixturePKGBUILD = `#!/usr/bin/env bash
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

func newFixtureRun(t *testing.T) (*Orchestrator, string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "PKGBUILD"), []byte(fixturePKGBUILD), 0o644); err != nil {
		t.Fatalf("write PKGBUILD: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".config"), []byte("CONFIG_CC_IS_GCC=y\n"), 0o644); err != nil {
		t.Fatalf("write .config: %v", err)
	}

	hw := models.HardwareInfo{CPUCores: 8, CPUThreads: 16, RAMGB: 32}
	cfg := models.NewKernelConfig()
	cfg.Profile = models.ProfileGaming

	o, err := New("run-1", hw, cfg, t.TempDir(), dir, nil, make(chan struct{}), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o, dir
}

func TestPrepareRejectsInvalidHardware(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "PKGBUILD"), []byte(fixturePKGBUILD), 0o644); err != nil {
		t.Fatalf("write PKGBUILD: %v", err)
	}
	hw := models.HardwareInfo{CPUCores: 0, RAMGB: 0}
	cfg := models.NewKernelConfig()

	o, err := New("run-bad-hw", hw, cfg, t.TempDir(), dir, nil, make(chan struct{}), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := o.Prepare(context.Background()); err == nil {
		t.Fatal("expected Prepare to reject invalid hardware")
	}
	if got := o.Snapshot().Phase; got != models.PhaseFailed {
		t.Errorf("phase = %s, want Failed", got)
	}
}

func TestPhaseMethodsRejectWrongPhase(t *testing.T) {
	o, _ := newFixtureRun(t)
	if err := o.Configure(); err == nil {
		t.Fatal("expected Configure to reject Preparation phase")
	}
	if err := o.Patch(); err == nil {
		t.Fatal("expected Patch to reject Preparation phase")
	}
	if err := o.Validate(); err == nil {
		t.Fatal("expected Validate to reject Preparation phase")
	}
}

func TestPrepareConfigurePatchAdvancePhases(t *testing.T) {
	o, _ := newFixtureRun(t)

	if err := o.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if got := o.Snapshot().Phase; got != models.PhaseConfiguration {
		t.Fatalf("phase after Prepare = %s, want Configuration", got)
	}

	if err := o.Configure(); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if got := o.Snapshot().Phase; got != models.PhasePatching {
		t.Fatalf("phase after Configure = %s, want Patching", got)
	}

	if err := o.Patch(); err != nil {
		t.Fatalf("Patch: %v", err)
	}
	snap := o.Snapshot()
	if snap.Phase != models.PhaseBuilding {
		t.Fatalf("phase after Patch = %s, want Building", snap.Phase)
	}
	if snap.PatchesApplied != 1 {
		t.Errorf("PatchesApplied = %d, want 1", snap.PatchesApplied)
	}
}

func TestBuildUsesDryRunHookAndAdvancesToValidation(t *testing.T) {
	t.Setenv(execrun.DryRunHookEnv, "1")
	o, _ := newFixtureRun(t)

	if err := o.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := o.Configure(); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := o.Patch(); err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if err := o.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := o.Snapshot().Phase; got != models.PhaseValidation {
		t.Fatalf("phase after Build = %s, want Validation", got)
	}
}

func TestValidateFailsWithoutArtifacts(t *testing.T) {
	o, _ := newFixtureRun(t)
	o.state.Phase = models.PhaseValidation
	if err := o.Validate(); err == nil {
		t.Fatal("expected Validate to fail with no build artifacts present")
	}
	if got := o.Snapshot().Phase; got != models.PhaseFailed {
		t.Errorf("phase = %s, want Failed", got)
	}
}

func TestValidateSucceedsWithArtifactPresent(t *testing.T) {
	o, dir := newFixtureRun(t)
	if err := os.WriteFile(filepath.Join(dir, "linux-cachyos-6.9.1-1-x86_64.pkg.tar.zst"), []byte("fake"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	o.state.Phase = models.PhaseValidation

	if err := o.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	snap := o.Snapshot()
	if snap.Phase != models.PhaseCompleted {
		t.Errorf("phase = %s, want Completed", snap.Phase)
	}
	if snap.Progress != 95 {
		t.Errorf("progress = %d, want 95", snap.Progress)
	}
}

func TestInstallWithNoMatchingArtifactsSkipsPacmanAndCompletes(t *testing.T) {
	o, _ := newFixtureRun(t)
	o.state.Phase = models.PhaseValidation

	if err := o.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	snap := o.Snapshot()
	if snap.Phase != models.PhaseCompleted {
		t.Errorf("phase = %s, want Completed", snap.Phase)
	}
	if snap.Progress != 100 {
		t.Errorf("progress = %d, want 100", snap.Progress)
	}
}

func TestRunStopsImmediatelyWhenAlreadyCancelled(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "PKGBUILD"), []byte(fixturePKGBUILD), 0o644); err != nil {
		t.Fatalf("write PKGBUILD: %v", err)
	}
	hw := models.HardwareInfo{CPUCores: 8, RAMGB: 32}
	cfg := models.NewKernelConfig()

	cancel := make(chan struct{})
	close(cancel)

	o, err := New("run-cancelled", hw, cfg, t.TempDir(), dir, nil, cancel, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = o.Run(context.Background())
	if err != goerrors.ErrBuildCancelled {
		t.Fatalf("Run error = %v, want ErrBuildCancelled", err)
	}
	if got := o.Snapshot().Phase; got != models.PhaseFailed {
		t.Errorf("phase = %s, want Failed", got)
	}
}

func TestRunEndToEndWithDryRunHook(t *testing.T) {
	t.Setenv(execrun.DryRunHookEnv, "1")
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "PKGBUILD"), []byte(fixturePKGBUILD), 0o644); err != nil {
		t.Fatalf("write PKGBUILD: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".config"), []byte("CONFIG_CC_IS_GCC=y\n"), 0o644); err != nil {
		t.Fatalf("write .config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "vmlinux"), []byte("fake-kernel-image"), 0o644); err != nil {
		t.Fatalf("write vmlinux: %v", err)
	}

	hw := models.HardwareInfo{CPUCores: 8, RAMGB: 32}
	cfg := models.NewKernelConfig()
	cfg.Profile = models.ProfileWorkstation

	events := make(chan models.BuildEvent, 256)
	o, err := New("run-e2e", hw, cfg, t.TempDir(), dir, events, make(chan struct{}), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := o.Snapshot().Phase; got != models.PhaseCompleted {
		t.Fatalf("phase = %s, want Completed", got)
	}

	sawPhaseChange := false
	for {
		select {
		case evt := <-events:
			if evt.Kind == models.EventPhaseChanged {
				sawPhaseChange = true
			}
		default:
			if !sawPhaseChange {
				t.Error("expected at least one phase-changed event to be emitted")
			}
			return
		}
	}
}
