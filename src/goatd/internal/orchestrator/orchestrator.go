// Package orchestrator implements the Phase Orchestrator: it
// owns OrchestrationState, runs prepare/configure/patch/build/validate in
// order, guards every transition, emits events, and honours cancellation.
//
// Grounded in original_source/src/orchestrator/state.rs for the phase
// machine and event vocabulary, and in build/manager.go's Go concurrency
// idiom (sync.RWMutex-guarded state, context.CancelFunc cancellation,
// non-blocking channel sends) for the translation from Rust's async
// runtime + watch channel to goroutines and channels.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	goerrors "github.com/MadGoatHaz/goatd-kernel/src/common/errors"
	"github.com/MadGoatHaz/goatd-kernel/src/common/logs"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/execrun"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/finalizer"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/logcollector"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/models"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/patcher"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/registry"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/sources"
)

var log = logs.NewDefault()

// SetLogger overrides the package logger.
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Orchestrator owns one build run's OrchestrationState. Every exported
// method acquires the write guard before mutating state; readers (Snapshot)
// use the read guard, matching the "mutable state behind a
// reader/writer guard" rule.
type Orchestrator struct {
	mu    sync.RWMutex
	state *models.OrchestrationState

	kernelPath     string
	checkpointDir  string
	registry       *registry.Registry
	sourceManager  *sources.Manager
	patcher        *patcher.Patcher
	collector      *logcollector.Collector
	events         chan<- models.BuildEvent
	cancel         <-chan struct{}
}

// New creates a handle in the Preparation phase. It creates kernelPath if
// missing but performs no network or subprocess work.
func New(
	runID string,
	hardware models.HardwareInfo,
	config *models.KernelConfig,
	checkpointDir string,
	kernelPath string,
	events chan<- models.BuildEvent,
	cancel <-chan struct{},
	collector *logcollector.Collector,
) (*Orchestrator, error) {
	if err := os.MkdirAll(kernelPath, 0o755); err != nil {
		return nil, fmt.Errorf("create kernel directory: %w", err)
	}

	return &Orchestrator{
		state:         models.NewOrchestrationState(runID, hardware, config),
		kernelPath:    kernelPath,
		checkpointDir: checkpointDir,
		registry:      registry.New(),
		sourceManager: sources.New(),
		patcher:       patcher.New(kernelPath),
		collector:     collector,
		events:        events,
		cancel:        cancel,
	}, nil
}

// Snapshot returns a read-only copy of the orchestration state for UI/status
// queries, taken under the read guard.
func (o *Orchestrator) Snapshot() models.OrchestrationState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return *o.state
}

func (o *Orchestrator) cancelled() bool {
	select {
	case <-o.cancel:
		return true
	default:
		return false
	}
}

// emitPhaseChanged and emitProgress are called under the write guard so
// transition ordering is never an observable suspension point.
func (o *Orchestrator) emitPhaseChanged(phase models.Phase) {
	o.emit(models.BuildEvent{Kind: models.EventPhaseChanged, PhaseName: string(phase)})
}

func (o *Orchestrator) emitProgress(percent int) {
	o.emit(models.BuildEvent{Kind: models.EventProgress, Progress: float32(percent) / 100})
}

func (o *Orchestrator) emit(evt models.BuildEvent) {
	if o.collector != nil {
		o.collector.EmitEvent(evt)
		return
	}
	if o.events == nil {
		return
	}
	select {
	case o.events <- evt:
	default:
		log.Warn("orchestration event dropped, receiver not keeping up", "kind", evt.Kind)
	}
}

// fail records err, transitions to Failed, and emits the terminal events.
// Called under the write guard by every phase method's error path.
func (o *Orchestrator) fail(err error) error {
	o.state.RecordError(err.Error())
	o.emitPhaseChanged(models.PhaseFailed)
	o.emit(models.BuildEvent{Kind: models.EventError, Text: err.Error()})
	return err
}

// Prepare is only valid in Preparation.
func (o *Orchestrator) Prepare(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Phase != models.PhasePreparation {
		return goerrors.ErrWrongPhase.WithMessagef("prepare() requires Preparation, got %s", o.state.Phase)
	}
	if !o.state.Hardware.Valid() {
		return o.fail(goerrors.ErrInvalidHardware.WithMessagef("cpu_cores=%d ram_gb=%d", o.state.Hardware.CPUCores, o.state.Hardware.RAMGB))
	}

	pkgbuildPath := o.kernelPath + "/PKGBUILD"
	if _, err := os.Stat(pkgbuildPath); err != nil {
		variant := "linux"
		if o.state.Config != nil && o.state.Config.ConfigOptions["_KERNEL_VARIANT"] != "" {
			variant = o.state.Config.ConfigOptions["_KERNEL_VARIANT"]
		}
		source, ok := o.registry.Lookup(variant)
		if !ok {
			return o.fail(goerrors.ErrPKGBUILDMissing.WithMessagef("no PKGBUILD present and variant %q cannot be resolved to a clone source", variant))
		}
		if err := o.sourceManager.Clone(ctx, source.CloneURL, o.kernelPath); err != nil {
			return o.fail(goerrors.ErrPKGBUILDMissing.WithCause(err))
		}
	}

	if err := o.patcher.CleanupPreviousArtifacts(); err != nil {
		return o.fail(err)
	}

	o.state.SetProgress(5)
	o.emitProgress(5)
	if err := o.state.TransitionTo(models.PhaseConfiguration); err != nil {
		return o.fail(err)
	}
	o.emitPhaseChanged(models.PhaseConfiguration)
	return nil
}

// Configure is only valid in Configuration.
func (o *Orchestrator) Configure() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Phase != models.PhaseConfiguration {
		return goerrors.ErrWrongPhase.WithMessagef("configure() requires Configuration, got %s", o.state.Phase)
	}

	finalized, err := finalizer.Finalize(o.state.Config, o.state.Hardware)
	if err != nil {
		return o.fail(err)
	}
	o.state.Config = finalized

	o.state.SetProgress(8)
	o.emitProgress(8)
	if err := o.state.TransitionTo(models.PhasePatching); err != nil {
		return o.fail(err)
	}
	o.emitPhaseChanged(models.PhasePatching)
	return nil
}

// Patch is only valid in Patching.
func (o *Orchestrator) Patch() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Phase != models.PhasePatching {
		return goerrors.ErrWrongPhase.WithMessagef("patch() requires Patching, got %s", o.state.Phase)
	}

	cfg := o.state.Config
	metadataVars := goatdEnvironmentHints(cfg)
	buildEnv := patcher.PrepareBuildEnvironment(cfg.NativeOptimizations, os.Getenv("PATH"))

	if err := o.patcher.ExecuteFullPatchWithEnv(metadataVars, cfg, buildEnv); err != nil {
		o.state.RecordPatchApplied(false)
		return o.fail(err)
	}
	o.state.RecordPatchApplied(true)

	o.state.SetProgress(10)
	o.emitProgress(10)
	if err := o.state.TransitionTo(models.PhaseBuilding); err != nil {
		return o.fail(err)
	}
	o.emitPhaseChanged(models.PhaseBuilding)
	return nil
}

// goatdEnvironmentHints builds the GOATD_* variables the PKGBUILD
// metadata-variable injection (op 3) carries, derived from the finalized
// config.
func goatdEnvironmentHints(cfg *models.FinalizedConfig) map[string]string {
	hints := map[string]string{
		"GOATD_LTO_TYPE":            string(cfg.LTOType),
		"GOATD_PROFILE":             string(cfg.Profile),
		"GOATD_HARDENING":           string(cfg.Hardening),
		"GOATD_USE_MODPROBED":       boolFlag(cfg.UseModprobed),
		"GOATD_USE_WHITELIST":       boolFlag(cfg.UseWhitelist),
		"GOATD_NATIVE_OPTIMIZATIONS": boolFlag(cfg.NativeOptimizations),
	}

	var mglru []string
	keys := make([]string, 0, len(cfg.ConfigOptions))
	for k := range cfg.ConfigOptions {
		if strings.HasPrefix(k, "_MGLRU_CONFIG_") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		mglru = append(mglru, cfg.ConfigOptions[k])
	}
	hints["GOATD_MGLRU_CONFIGS"] = strings.Join(mglru, "\n")

	return hints
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Build is only valid in Building.
func (o *Orchestrator) Build(ctx context.Context) error {
	o.mu.Lock()
	if o.state.Phase != models.PhaseBuilding {
		o.mu.Unlock()
		return goerrors.ErrWrongPhase.WithMessagef("build() requires Building, got %s", o.state.Phase)
	}
	cfg := o.state.Config
	o.mu.Unlock()

	buildEnv := patcher.PrepareBuildEnvironment(cfg.NativeOptimizations, os.Getenv("PATH"))

	callback := func(line string, progress *int) {
		kind := models.EventLog
		if isStatusUpdateLine(line) {
			kind = models.EventStatusUpdate
		}
		o.mu.Lock()
		if progress != nil {
			mapped := 10 + 8*(*progress)/10
			o.state.SetProgress(mapped)
			o.emitProgress(mapped)
		}
		o.emit(models.BuildEvent{Kind: kind, Text: line})
		o.mu.Unlock()
	}

	err := execrun.RunKernelBuild(ctx, o.kernelPath, buildEnv, callback, execrun.Cancelled(o.cancel), o.collector)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		return o.fail(err)
	}
	if err := o.state.TransitionTo(models.PhaseValidation); err != nil {
		return o.fail(err)
	}
	o.emitPhaseChanged(models.PhaseValidation)
	return nil
}

func isStatusUpdateLine(line string) bool {
	for _, marker := range []string{"Compiling:", "Linking:", "Building:", "Linking vmlinux", "Compiling"} {
		if strings.HasPrefix(line, marker) {
			return true
		}
	}
	return false
}

// Validate is only valid in Validation. It
// transitions to Completed; Installation is reachable only by calling
// Install instead of Validate while in Validation.
func (o *Orchestrator) Validate() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Phase != models.PhaseValidation {
		return goerrors.ErrWrongPhase.WithMessagef("validate() requires Validation, got %s", o.state.Phase)
	}

	artifacts, err := o.patcher.FindBuildArtifacts()
	if err != nil {
		return o.fail(err)
	}
	if len(artifacts) == 0 {
		return o.fail(goerrors.ErrNoArtifacts)
	}

	o.state.SetProgress(95)
	o.emitProgress(95)
	if err := o.state.TransitionTo(models.PhaseCompleted); err != nil {
		return o.fail(err)
	}
	o.emitPhaseChanged(models.PhaseCompleted)
	return nil
}

// Install enumerates *.pkg.tar.zst and invokes the system package manager
// with -U --noconfirm. Only valid in Validation; Install itself performs
// the Validation → Installation transition.
func (o *Orchestrator) Install(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Phase != models.PhaseValidation {
		return goerrors.ErrWrongPhase.WithMessagef("install() requires Validation, got %s", o.state.Phase)
	}
	if err := o.state.TransitionTo(models.PhaseInstallation); err != nil {
		return o.fail(err)
	}
	o.emitPhaseChanged(models.PhaseInstallation)

	artifacts, err := o.patcher.FindBuildArtifacts()
	if err != nil {
		return o.fail(err)
	}
	pkgs := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		if strings.HasSuffix(a, ".pkg.tar.zst") {
			pkgs = append(pkgs, a)
		}
	}
	if len(pkgs) > 0 {
		args := append([]string{"-U", "--noconfirm"}, pkgs...)
		cmd := exec.CommandContext(ctx, "pacman", args...)
		if err := cmd.Run(); err != nil {
			return o.fail(goerrors.ErrPatchFailed.WithCause(err))
		}
	}

	o.state.SetProgress(100)
	o.emitProgress(100)
	if err := o.state.TransitionTo(models.PhaseCompleted); err != nil {
		return o.fail(err)
	}
	o.emitPhaseChanged(models.PhaseCompleted)
	o.emit(models.BuildEvent{Kind: models.EventInstallationComplete, InstallationSucceeded: true})
	return nil
}

// Run sequentially executes prepare -> configure -> patch -> build ->
// validate, stopping at the first error.
func (o *Orchestrator) Run(ctx context.Context) error {
	steps := []func() error{
		func() error { return o.Prepare(ctx) },
		o.Configure,
		o.Patch,
		func() error { return o.Build(ctx) },
		o.Validate,
	}
	for _, step := range steps {
		if o.cancelled() {
			o.mu.Lock()
			err := o.fail(goerrors.ErrBuildCancelled)
			o.mu.Unlock()
			return err
		}
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
