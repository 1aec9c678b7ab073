// Package models holds the data types shared by every component of the
// kernel build orchestrator: hardware facts, profile defaults, the live and
// finalized kernel configuration, the phase state machine, and the event
// types streamed to a UI.
package models

import "time"

// GPUVendor enumerates the detected graphics vendor.
type GPUVendor string

const (
	GPUAmd     GPUVendor = "amd"
	GPUNvidia  GPUVendor = "nvidia"
	GPUIntel   GPUVendor = "intel"
	GPUUnknown GPUVendor = "unknown"
)

// BootType enumerates the firmware boot path.
type BootType string

const (
	BootEFI  BootType = "efi"
	BootBIOS BootType = "bios"
)

// HardwareInfo is an immutable snapshot of the host's hardware, captured
// once at orchestrator construction and never mutated afterward.
type HardwareInfo struct {
	CPUModel    string
	CPUCores    int
	CPUThreads  int
	RAMGB       int
	FreeDiskGB  int
	GPUVendor   GPUVendor
	GPUModel    string
	StorageType string
	BootType    BootType
	InitSystem  string
	Drives      []string
}

// Valid reports whether the hardware facts satisfy the Finalizer's
// invariants (cpu_cores > 0, ram_gb > 0).
func (h HardwareInfo) Valid() bool {
	return h.CPUCores > 0 && h.RAMGB > 0
}

// Preemption enumerates the kernel preemption model.
type Preemption string

const (
	PreemptNone      Preemption = "none"
	PreemptVoluntary Preemption = "voluntary"
	PreemptFull      Preemption = "full"
)

// Hardening enumerates the kernel hardening posture.
type Hardening string

const (
	HardeningMinimal  Hardening = "minimal"
	HardeningStandard Hardening = "standard"
	HardeningHardened Hardening = "hardened"
)

// LTOType enumerates link-time optimization modes.
type LTOType string

const (
	LTONone  LTOType = "none"
	LTOThin  LTOType = "thin"
	LTOFull  LTOType = "full"
)

// Profile is a recognised named bundle of build defaults.
type Profile string

const (
	ProfileGaming      Profile = "gaming"
	ProfileWorkstation Profile = "workstation"
	ProfileServer      Profile = "server"
	ProfileLaptop      Profile = "laptop"
	ProfileGeneric     Profile = "generic"
)

// ProfileDefaults is pure data keyed by profile name.
type ProfileDefaults struct {
	HZ                 int
	Preemption         Preemption
	ForceClang         bool
	UseBore            bool
	UsePolly           bool
	UseMGLRU           bool
	Hardening          Hardening
	LTOType            LTOType
	MGLRUEnabledMask   uint16
	MGLRUMinTTLMs      uint32
	NativeOptimizations bool
}

// Profiles is the recognised set of profile defaults, keyed by profile name.
// Values reflect each profile's intent; Gaming favours
// latency (Full preemption, BORE, MGLRU), Server favours throughput
// (None preemption, no BORE), Workstation and Laptop sit between the two.
var Profiles = map[Profile]ProfileDefaults{
	ProfileGaming: {
		HZ: 1000, Preemption: PreemptFull, ForceClang: true,
		UseBore: true, UsePolly: true, UseMGLRU: true,
		Hardening: HardeningMinimal, LTOType: LTOThin,
		MGLRUEnabledMask: 0x0007, MGLRUMinTTLMs: 0, NativeOptimizations: true,
	},
	ProfileWorkstation: {
		HZ: 300, Preemption: PreemptVoluntary, ForceClang: true,
		UseBore: false, UsePolly: false, UseMGLRU: true,
		Hardening: HardeningStandard, LTOType: LTOThin,
		MGLRUEnabledMask: 0x0007, MGLRUMinTTLMs: 1000, NativeOptimizations: false,
	},
	ProfileServer: {
		HZ: 100, Preemption: PreemptNone, ForceClang: true,
		UseBore: false, UsePolly: false, UseMGLRU: true,
		Hardening: HardeningHardened, LTOType: LTOFull,
		MGLRUEnabledMask: 0x0007, MGLRUMinTTLMs: 5000, NativeOptimizations: false,
	},
	ProfileLaptop: {
		HZ: 300, Preemption: PreemptVoluntary, ForceClang: true,
		UseBore: false, UsePolly: false, UseMGLRU: true,
		Hardening: HardeningStandard, LTOType: LTOThin,
		MGLRUEnabledMask: 0x0007, MGLRUMinTTLMs: 2000, NativeOptimizations: false,
	},
	ProfileGeneric: {
		HZ: 300, Preemption: PreemptVoluntary, ForceClang: true,
		UseBore: false, UsePolly: false, UseMGLRU: false,
		Hardening: HardeningStandard, LTOType: LTONone,
		MGLRUEnabledMask: 0, MGLRUMinTTLMs: 0, NativeOptimizations: false,
	},
}

// KernelConfig is the live intent record, mutated only by the Finalizer.
type KernelConfig struct {
	Profile Profile
	Version string

	HZ                  int
	Preemption          Preemption
	ForceClang          bool
	UseBore             bool
	UsePolly            bool
	UseMGLRU            bool
	Hardening           Hardening
	LTOType             LTOType
	MGLRUEnabledMask    uint16
	MGLRUMinTTLMs       uint32
	NativeOptimizations bool

	// UserToggled records, per toggleable field, whether the user overrode
	// the profile default. A true entry means the Finalizer must preserve
	// the current value of that field instead of replacing it.
	UserToggled map[string]bool

	UseModprobed bool
	UseWhitelist bool

	DriverExclusions map[string]struct{}
	LTOShieldModules []string

	// ConfigOptions maps CONFIG_* or _META_ keys to string values.
	// Underscore-prefixed keys are internal signalling consumed by the
	// Patcher and are never written verbatim to .config.
	ConfigOptions map[string]string

	SCXAvailable        bool
	SCXActiveScheduler  string
}

// ToggleableFields is the fixed set of fields the intent hierarchy applies
// to.
var ToggleableFields = []string{
	"use_bore", "use_polly", "use_mglru", "lto_type", "hardening", "native_optimizations",
}

// NewKernelConfig returns a zero-value KernelConfig with its maps
// initialized, ready to be populated by a caller before being handed to the
// Finalizer.
func NewKernelConfig() *KernelConfig {
	return &KernelConfig{
		UserToggled:      make(map[string]bool),
		DriverExclusions: make(map[string]struct{}),
		ConfigOptions:    make(map[string]string),
	}
}

// Clone returns a deep copy of the config, used by the Finalizer so the
// caller's input is never mutated in place.
func (k *KernelConfig) Clone() *KernelConfig {
	out := *k
	out.UserToggled = make(map[string]bool, len(k.UserToggled))
	for key, v := range k.UserToggled {
		out.UserToggled[key] = v
	}
	out.DriverExclusions = make(map[string]struct{}, len(k.DriverExclusions))
	for m := range k.DriverExclusions {
		out.DriverExclusions[m] = struct{}{}
	}
	out.LTOShieldModules = append([]string(nil), k.LTOShieldModules...)
	out.ConfigOptions = make(map[string]string, len(k.ConfigOptions))
	for ck, cv := range k.ConfigOptions {
		out.ConfigOptions[ck] = cv
	}
	return &out
}

// FinalizedConfig is a KernelConfig on which the Finalizer has run. It is
// distinguished only by the guarantee that derived fields are populated;
// the Go type is an alias, so the compiler does not tell the two apart and
// an unfinalized KernelConfig still type-checks (the Finalizer is the only
// producer in practice).
type FinalizedConfig = KernelConfig

// Phase is one of the finite orchestration phases.
type Phase string

const (
	PhasePreparation   Phase = "preparation"
	PhaseConfiguration Phase = "configuration"
	PhasePatching      Phase = "patching"
	PhaseBuilding      Phase = "building"
	PhaseValidation    Phase = "validation"
	PhaseInstallation  Phase = "installation"
	PhaseCompleted     Phase = "completed"
	PhaseFailed        Phase = "failed"
)

// transitions is the authoritative phase transition graph.
var transitions = map[Phase][]Phase{
	PhasePreparation:   {PhaseConfiguration, PhaseFailed},
	PhaseConfiguration: {PhasePatching, PhaseFailed},
	PhasePatching:      {PhaseBuilding, PhaseFailed},
	PhaseBuilding:      {PhaseValidation, PhaseFailed},
	PhaseValidation:    {PhaseInstallation, PhaseCompleted, PhaseFailed},
	PhaseInstallation:  {PhaseCompleted, PhaseFailed},
	PhaseCompleted:     {},
	PhaseFailed:        {PhasePreparation},
}

// ValidNextPhases returns the allowed successor set for phase p.
func ValidNextPhases(p Phase) []Phase {
	return transitions[p]
}

// CanTransitionTo reports whether to is a legal successor of from.
func CanTransitionTo(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// OrchestrationState is owned exclusively by the Phase Orchestrator.
// Concurrent access must go through the orchestrator's reader/writer guard;
// this struct itself has no internal locking.
type OrchestrationState struct {
	RunID string

	Phase         Phase
	Progress      int
	Hardware      HardwareInfo
	Config        *KernelConfig
	PatchesApplied int
	PatchesFailed  int
	StartTime      time.Time
	LastUpdateTime time.Time
	Error          string
	CheckpointPath string
}

// NewOrchestrationState constructs state in the Preparation phase.
func NewOrchestrationState(runID string, hw HardwareInfo, cfg *KernelConfig) *OrchestrationState {
	now := time.Now()
	return &OrchestrationState{
		RunID:          runID,
		Phase:          PhasePreparation,
		Progress:       0,
		Hardware:       hw,
		Config:         cfg,
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// TransitionTo validates and applies a phase transition.
func (s *OrchestrationState) TransitionTo(next Phase) error {
	if !CanTransitionTo(s.Phase, next) {
		return &IllegalTransitionError{From: s.Phase, To: next}
	}
	s.Phase = next
	s.LastUpdateTime = time.Now()
	return nil
}

// SetProgress clamps percent to [0, 100] and enforces monotonic
// non-regression within a run.
func (s *OrchestrationState) SetProgress(percent int) {
	if percent > 100 {
		percent = 100
	}
	if percent < s.Progress {
		percent = s.Progress
	}
	s.Progress = percent
	s.LastUpdateTime = time.Now()
}

// RecordPatchApplied tallies a patch operation's outcome.
func (s *OrchestrationState) RecordPatchApplied(success bool) {
	if success {
		s.PatchesApplied++
	} else {
		s.PatchesFailed++
	}
	s.LastUpdateTime = time.Now()
}

// RecordError stores the error message and forces a transition to Failed,
// bypassing the normal legality check since Failed is reachable from any
// non-terminal phase.
func (s *OrchestrationState) RecordError(err string) {
	s.Error = err
	s.Phase = PhaseFailed
	s.LastUpdateTime = time.Now()
}

// ElapsedSinceStart returns the duration since the run began.
func (s *OrchestrationState) ElapsedSinceStart() time.Duration {
	return time.Since(s.StartTime)
}

// IllegalTransitionError reports an attempted phase transition outside the
// allowed successor set.
type IllegalTransitionError struct {
	From Phase
	To   Phase
}

func (e *IllegalTransitionError) Error() string {
	return "illegal phase transition from " + string(e.From) + " to " + string(e.To)
}

// BuildEvent is a message emitted to the UI.
type BuildEvent struct {
	Kind                 BuildEventKind
	PhaseName            string
	Progress             float32
	Text                 string
	InstallationSucceeded bool
}

// BuildEventKind enumerates the BuildEvent variants.
type BuildEventKind string

const (
	EventPhaseChanged         BuildEventKind = "phase_changed"
	EventProgress             BuildEventKind = "progress"
	EventLog                  BuildEventKind = "log"
	EventStatusUpdate         BuildEventKind = "status_update"
	EventStatus               BuildEventKind = "status"
	EventError                BuildEventKind = "error"
	EventInstallationComplete BuildEventKind = "installation_complete"
)
