// Package finalizer implements the Configuration Finalizer:
// a pure function collapsing user overrides, hardware facts, and profile
// defaults into a FinalizedConfig, following the intent-hierarchy rule:
// user overrides win, then hardware exclusions, then profile defaults.
package finalizer

import (
	"fmt"
	"sort"

	goerrors "github.com/MadGoatHaz/goatd-kernel/src/common/errors"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/models"
)

// pollyFlags is the exact flag string required to enable Polly loop optimisation.
const pollyFlags = "-mllvm -polly -mllvm -polly-vectorizer=stripmine -mllvm -polly-opt-fusion=max"

// gpuExclusions is the deterministic GPU driver-exclusion policy table.
var gpuExclusions = map[models.GPUVendor][]string{
	models.GPUAmd:     {"nvidia", "nouveau", "nvidia_drm"},
	models.GPUNvidia:  {"amdgpu", "amd_kfd", "radeon"},
	models.GPUIntel:   {"nvidia", "nouveau", "nvidia_drm", "amdgpu", "amd_kfd"},
	models.GPUUnknown: {},
}

// AMDShieldDirs is the static directory list shielded from LTO for AMD GPUs.
// Grounded in original_source/src/kernel/patcher.rs's AMDGPU_SHIELD_DIRS.
var AMDShieldDirs = []string{
	"drivers/gpu/drm/amd/amdgpu",
	"drivers/gpu/drm/amd/display",
	"drivers/gpu/drm/amd/pm",
	"drivers/gpu/drm/scheduler",
}

// Finalize produces a FinalizedConfig from (userConfig, hardware) per
// the intent hierarchy. It never mutates userConfig; the caller always receives a
// fresh clone.
func Finalize(userConfig *models.KernelConfig, hardware models.HardwareInfo) (*models.FinalizedConfig, error) {
	if !hardware.Valid() {
		return nil, goerrors.ErrInvalidHardware.WithMessagef(
			"cpu_cores=%d ram_gb=%d", hardware.CPUCores, hardware.RAMGB)
	}

	profile := userConfig.Profile
	defaults, ok := models.Profiles[profile]
	if !ok {
		// Generic is the only safe fallback; mapping is deterministic.
		profile = models.ProfileGeneric
		defaults = models.Profiles[models.ProfileGeneric]
	}

	cfg := userConfig.Clone()
	cfg.Profile = profile

	applyIntentHierarchy(cfg, defaults)
	applyGPUPolicy(cfg, hardware)
	deriveConfigOptions(cfg)

	return cfg, nil
}

// applyIntentHierarchy implements: if user_toggled_X, keep user's value;
// otherwise take the profile default. User-toggled flags are preserved
// verbatim in the output.
func applyIntentHierarchy(cfg *models.KernelConfig, defaults models.ProfileDefaults) {
	if !cfg.UserToggled["use_bore"] {
		cfg.UseBore = defaults.UseBore
	}
	if !cfg.UserToggled["use_polly"] {
		cfg.UsePolly = defaults.UsePolly
	}
	if !cfg.UserToggled["use_mglru"] {
		cfg.UseMGLRU = defaults.UseMGLRU
	}
	if !cfg.UserToggled["lto_type"] {
		cfg.LTOType = defaults.LTOType
	}
	if !cfg.UserToggled["hardening"] {
		cfg.Hardening = defaults.Hardening
	}
	if !cfg.UserToggled["native_optimizations"] {
		cfg.NativeOptimizations = defaults.NativeOptimizations
	}

	// Non-toggleable fields always take the profile default.
	cfg.HZ = defaults.HZ
	cfg.Preemption = defaults.Preemption
	cfg.ForceClang = defaults.ForceClang
	cfg.MGLRUEnabledMask = defaults.MGLRUEnabledMask
	cfg.MGLRUMinTTLMs = defaults.MGLRUMinTTLMs
}

// applyGPUPolicy starts from an empty exclusion set and populates it and
// the LTO shield list from the GPU vendor table.
func applyGPUPolicy(cfg *models.KernelConfig, hardware models.HardwareInfo) {
	cfg.DriverExclusions = make(map[string]struct{})
	for _, mod := range gpuExclusions[hardware.GPUVendor] {
		cfg.DriverExclusions[mod] = struct{}{}
	}
	if hardware.GPUVendor == models.GPUAmd {
		cfg.LTOShieldModules = append([]string(nil), AMDShieldDirs...)
	} else {
		cfg.LTOShieldModules = nil
	}
}

// deriveConfigOptions writes the secondary _KEY entries the Patcher
// consumes.
func deriveConfigOptions(cfg *models.KernelConfig) {
	if cfg.ConfigOptions == nil {
		cfg.ConfigOptions = make(map[string]string)
	}

	cfg.ConfigOptions["_HZ_VALUE"] = fmt.Sprintf("CONFIG_HZ=%d", cfg.HZ)

	switch cfg.Preemption {
	case models.PreemptFull:
		cfg.ConfigOptions["_PREEMPTION_MODEL"] = "CONFIG_PREEMPT_FULL=y"
	case models.PreemptVoluntary:
		cfg.ConfigOptions["_PREEMPTION_MODEL"] = "CONFIG_PREEMPT_VOLUNTARY=y"
	default:
		cfg.ConfigOptions["_PREEMPTION_MODEL"] = "CONFIG_PREEMPT_NONE=y"
	}

	cfg.ConfigOptions[fmt.Sprintf("_HARDENING_LEVEL_%s", cfg.Hardening)] = "1"

	if cfg.UseMGLRU {
		mglruKeys := []string{"LRU_GEN", "LRU_GEN_ENABLED"}
		sort.Strings(mglruKeys)
		for _, k := range mglruKeys {
			cfg.ConfigOptions[fmt.Sprintf("_MGLRU_CONFIG_%s", k)] = fmt.Sprintf("CONFIG_%s=y", k)
		}
	}

	if cfg.UsePolly {
		cfg.ConfigOptions["_POLLY_CFLAGS"] = pollyFlags
		cfg.ConfigOptions["_POLLY_CXXFLAGS"] = pollyFlags
		cfg.ConfigOptions["_POLLY_LDFLAGS"] = pollyFlags
	}

	if cfg.UseBore {
		cfg.ConfigOptions["_APPLY_BORE_SCHEDULER"] = "1"
	}
}
