package finalizer

import (
	"testing"

	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/models"
)

func TestFinalizeRejectsInvalidHardware(t *testing.T) {
	cfg := models.NewKernelConfig()
	cfg.Profile = models.ProfileGaming
	_, err := Finalize(cfg, models.HardwareInfo{CPUCores: 0, RAMGB: 16})
	if err == nil {
		t.Fatal("expected error for zero cpu_cores, got nil")
	}
}

func TestFinalizeUnknownProfileFallsBackToGeneric(t *testing.T) {
	cfg := models.NewKernelConfig()
	cfg.Profile = models.Profile("does-not-exist")
	out, err := Finalize(cfg, models.HardwareInfo{CPUCores: 8, RAMGB: 16})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Profile != models.ProfileGeneric {
		t.Errorf("profile = %s, want generic fallback", out.Profile)
	}
}

func TestFinalizeAppliesProfileDefaultsWhenNotToggled(t *testing.T) {
	cfg := models.NewKernelConfig()
	cfg.Profile = models.ProfileGaming
	out, err := Finalize(cfg, models.HardwareInfo{CPUCores: 8, RAMGB: 16})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := models.Profiles[models.ProfileGaming]
	if out.UseBore != want.UseBore || out.UsePolly != want.UsePolly || out.LTOType != want.LTOType {
		t.Errorf("gaming profile defaults not applied: %+v", out)
	}
	if out.HZ != want.HZ || out.Preemption != want.Preemption {
		t.Errorf("non-toggleable defaults not applied: hz=%d preempt=%s", out.HZ, out.Preemption)
	}
}

func TestFinalizePreservesUserToggledValue(t *testing.T) {
	cfg := models.NewKernelConfig()
	cfg.Profile = models.ProfileGaming
	cfg.UseBore = false
	cfg.UserToggled["use_bore"] = true

	out, err := Finalize(cfg, models.HardwareInfo{CPUCores: 8, RAMGB: 16})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.UseBore != false {
		t.Error("user-toggled use_bore=false was overwritten by gaming profile default (true)")
	}
}

func TestFinalizeDoesNotMutateInput(t *testing.T) {
	cfg := models.NewKernelConfig()
	cfg.Profile = models.ProfileGaming
	cfg.UseBore = false

	_, err := Finalize(cfg, models.HardwareInfo{CPUCores: 8, RAMGB: 16})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.UseBore != false {
		t.Error("Finalize mutated the caller's input config")
	}
}

func TestApplyGPUPolicyAMDExcludesNvidia(t *testing.T) {
	cfg := models.NewKernelConfig()
	cfg.Profile = models.ProfileGeneric
	out, err := Finalize(cfg, models.HardwareInfo{CPUCores: 8, RAMGB: 16, GPUVendor: models.GPUAmd})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, mod := range []string{"nvidia", "nouveau", "nvidia_drm"} {
		if _, ok := out.DriverExclusions[mod]; !ok {
			t.Errorf("expected %s excluded for AMD GPU", mod)
		}
	}
	if len(out.LTOShieldModules) == 0 {
		t.Error("expected LTO shield modules populated for AMD GPU")
	}
}

func TestApplyGPUPolicyNvidiaExcludesAMD(t *testing.T) {
	cfg := models.NewKernelConfig()
	cfg.Profile = models.ProfileGeneric
	out, err := Finalize(cfg, models.HardwareInfo{CPUCores: 8, RAMGB: 16, GPUVendor: models.GPUNvidia})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, mod := range []string{"amdgpu", "amd_kfd", "radeon"} {
		if _, ok := out.DriverExclusions[mod]; !ok {
			t.Errorf("expected %s excluded for Nvidia GPU", mod)
		}
	}
	if len(out.LTOShieldModules) != 0 {
		t.Error("expected no LTO shield modules for non-AMD GPU")
	}
}

func TestDeriveConfigOptionsHZAndPreemption(t *testing.T) {
	cfg := models.NewKernelConfig()
	cfg.Profile = models.ProfileServer
	out, err := Finalize(cfg, models.HardwareInfo{CPUCores: 16, RAMGB: 64})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ConfigOptions["_HZ_VALUE"] != "CONFIG_HZ=100" {
		t.Errorf("_HZ_VALUE = %q", out.ConfigOptions["_HZ_VALUE"])
	}
	if out.ConfigOptions["_PREEMPTION_MODEL"] != "CONFIG_PREEMPT_NONE=y" {
		t.Errorf("_PREEMPTION_MODEL = %q", out.ConfigOptions["_PREEMPTION_MODEL"])
	}
}

func TestDeriveConfigOptionsPollyOnlyWhenEnabled(t *testing.T) {
	cfg := models.NewKernelConfig()
	cfg.Profile = models.ProfileServer // UsePolly=false
	out, err := Finalize(cfg, models.HardwareInfo{CPUCores: 16, RAMGB: 64})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := out.ConfigOptions["_POLLY_CFLAGS"]; ok {
		t.Error("did not expect Polly flags when UsePolly is false")
	}

	cfg2 := models.NewKernelConfig()
	cfg2.Profile = models.ProfileGaming // UsePolly=true
	out2, err := Finalize(cfg2, models.HardwareInfo{CPUCores: 16, RAMGB: 64})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out2.ConfigOptions["_POLLY_CFLAGS"] != pollyFlags {
		t.Errorf("_POLLY_CFLAGS = %q", out2.ConfigOptions["_POLLY_CFLAGS"])
	}
}
