package patcher

import (
	"strings"

	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/models"
)

// pollyVars extracts the _POLLY_CFLAGS/_POLLY_CXXFLAGS/_POLLY_LDFLAGS
// signalling keys the Finalizer derived into the export map
// InjectPollyFlags expects, or nil when Polly is not in play.
func pollyVars(options map[string]string) map[string]string {
	out := map[string]string{}
	for signal, export := range map[string]string{
		"_POLLY_CFLAGS":   "CFLAGS",
		"_POLLY_CXXFLAGS": "CXXFLAGS",
		"_POLLY_LDFLAGS":  "LDFLAGS",
	} {
		if v, ok := options[signal]; ok {
			out[export] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ExecuteFullPatchWithEnv runs every Surgical Patcher operation in the
// fixed order: 3 → 4 → 5 → 6 → 7 → 13 → 14 → 15 → 16
// → 11 → 12 → 8 → 9 → 10 → 17. Operations 6, 7, 8, 9 are best-effort: a
// missing target file is logged and tolerated (e.g. LTO shielding with no
// kernel tree present during a dry run). Every other operation, including
// the critical apply_kconfig (10), aborts the whole patch on failure.
func (p *Patcher) ExecuteFullPatchWithEnv(metadataVars map[string]string, cfg *models.FinalizedConfig, buildEnv map[string]string) error {
	profile := strings.ToLower(string(cfg.Profile))

	// 3
	if err := p.InjectPKGBUILDMetadataVariables(metadataVars); err != nil {
		return err
	}
	// 4
	if err := p.PatchPKGBUILDForRebranding(profile); err != nil {
		return err
	}
	// 5
	if err := p.InjectClangIntoPKGBUILD(cfg.NativeOptimizations); err != nil {
		return err
	}
	// 6 — best-effort
	if err := p.FixRustRmetaInstallation(); err != nil {
		log.Warn("rust rmeta installation fix failed, continuing", "err", err)
	}
	// 7 — best-effort
	if err := p.RemoveStripVerboseFlag(); err != nil {
		log.Warn("strip -v removal failed, continuing", "err", err)
	}
	// 13
	if err := p.InjectModprobedLocalmodconfig(cfg.UseModprobed); err != nil {
		return err
	}
	// 14
	if err := p.InjectPostModprobedHardEnforcer(cfg.UseModprobed); err != nil {
		return err
	}
	// 15
	if err := p.InjectPostSettingConfigRestorer(cfg.UseModprobed); err != nil {
		return err
	}
	// 16
	if err := p.InjectKernelWhitelist(cfg.UseWhitelist); err != nil {
		return err
	}
	// 11
	if err := p.InjectPrebuildLTOHardEnforcer(cfg.LTOType); err != nil {
		return err
	}
	// 12
	if err := p.InjectPostOldconfigLTOPatch(cfg.LTOType); err != nil {
		return err
	}
	// 8 — best-effort
	if err := p.ShieldLTO(cfg.LTOShieldModules); err != nil {
		log.Warn("GPU LTO shielding failed, continuing", "err", err)
	}
	// 9 — best-effort
	if err := p.RemoveICFFlags(); err != nil {
		log.Warn("ICF flag removal failed, continuing", "err", err)
	}
	// 10 — critical
	if err := p.ApplyKconfig(cfg.ConfigOptions, cfg.LTOType); err != nil {
		return err
	}
	// 17
	if err := p.InjectBuildEnvironmentVariables(buildEnv); err != nil {
		return err
	}
	if cfg.UsePolly {
		if err := p.InjectPollyFlags(pollyVars(cfg.ConfigOptions)); err != nil {
			return err
		}
	}

	return nil
}
