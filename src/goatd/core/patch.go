package core

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MadGoatHaz/goatd-kernel/src/common/paths"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/finalizer"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/models"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/patcher"
)

var patchCmd = &cobra.Command{
	Use:   "patch",
	Short: "Apply the surgical PKGBUILD and .config transforms in place, without building",
	RunE:  runPatch,
}

func registerPatchFlags(cmd *cobra.Command) {
	cmd.Flags().String("kernel-path", "", "Workspace directory containing the PKGBUILD (required)")
	cmd.Flags().String("profile", "gaming", "Performance profile: gaming, workstation, server, laptop, generic")
	cmd.Flags().Int("cpu-cores", 0, "Physical CPU core count")
	cmd.Flags().Int("ram-gb", 0, "Installed RAM in GB")
	cmd.Flags().String("gpu-vendor", "unknown", "GPU vendor: amd, nvidia, intel, unknown")
	_ = cmd.MarkFlagRequired("kernel-path")

	_ = viper.BindPFlag("patch.kernel_path", cmd.Flags().Lookup("kernel-path"))
	_ = viper.BindPFlag("patch.profile", cmd.Flags().Lookup("profile"))
	_ = viper.BindPFlag("patch.cpu_cores", cmd.Flags().Lookup("cpu-cores"))
	_ = viper.BindPFlag("patch.ram_gb", cmd.Flags().Lookup("ram-gb"))
	_ = viper.BindPFlag("patch.gpu_vendor", cmd.Flags().Lookup("gpu-vendor"))
}

func runPatch(cmd *cobra.Command, args []string) error {
	kernelPath := paths.Expand(viper.GetString("patch.kernel_path"))
	if kernelPath == "" {
		return fmt.Errorf("--kernel-path is required")
	}

	profile := models.Profile(viper.GetString("patch.profile"))
	if _, ok := models.Profiles[profile]; !ok {
		return fmt.Errorf("unknown profile %q", profile)
	}

	hardware := models.HardwareInfo{
		CPUCores:  viper.GetInt("patch.cpu_cores"),
		RAMGB:     viper.GetInt("patch.ram_gb"),
		GPUVendor: models.GPUVendor(viper.GetString("patch.gpu_vendor")),
	}

	userConfig := models.NewKernelConfig()
	userConfig.Profile = profile

	finalized, err := finalizer.Finalize(userConfig, hardware)
	if err != nil {
		return fmt.Errorf("finalize configuration: %w", err)
	}

	metadataVars := map[string]string{
		"GOATD_LTO_TYPE": string(finalized.LTOType),
		"GOATD_PROFILE":  string(finalized.Profile),
	}
	buildEnv := patcher.PrepareBuildEnvironment(finalized.NativeOptimizations, os.Getenv("PATH"))

	p := patcher.New(kernelPath)
	if err := p.ExecuteFullPatchWithEnv(metadataVars, finalized, buildEnv); err != nil {
		return fmt.Errorf("patch: %w", err)
	}

	log.Info("patch applied", "kernel_path", kernelPath, "profile", strings.ToLower(string(profile)))
	return nil
}
