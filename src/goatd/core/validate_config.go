package core

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/finalizer"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/models"
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Resolve a finalized configuration from a profile and hardware snapshot, without building",
	RunE:  runValidateConfig,
}

func registerValidateConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("profile", "gaming", "Performance profile: gaming, workstation, server, laptop, generic")
	cmd.Flags().Int("cpu-cores", 0, "Physical CPU core count")
	cmd.Flags().Int("ram-gb", 0, "Installed RAM in GB")
	cmd.Flags().String("gpu-vendor", "unknown", "GPU vendor: amd, nvidia, intel, unknown")

	_ = viper.BindPFlag("validate.profile", cmd.Flags().Lookup("profile"))
	_ = viper.BindPFlag("validate.cpu_cores", cmd.Flags().Lookup("cpu-cores"))
	_ = viper.BindPFlag("validate.ram_gb", cmd.Flags().Lookup("ram-gb"))
	_ = viper.BindPFlag("validate.gpu_vendor", cmd.Flags().Lookup("gpu-vendor"))
}

func runValidateConfig(cmd *cobra.Command, args []string) error {
	profile := models.Profile(viper.GetString("validate.profile"))
	if _, ok := models.Profiles[profile]; !ok {
		return fmt.Errorf("unknown profile %q", profile)
	}

	hardware := models.HardwareInfo{
		CPUCores:  viper.GetInt("validate.cpu_cores"),
		RAMGB:     viper.GetInt("validate.ram_gb"),
		GPUVendor: models.GPUVendor(viper.GetString("validate.gpu_vendor")),
	}

	userConfig := models.NewKernelConfig()
	userConfig.Profile = profile

	finalized, err := finalizer.Finalize(userConfig, hardware)
	if err != nil {
		return fmt.Errorf("finalize configuration: %w", err)
	}

	out, err := json.MarshalIndent(finalized, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal finalized config: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
