package core

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/MadGoatHaz/goatd-kernel/src/common/logs"
	"github.com/MadGoatHaz/goatd-kernel/src/common/paths"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/execrun"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/finalizer"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/logcollector"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/models"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/orchestrator"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Resolve a finalized configuration and drive a kernel build to completion",
	RunE:  runBuild,
}

func registerBuildFlags(cmd *cobra.Command) {
	cmd.Flags().String("profile", "gaming", "Performance profile: gaming, workstation, server, laptop, generic")
	cmd.Flags().String("variant", "linux", "Kernel variant name, used to resolve a clone URL when no PKGBUILD is present")
	cmd.Flags().String("kernel-path", "~/.goatd/cache/linux", "Workspace directory containing (or to receive) the PKGBUILD")
	cmd.Flags().String("checkpoint-dir", "~/.goatd/checkpoints", "Directory for checkpoint snapshots")
	cmd.Flags().Int("cpu-cores", 0, "Physical CPU core count (hardware snapshot input)")
	cmd.Flags().Int("ram-gb", 0, "Installed RAM in GB (hardware snapshot input)")
	cmd.Flags().String("gpu-vendor", "unknown", "GPU vendor: amd, nvidia, intel, unknown")
	cmd.Flags().Bool("install", false, "Install the built package via the system package manager on success")
	cmd.Flags().Bool("dry-run", false, "Validate and patch without invoking the packager (GOATD_DRY_RUN_HOOK)")

	_ = viper.BindPFlag("build.profile", cmd.Flags().Lookup("profile"))
	_ = viper.BindPFlag("build.variant", cmd.Flags().Lookup("variant"))
	_ = viper.BindPFlag("build.kernel_path", cmd.Flags().Lookup("kernel-path"))
	_ = viper.BindPFlag("checkpoint.dir", cmd.Flags().Lookup("checkpoint-dir"))
	_ = viper.BindPFlag("hardware.cpu_cores", cmd.Flags().Lookup("cpu-cores"))
	_ = viper.BindPFlag("hardware.ram_gb", cmd.Flags().Lookup("ram-gb"))
	_ = viper.BindPFlag("hardware.gpu_vendor", cmd.Flags().Lookup("gpu-vendor"))
	_ = viper.BindPFlag("build.install", cmd.Flags().Lookup("install"))
	_ = viper.BindPFlag("build.dry_run", cmd.Flags().Lookup("dry-run"))
}

func runBuild(cmd *cobra.Command, args []string) error {
	profile := models.Profile(viper.GetString("build.profile"))
	if _, ok := models.Profiles[profile]; !ok {
		return fmt.Errorf("unknown profile %q", profile)
	}

	hardware := models.HardwareInfo{
		CPUCores:  viper.GetInt("hardware.cpu_cores"),
		RAMGB:     viper.GetInt("hardware.ram_gb"),
		GPUVendor: models.GPUVendor(viper.GetString("hardware.gpu_vendor")),
	}

	userConfig := models.NewKernelConfig()
	userConfig.Profile = profile
	userConfig.ConfigOptions["_KERNEL_VARIANT"] = viper.GetString("build.variant")

	finalized, err := finalizer.Finalize(userConfig, hardware)
	if err != nil {
		return fmt.Errorf("finalize configuration: %w", err)
	}

	if viper.GetBool("build.dry_run") {
		if err := os.Setenv(execrun.DryRunHookEnv, "1"); err != nil {
			return fmt.Errorf("enable dry run: %w", err)
		}
	}

	runID := uuid.NewString()
	kernelPath := paths.Expand(viper.GetString("build.kernel_path"))
	checkpointDir := paths.Expand(viper.GetString("checkpoint.dir"))

	events := make(chan models.BuildEvent, 64)
	cancel := make(chan struct{})

	collector, err := logcollector.New(checkpointDir, runID, events)
	if err != nil {
		return fmt.Errorf("create log collector: %w", err)
	}
	defer collector.Close()

	orc, err := orchestrator.New(runID, hardware, finalized, checkpointDir, kernelPath, events, cancel, collector)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go watchCancellation(ctx, cancel)
	go drainEvents(events, log)

	if err := orc.Run(ctx); err != nil {
		return fmt.Errorf("build run %s failed: %w", runID, err)
	}

	if viper.GetBool("build.install") {
		if err := orc.Install(ctx); err != nil {
			return fmt.Errorf("install: %w", err)
		}
	}

	snap := orc.Snapshot()
	log.Info("build finished", "run_id", runID, "phase", snap.Phase, "progress", snap.Progress, "elapsed", snap.ElapsedSinceStart())
	return nil
}

// watchCancellation closes cancel exactly once, the moment ctx is done, so
// the orchestrator's single-producer cancellation watch is honoured.
func watchCancellation(ctx context.Context, cancel chan struct{}) {
	<-ctx.Done()
	close(cancel)
}

// drainEvents renders the event stream either as a live-updating progress
// line (an interactive terminal) or as plain scrollback log lines
// (redirected to a file or pipe), mirroring how CLIs tell an interactive
// session from a piped one before choosing a rendering strategy.
func drainEvents(events <-chan models.BuildEvent, log *logs.Logger) {
	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	for evt := range events {
		switch evt.Kind {
		case models.EventPhaseChanged:
			if interactive {
				fmt.Fprintln(os.Stdout)
			}
			log.Info("phase changed", "phase", evt.PhaseName)
		case models.EventProgress:
			if interactive {
				fmt.Fprintf(os.Stdout, "\r[%3.0f%%] building...", evt.Progress*100)
				continue
			}
			log.Debug("progress", "percent", evt.Progress)
		case models.EventError:
			log.Error("build error", "detail", evt.Text)
		case models.EventStatusUpdate:
			if interactive {
				fmt.Fprintf(os.Stdout, "\r%s", evt.Text)
				continue
			}
			log.Info(evt.Text)
		default:
			log.Debug(evt.Text)
		}
	}
	if interactive {
		fmt.Fprintln(os.Stdout)
	}
}
