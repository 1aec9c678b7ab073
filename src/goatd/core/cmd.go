// Package core provides the goatd command-line entry point: a kernel build
// orchestrator driven from the shell instead of a UI shell's event stream.
package core

import (
	"fmt"
	"os"

	"github.com/MadGoatHaz/goatd-kernel/src/common/cli"
	"github.com/MadGoatHaz/goatd-kernel/src/common/logs"
	"github.com/MadGoatHaz/goatd-kernel/src/common/paths"
	"github.com/MadGoatHaz/goatd-kernel/src/common/version"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/registry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// VersionInfo holds version information - set at build time via ldflags
	VersionInfo = version.New()

	// Global logger instance
	log *logs.Logger

	// Configuration file path
	cfgFile string
)

// Linker variables - these are set via ldflags at build time
// They must be initialized as empty strings or literals for ldflags to work
var (
	Version        = "dev"
	ReleaseName    = "Phoenix"
	ReleaseVersion = "0.0.0"
	BuildDate      = "unknown"
	GitCommit      = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "goatd",
	Short: "Profile-driven Linux kernel build orchestrator",
	Long: `goatd resolves a finalized kernel configuration from a profile and
hardware snapshot, surgically patches a PKGBUILD and kernel .config so that
late-stage tooling cannot revert critical decisions, and drives the package
build to completion under a cancellable runtime.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command.
func Execute() {
	VersionInfo.Version = Version
	VersionInfo.ReleaseName = ReleaseName
	VersionInfo.ReleaseVersion = ReleaseVersion
	VersionInfo.BuildDate = BuildDate
	VersionInfo.GitCommit = GitCommit

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cli.RegisterConfigFlag(rootCmd, &cfgFile, "/etc/goatd/goatd.yaml")
	cli.RegisterLogFlags(rootCmd)

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(validateConfigCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(patchCmd)

	registerBuildFlags(buildCmd)
	registerValidateConfigFlags(validateConfigCmd)
	registerPatchFlags(patchCmd)

	viper.SetDefault("checkpoint.dir", "~/.goatd/checkpoints")
	viper.SetDefault("kernel.path", "~/.goatd/cache/linux")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() error {
	opts := cli.ConfigOptions{
		ConfigName: "goatd",
		ConfigType: "yaml",
		EnvPrefix:  "GOATD",
		SearchPaths: []string{
			"/etc/goatd",
			"/opt/goatd",
			"~/.goatd",
		},
	}
	opts.ConfigFile = cfgFile

	if err := cli.InitConfig(opts); err != nil {
		return err
	}

	log = cli.InitLogger("goatd")
	loadSourceOverrides(opts.SearchPaths)
	return nil
}

// loadSourceOverrides looks for sources.yaml alongside goatd.yaml and, if
// present, registers its "sources" map as Source Registry overrides. A
// missing file is not an error: the compiled-in defaultSources stand.
func loadSourceOverrides(searchPaths []string) {
	v := viper.New()
	v.SetConfigName("sources")
	v.SetConfigType("yaml")
	for _, p := range searchPaths {
		v.AddConfigPath(paths.Expand(p))
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("sources.yaml found but could not be read, using default source registry", "err", err)
		}
		return
	}
	registry.LoadOverridesFromViper(v)
}
