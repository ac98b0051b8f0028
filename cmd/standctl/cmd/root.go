package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jbweber/homelab/standctl/internal/infra"
	"github.com/jbweber/homelab/standctl/internal/virsh"
)

var (
	// Version information (set at build time via ldflags)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	logLevel string
	poolPath string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "standctl",
	Short: "standctl - declarative multi-VM test stands on one libvirt host",
	Long: `standctl manages stands: small declarative VM environments on a
single libvirt host. A stand is one network, one bootstrap VM and any
number of diskful baremetal VMs. No state is kept anywhere except the
hypervisor itself; every listing is reconstructed from domain metadata.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&poolPath, "pool", "",
		"Storage pool path for images and disks")
}

func initLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}

	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return config.Build()
}

func newDriver(log *zap.Logger) *infra.Driver {
	return infra.New(virsh.New(), poolPath, log)
}

// versionString returns formatted version information
func versionString() string {
	return fmt.Sprintf("standctl %s (commit: %s, built: %s)",
		Version, Commit, BuildDate)
}
