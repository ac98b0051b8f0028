package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jbweber/homelab/standctl/internal/builder"
	"github.com/jbweber/homelab/standctl/internal/config"
	"github.com/jbweber/homelab/standctl/internal/virsh"
)

var (
	buildConfigFile string
	buildDepsDir    string
	buildDir        string
	buildOutputDir  string
	buildDevKeyPath string
	buildForce      bool
)

var buildCmd = &cobra.Command{
	Use:   "build <project_dir>",
	Short: "Build the project's images",
	Long: `Run every build section of the project configuration: fetch the
declared dependencies, render the packer files and build each element
image.`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVarP(&buildConfigFile, "config", "c", config.DefaultFileName,
		"Name of the project configuration file")
	buildCmd.Flags().StringVar(&buildDepsDir, "deps-dir", "",
		"Directory where dependencies are fetched (default: temporary)")
	buildCmd.Flags().StringVar(&buildDir, "build-dir", "",
		"Directory for rendered build files (default: temporary)")
	buildCmd.Flags().StringVar(&buildOutputDir, "output-dir", config.DefaultOutputDirName,
		"Directory for output artifacts")
	buildCmd.Flags().StringVarP(&buildDevKeyPath, "developer-key-path", "i", "",
		"Path to a developer public key")
	buildCmd.Flags().BoolVarP(&buildForce, "force", "f", false,
		"Rebuild even if the output directory already exists")
}

func runBuild(cmd *cobra.Command, args []string) error {
	log, err := initLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	projectDir := args[0]

	if _, err := os.Stat(buildOutputDir); err == nil {
		if !buildForce {
			return fmt.Errorf("the %s directory already exists, use --force to rebuild", buildOutputDir)
		}
		if err := os.RemoveAll(buildOutputDir); err != nil {
			return err
		}
	}

	devKeys, err := config.DevKeys(buildDevKeyPath)
	if err != nil {
		return err
	}

	cfg, err := config.Load(projectDir, buildConfigFile)
	if err != nil {
		return err
	}
	if len(cfg.Builds) == 0 {
		log.Warn("no builds found in the configuration")
		return nil
	}

	runner := &virsh.ExecRunner{}
	packer := builder.NewPackerBuilder(buildOutputDir, runner, log)
	ctx := context.Background()

	for section, build := range cfg.Builds {
		log.Info("running build section", zap.String("section", section))
		b := builder.New(cfg.WorkDir, build, packer, runner, log)

		depsDir := buildDepsDir
		if depsDir == "" {
			tmp, err := os.MkdirTemp("", "standctl-deps-*")
			if err != nil {
				return err
			}
			defer os.RemoveAll(tmp)
			depsDir = tmp
		}

		if err := b.FetchDependencies(ctx, depsDir); err != nil {
			return err
		}
		if err := b.Build(ctx, buildDir, devKeys); err != nil {
			return err
		}
	}
	return nil
}
