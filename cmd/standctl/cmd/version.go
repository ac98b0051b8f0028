package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jbweber/homelab/standctl/internal/virsh"
)

var versionProjectDir string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVar(&versionProjectDir, "project", "",
		"Also print a project version derived from its git tags")
}

func runVersion(cmd *cobra.Command, args []string) error {
	fmt.Println(versionString())

	if versionProjectDir != "" {
		v, err := projectVersion(context.Background(), versionProjectDir)
		if err != nil {
			return err
		}
		fmt.Printf("project: %s\n", v)
	}
	return nil
}

// projectVersion derives a version from the project's git tags, falling
// back to the short commit hash when no tag is reachable.
func projectVersion(ctx context.Context, dir string) (string, error) {
	runner := virsh.ExecRunner{}

	out, err := runner.Output(ctx, "git", "-C", dir, "describe", "--tags", "--always")
	if err != nil {
		return "", fmt.Errorf("failed to read project version: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}
