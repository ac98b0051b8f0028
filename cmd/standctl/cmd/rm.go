package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rmCmd = &cobra.Command{
	Use:   "rm <stand>",
	Short: "Delete a stand",
	Long: `Tear down a stand: its domains first, then its managed network.
Deleting a stand that is already gone is not an error.`,
	Args: cobra.ExactArgs(1),
	RunE: runRm,
}

func init() {
	rootCmd.AddCommand(rmCmd)
}

func runRm(cmd *cobra.Command, args []string) error {
	log, err := initLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	name := args[0]
	driver := newDriver(log)
	ctx := context.Background()

	stand, err := driver.GetStand(ctx, name)
	if err != nil {
		return err
	}
	if stand == nil {
		log.Warn("stand not found", zap.String("stand", name))
		return nil
	}

	if err := driver.DeleteStand(ctx, stand); err != nil {
		return err
	}
	fmt.Printf("Destroyed stand: %s\n", name)
	return nil
}
