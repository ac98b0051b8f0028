package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

var sshUser string

var sshCmd = &cobra.Command{
	Use:   "ssh [stand]",
	Short: "Connect to a stand's bootstrap over SSH",
	Long: `Resolve the DHCP lease of the stand's bootstrap and exec ssh to it.
When only one stand exists the name may be omitted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSSH,
}

func init() {
	rootCmd.AddCommand(sshCmd)

	sshCmd.Flags().StringVarP(&sshUser, "user", "u", "ubuntu", "Username to connect with")
}

func runSSH(cmd *cobra.Command, args []string) error {
	log, err := initLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	driver := newDriver(log)
	ctx := context.Background()

	stands, err := driver.ListStands(ctx)
	if err != nil {
		return err
	}

	var name string
	switch {
	case len(args) == 1:
		name = args[0]
	case len(stands) == 1:
		name = stands[0].Name
	case len(stands) == 0:
		return fmt.Errorf("no stands found")
	default:
		return fmt.Errorf("multiple stands found, specify one")
	}

	var ip string
	for _, s := range stands {
		if s.Name != name {
			continue
		}
		ip, err = driver.BootstrapIP(ctx, s)
		if err != nil {
			return err
		}
	}
	if ip == "" {
		return fmt.Errorf("stand %s has no address yet", name)
	}

	ssh := exec.Command("ssh", fmt.Sprintf("%s@%s", sshUser, ip))
	ssh.Stdin = os.Stdin
	ssh.Stdout = os.Stdout
	ssh.Stderr = os.Stderr
	return ssh.Run()
}
