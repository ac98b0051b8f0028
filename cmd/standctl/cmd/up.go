package cmd

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jbweber/homelab/standctl/internal/config"
	"github.com/jbweber/homelab/standctl/internal/domain"
	"github.com/jbweber/homelab/standctl/internal/probe"
)

var (
	upImage  string
	upCores  int
	upMemory int
	upName   string
	upCIDR   string
	upBridge string
	upDHCP   bool
	upForce  bool
	upNoWait bool
)

var upCmd = &cobra.Command{
	Use:   "up [project_dir]",
	Short: "Create and start a stand",
	Long: `Create a stand on the local hypervisor.

Without arguments a single-bootstrap stand is synthesized from flags.
With a project directory the full topology is read from the stand
section of its standctl.yaml.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUp,
}

func init() {
	rootCmd.AddCommand(upCmd)

	upCmd.Flags().StringVarP(&upImage, "image", "i", "", "Path to the bootstrap image")
	upCmd.Flags().IntVar(&upCores, "cores", 2, "Number of cores for the bootstrap VM")
	upCmd.Flags().IntVar(&upMemory, "memory", 4096, "Memory in MiB for the bootstrap VM")
	upCmd.Flags().StringVar(&upName, "name", "stand", "Name of the stand")
	upCmd.Flags().StringVar(&upCIDR, "cidr", "192.168.4.0/22", "Network CIDR")
	upCmd.Flags().StringVar(&upBridge, "bridge", "", "Existing linux bridge to attach to instead of a managed network")
	upCmd.Flags().BoolVar(&upDHCP, "dhcp", false, "Enable DHCP on the managed network")
	upCmd.Flags().BoolVarP(&upForce, "force", "f", false, "Recreate the stand if it already exists")
	upCmd.Flags().BoolVar(&upNoWait, "no-wait", false, "Do not wait for the stand to become reachable")
}

func runUp(cmd *cobra.Command, args []string) error {
	log, err := initLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	stand, err := upStand(args)
	if err != nil {
		return err
	}

	driver := newDriver(log)
	ctx := context.Background()

	if upForce {
		existing, err := driver.GetStand(ctx, stand.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			log.Info("destroying existing stand", zap.String("stand", stand.Name))
			if err := driver.DeleteStand(ctx, existing); err != nil {
				return err
			}
		}
	}

	if err := driver.CreateStand(ctx, stand); err != nil {
		return err
	}
	log.Info("stand created", zap.String("stand", stand.Name))

	if upNoWait {
		return nil
	}
	if !stand.Network.DHCP {
		log.Warn("cannot detect an address on a network without DHCP")
		return nil
	}

	var ip string
	err = probe.WaitFor(ctx, func(ctx context.Context) (bool, error) {
		var ipErr error
		ip, ipErr = driver.BootstrapIP(ctx, stand)
		if ipErr != nil {
			return false, ipErr
		}
		return ip != "", nil
	}, 2*time.Minute, 0)
	if err != nil {
		return fmt.Errorf("stand %s never acquired a lease: %w", stand.Name, err)
	}

	if err := probe.WaitForSSH(ctx, ip, 2*time.Minute); err != nil {
		return fmt.Errorf("stand %s is not reachable over SSH: %w", stand.Name, err)
	}

	fmt.Printf("The stand %s is ready at:\nssh ubuntu@%s\n", stand.Name, ip)
	return nil
}

// upStand builds the topology from a project config or from flags
func upStand(args []string) (*domain.Stand, error) {
	if len(args) == 1 {
		cfg, err := config.Load(args[0], "")
		if err != nil {
			return nil, err
		}
		if cfg.Stand == nil {
			return nil, fmt.Errorf("no stand section in project configuration")
		}
		stand, err := cfg.Stand.Stand()
		if err != nil {
			return nil, err
		}
		if stand.HasBootstrapImage() {
			return stand, nil
		}
		if upImage == "" {
			return nil, fmt.Errorf("no bootstrap image in configuration and no --image flag")
		}
		stand.SetBootstrapImage(absPath(upImage))
		return stand, nil
	}

	if upImage == "" {
		return nil, fmt.Errorf("no image path specified")
	}
	if _, err := os.Stat(upImage); err != nil {
		return nil, fmt.Errorf("image not found: %w", err)
	}

	network, err := upNetwork()
	if err != nil {
		return nil, err
	}
	stand := domain.SingleBootstrapStand(
		upName, upName+"-bootstrap", absPath(upImage), upCores, upMemory, network)
	return stand, nil
}

func upNetwork() (domain.Network, error) {
	if upBridge != "" {
		// The bridge is owned by the user, never created or removed
		cidr, err := netip.ParsePrefix(upCIDR)
		if err != nil {
			return domain.Network{}, fmt.Errorf("invalid CIDR %q: %w", upCIDR, err)
		}
		return domain.Network{Name: upBridge, CIDR: cidr, DHCP: false, Managed: false}, nil
	}

	cidr, err := netip.ParsePrefix(upCIDR)
	if err != nil {
		return domain.Network{}, fmt.Errorf("invalid CIDR %q: %w", upCIDR, err)
	}
	return domain.Network{
		Name:    upName + "-net",
		CIDR:    cidr,
		DHCP:    upDHCP,
		Managed: true,
	}, nil
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
