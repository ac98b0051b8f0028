package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List stands running on this host",
	RunE:  runPs,
}

func init() {
	rootCmd.AddCommand(psCmd)
}

func runPs(cmd *cobra.Command, args []string) error {
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

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tNETWORK\tBOOTSTRAPS\tBAREMETALS\tIP\tSTATUS")
	for _, s := range stands {
		ip, err := driver.BootstrapIP(ctx, s)
		if err != nil || ip == "" {
			ip = "-"
		}

		status := "ok"
		if !s.IsValid() {
			status = "invalid"
		}
		if len(s.Quarantined) > 0 {
			status = fmt.Sprintf("quarantined(%s)", strings.Join(s.Quarantined, ","))
		}

		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			s.Name, s.Network.Name, len(s.Bootstraps), len(s.Baremetals), ip, status)
	}
	return w.Flush()
}
