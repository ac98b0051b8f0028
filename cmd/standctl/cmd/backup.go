package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jbweber/homelab/standctl/internal/backup"
	"github.com/jbweber/homelab/standctl/internal/virsh"
)

var (
	backupDirFlag    string
	backupCompress   bool
	backupEncrypt    bool
	backupMinFree    int
	backupCatalogDB  string
	backupRotateMax  int
	backupHistLimit  int
	backupHistDomain string
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up stand domains",
}

var backupRunCmd = &cobra.Command{
	Use:   "run [stand]",
	Short: "Back up the domains of a stand, or every stand",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBackupRun,
}

var backupRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Remove backups beyond the retention limit",
	Args:  cobra.NoArgs,
	RunE:  runBackupRotate,
}

var backupHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded backup runs",
	Args:  cobra.NoArgs,
	RunE:  runBackupHistory,
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupRunCmd, backupRotateCmd, backupHistoryCmd)

	backupCmd.PersistentFlags().StringVar(&backupDirFlag, "dir", "backups",
		"Directory where backups are stored")
	backupCmd.PersistentFlags().StringVar(&backupCatalogDB, "catalog", "",
		"Path to the backup history database (empty disables history)")

	backupRunCmd.Flags().BoolVar(&backupCompress, "compress", false,
		"Compress the backup into a tar.gz archive")
	backupRunCmd.Flags().BoolVar(&backupEncrypt, "encrypt", false,
		fmt.Sprintf("Encrypt the compressed backup (%s and %s required)",
			backup.EnvBackupKey, backup.EnvBackupIV))
	backupRunCmd.Flags().IntVar(&backupMinFree, "min-free", backup.DefaultMinFreeGiB,
		"Minimum free disk space in GiB required to back up")

	backupRotateCmd.Flags().IntVar(&backupRotateMax, "max", 0,
		"Number of backups to keep (0 keeps everything)")

	backupHistoryCmd.Flags().IntVar(&backupHistLimit, "limit", 20,
		"Number of runs to show (0 shows everything)")
	backupHistoryCmd.Flags().StringVar(&backupHistDomain, "domain", "",
		"Show only runs for this domain")
}

func runBackupRun(cmd *cobra.Command, args []string) error {
	log, err := initLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	opts := backup.Options{
		Compress:   backupCompress,
		MinFreeGiB: backupMinFree,
	}
	if backupEncrypt {
		creds, err := backup.CredsFromEnv()
		if err != nil {
			return err
		}
		opts.Compress = true
		opts.Creds = creds
	}

	ctx := context.Background()
	driver := newDriver(log)

	var domains []string
	if len(args) == 1 {
		stand, err := driver.GetStand(ctx, args[0])
		if err != nil {
			return err
		}
		if stand == nil {
			return fmt.Errorf("stand %q not found", args[0])
		}
		domains = stand.DomainNames()
	} else {
		stands, err := driver.ListStands(ctx)
		if err != nil {
			return err
		}
		for _, s := range stands {
			domains = append(domains, s.DomainNames()...)
		}
	}
	if len(domains) == 0 {
		log.Warn("nothing to back up")
		return nil
	}

	var catalog *backup.Catalog
	if backupCatalogDB != "" {
		catalog, err = backup.OpenCatalog(backupCatalogDB)
		if err != nil {
			return err
		}
		defer catalog.Close()
	}

	backuper := backup.NewBackuper(virsh.New(), catalog, log)
	path, err := backuper.Run(ctx, backupDirFlag, domains, opts)
	if err != nil {
		return err
	}
	log.Info("backup complete", zap.String("path", path))
	fmt.Println(path)
	return nil
}

func runBackupRotate(cmd *cobra.Command, args []string) error {
	log, err := initLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	removed, err := backup.Rotate(backupDirFlag, backupRotateMax)
	if err != nil {
		return err
	}
	for _, path := range removed {
		log.Info("removed backup", zap.String("path", path))
	}
	fmt.Printf("Removed %d backups\n", len(removed))
	return nil
}

func runBackupHistory(cmd *cobra.Command, args []string) error {
	if backupCatalogDB == "" {
		return fmt.Errorf("--catalog is required for history")
	}

	catalog, err := backup.OpenCatalog(backupCatalogDB)
	if err != nil {
		return err
	}
	defer catalog.Close()

	ctx := context.Background()
	var runs []backup.Run
	if backupHistDomain != "" {
		runs, err = catalog.HistoryForDomain(ctx, backupHistDomain)
	} else {
		runs, err = catalog.History(ctx, backupHistLimit)
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDOMAIN\tSTARTED\tDURATION\tSIZE\tSTATUS")
	for _, r := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.1fs\t%s\t%s\n",
			r.ID, r.Domain, r.StartedAt.Format(time.RFC3339),
			r.Duration, formatSize(r.SizeBytes), r.Status)
	}
	return w.Flush()
}

func formatSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
