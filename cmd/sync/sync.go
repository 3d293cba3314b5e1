package sync

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fontsync/fontsync/cmd/util"
	"github.com/fontsync/fontsync/pkg/config"
	"github.com/fontsync/fontsync/pkg/errors"
	"github.com/fontsync/fontsync/pkg/fingerprint"
	"github.com/fontsync/fontsync/pkg/install"
	"github.com/fontsync/fontsync/pkg/reconcile"
	"github.com/fontsync/fontsync/pkg/transfer"
)

type flags struct {
	interactive  bool
	downloadOnly bool
	uploadOnly   bool
}

// New creates a new `sync` command.
func New() *cobra.Command {
	var parsed flags
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the local font directories with the store once.",
		Run: func(_ *cobra.Command, _ []string) {
			if parsed.downloadOnly && parsed.uploadOnly {
				util.HandleFatalError(errors.New(
					"--download-only and --upload-only are mutually exclusive"))
			}

			cfg, err := config.Parse()
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "parse config"))
			}

			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg.Client, parsed); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().BoolVarP(&parsed.interactive, "interactive", "i", false,
		"prompt when a font differs on both sides")
	cmd.Flags().BoolVar(&parsed.downloadOnly, "download-only", false,
		"only download fonts missing locally")
	cmd.Flags().BoolVar(&parsed.uploadOnly, "upload-only", false,
		"only upload fonts missing from the store")
	return cmd
}

func run(ctx context.Context, cfg config.ClientConfig, parsed flags) error {
	local, localPaths, err := scanLocal(cfg.SyncDirs())
	if err != nil {
		return err
	}

	client := transfer.NewClient(cfg.ServerURL, cfg.DownloadDir)
	client.ShowProgress = true
	remote, err := client.ListRemote(ctx)
	if err != nil {
		return errors.WithContext(err, "list store fonts")
	}

	var policy reconcile.Policy = reconcile.NonInteractive{}
	if parsed.interactive {
		policy = &reconcile.Interactive{In: os.Stdin, Out: os.Stdout}
	}

	plan := filterPlan(reconcile.Reconcile(local, remote, policy), parsed)
	if plan.SkipOnly() {
		fmt.Println("Already in sync.")
		return nil
	}

	executor := reconcile.Executor{Transfer: client}
	if cfg.Install {
		executor.Installer = install.New()
	}

	res, err := executor.Execute(ctx, plan, localPaths)
	if err != nil {
		return err
	}

	fmt.Printf("Uploaded %d, downloaded %d, skipped %d.\n",
		res.Uploaded, res.Downloaded, res.Skipped)
	if len(res.Failures) != 0 {
		return errors.New(fmt.Sprintf(
			"%d fonts failed to sync", len(res.Failures)))
	}
	return nil
}

// scanLocal fingerprints every configured font directory. Directories that
// don't exist yet are skipped rather than failing the whole run.
func scanLocal(dirs []string) (fingerprint.Inventory, map[string]string, error) {
	store := fingerprint.NewStore()
	for _, dir := range dirs {
		if _, err := store.Scan(dir); err != nil {
			if _, ok := err.(errors.FileNotFound); ok {
				log.WithField("dir", dir).Debug("Font directory doesn't exist; skipping")
				continue
			}
			return nil, nil, errors.WithContext(err, "scan fonts")
		}
	}

	localPaths := map[string]string{}
	for _, record := range store.Snapshot() {
		localPaths[record.Name] = record.Path
	}
	return store.Inventory(), localPaths, nil
}

func filterPlan(plan reconcile.Plan, parsed flags) reconcile.Plan {
	if !parsed.downloadOnly && !parsed.uploadOnly {
		return plan
	}

	filtered := make(reconcile.Plan, 0, len(plan))
	for _, step := range plan {
		keep := step.Action == reconcile.ActionSkip ||
			(parsed.downloadOnly && step.Action == reconcile.ActionDownload) ||
			(parsed.uploadOnly && step.Action == reconcile.ActionUpload)
		if keep {
			filtered = append(filtered, step)
		}
	}
	return filtered
}
