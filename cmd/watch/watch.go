package watch

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fontsync/fontsync/cmd/util"
	"github.com/fontsync/fontsync/pkg/analytics"
	hubclient "github.com/fontsync/fontsync/pkg/hub/client"

	"github.com/fontsync/fontsync/pkg/config"
	"github.com/fontsync/fontsync/pkg/errors"
	"github.com/fontsync/fontsync/pkg/fingerprint"
	"github.com/fontsync/fontsync/pkg/install"
	"github.com/fontsync/fontsync/pkg/protocol"
	"github.com/fontsync/fontsync/pkg/reconcile"
	"github.com/fontsync/fontsync/pkg/transfer"
	"github.com/fontsync/fontsync/pkg/watch"
)

// resyncInterval bounds how stale a client can get if every notification
// between two syncs is lost.
const resyncInterval = 5 * time.Minute

// New creates a new `watch` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Continuously keep the local font directories in sync with the store.",
		Run: func(_ *cobra.Command, _ []string) {
			cfg, err := config.Parse()
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "parse config"))
			}

			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg.Client); err != nil && err != context.Canceled {
				util.HandleFatalError(err)
			}
		},
	}
}

func run(ctx context.Context, cfg config.ClientConfig) error {
	// The download directory is watched along with the font directories so
	// fetched fonts join the local inventory instead of being fetched again
	// on the next trigger.
	syncDirs := cfg.SyncDirs()
	for _, dir := range syncDirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.WithContext(err, "create font dir")
		}
	}

	store := fingerprint.NewStore()
	watcher, err := watch.New(store, syncDirs)
	if err != nil {
		return errors.WithContext(err, "create watcher")
	}

	notifications, err := hubclient.Dial(cfg.HubAddr)
	if err != nil {
		return errors.WithContext(err, "connect to hub")
	}
	analytics.SetSession(notifications.SessionID())
	log.WithField("session", notifications.SessionID()).
		WithField("hub", cfg.HubAddr).
		Info("Connected to notification hub")

	syncer := syncer{
		store:  store,
		client: transfer.NewClient(cfg.ServerURL, cfg.DownloadDir),
	}
	if cfg.Install {
		syncer.installer = install.New()
	}

	// Resyncs are edge-triggered with a capacity-one channel: any number of
	// kicks while a sync is running collapse into one followup sync.
	trigger := make(chan struct{}, 1)
	kick(trigger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(ctx)
	})
	g.Go(func() error {
		for range watcher.Events() {
			kick(trigger)
		}
		return nil
	})
	g.Go(func() error {
		return notifications.Run(ctx, func(msg protocol.Message) {
			switch msg.(type) {
			case protocol.FontAdded, protocol.FontModified, protocol.FontRemoved:
				kick(trigger)
			}
		})
	})
	g.Go(func() error {
		return syncer.loop(ctx, trigger)
	})
	return g.Wait()
}

func kick(trigger chan<- struct{}) {
	select {
	case trigger <- struct{}{}:
	default:
	}
}

type syncer struct {
	store     *fingerprint.Store
	client    *transfer.Client
	installer reconcile.Installer
}

// loop reconciles whenever it's kicked, and periodically as a backstop.
func (s syncer) loop(ctx context.Context, trigger <-chan struct{}) error {
	ticker := time.NewTicker(resyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-trigger:
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := s.sync(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithError(err).Warn("Sync failed; will retry on the next trigger")
		}
	}
}

func (s syncer) sync(ctx context.Context) error {
	remote, err := s.client.ListRemote(ctx)
	if err != nil {
		return errors.WithContext(err, "list store fonts")
	}

	localPaths := map[string]string{}
	for _, record := range s.store.Snapshot() {
		localPaths[record.Name] = record.Path
	}

	plan := reconcile.Reconcile(s.store.Inventory(), remote, reconcile.NonInteractive{})
	if plan.SkipOnly() {
		return nil
	}

	executor := reconcile.Executor{Transfer: s.client, Installer: s.installer}
	res, err := executor.Execute(ctx, plan, localPaths)
	if err != nil {
		return err
	}

	log.WithField("uploaded", res.Uploaded).
		WithField("downloaded", res.Downloaded).
		WithField("failed", len(res.Failures)).
		Info("Synced with the font store")
	return nil
}
