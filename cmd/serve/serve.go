package serve

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fontsync/fontsync/cmd/util"
	"github.com/fontsync/fontsync/pkg/config"
	"github.com/fontsync/fontsync/pkg/errors"
	"github.com/fontsync/fontsync/pkg/fingerprint"
	"github.com/fontsync/fontsync/pkg/hub"
	"github.com/fontsync/fontsync/pkg/protocol"
	"github.com/fontsync/fontsync/pkg/transfer"
	"github.com/fontsync/fontsync/pkg/watch"
)

// New creates a new `serve` command.
func New() *cobra.Command {
	var listenAddr, hubAddr, storeDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the font store server and notification hub.",
		Run: func(_ *cobra.Command, _ []string) {
			cfg, err := config.Parse()
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "parse config"))
			}
			if listenAddr != "" {
				cfg.Server.ListenAddr = listenAddr
			}
			if hubAddr != "" {
				cfg.Server.HubAddr = hubAddr
			}
			if storeDir != "" {
				cfg.Server.StoreDir = storeDir
			}

			if err := run(cfg.Server); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP address to serve fonts on")
	cmd.Flags().StringVar(&hubAddr, "hub", "", "address for the notification hub")
	cmd.Flags().StringVar(&storeDir, "store-dir", "", "directory holding the canonical fonts")
	return cmd
}

func run(cfg config.ServerConfig) error {
	if err := os.MkdirAll(cfg.StoreDir, 0755); err != nil {
		return errors.WithContext(err, "create store dir")
	}

	store := fingerprint.NewStore()
	watcher, err := watch.New(store, []string{cfg.StoreDir})
	if err != nil {
		return errors.WithContext(err, "create watcher")
	}

	notifier := hub.New(hub.DefaultConfig())
	server := transfer.NewServer(cfg.StoreDir, store, notifier)
	notifier.SetFontLister(server.FontList)

	hubListener, err := net.Listen("tcp", cfg.HubAddr)
	if err != nil {
		return errors.WithContext(err, "listen for hub sessions")
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("listen", cfg.ListenAddr).
		WithField("hub", cfg.HubAddr).
		WithField("store", cfg.StoreDir).
		Info("Starting font store")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(ctx)
	})
	g.Go(func() error {
		publishEvents(watcher.Events(), notifier)
		return nil
	})
	g.Go(func() error {
		return notifier.Serve(ctx, hubListener)
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return errors.WithContext(err, "serve http")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return httpServer.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// publishEvents forwards changes to the store directory to every connected
// session. Returns when the watcher closes its event channel.
func publishEvents(events <-chan watch.Event, notifier *hub.Hub) {
	for event := range events {
		switch event := event.(type) {
		case watch.Added:
			notifier.Publish(protocol.FontAdded{
				Filename: event.Record.Name,
				SHA256:   event.Record.ContentsHash,
				Size:     event.Record.Size,
			})
		case watch.Modified:
			notifier.Publish(protocol.FontModified{
				Filename: event.Record.Name,
				SHA256:   event.Record.ContentsHash,
				Size:     event.Record.Size,
			})
		case watch.Removed:
			notifier.Publish(protocol.FontRemoved{
				Filename: event.Name,
			})
		}
	}
}
