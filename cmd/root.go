package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	configCmd "github.com/fontsync/fontsync/cmd/config"
	"github.com/fontsync/fontsync/cmd/serve"
	syncCmd "github.com/fontsync/fontsync/cmd/sync"
	"github.com/fontsync/fontsync/cmd/upgradecli"
	"github.com/fontsync/fontsync/cmd/util"
	"github.com/fontsync/fontsync/cmd/version"
	watchCmd "github.com/fontsync/fontsync/cmd/watch"
	"github.com/fontsync/fontsync/pkg/analytics"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "FONTSYNC_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := &cobra.Command{
		Use:          "fontsync",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors:    true,
		PersistentPreRun: setupAnalytics,
	}
	rootCmd.AddCommand(
		configCmd.New(),
		serve.New(),
		syncCmd.New(),
		upgradecli.New(),
		version.New(),
		watchCmd.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}

func setupAnalytics(cmd *cobra.Command, _ []string) {
	if !analytics.Enabled() {
		return
	}

	analytics.SetSource(cmd.CalledAs())
	log.AddHook(analytics.NewLogHook())
}
