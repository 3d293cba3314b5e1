package config

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fontsync/fontsync/cmd/util"
	"github.com/fontsync/fontsync/pkg/config"
	"github.com/fontsync/fontsync/pkg/errors"
)

// Mocked for unit testing.
var (
	stdout      io.Writer = os.Stdout
	stdin       io.Reader = os.Stdin
	parseConfig           = config.Parse
	writeConfig           = config.Write
)

// New creates a new `config` command.
func New() *cobra.Command {
	var cliOpts config.ClientConfig
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Setup the fontsync configuration",
		Run: func(_ *cobra.Command, _ []string) {
			if err := SetupConfig(cliOpts); err != nil {
				err = errors.NewFriendlyError("Failed to setup configuration:\n%s", err)
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&cliOpts.ServerURL, "server", "",
		"Set the store server URL in the config. "+
			"Optional: If not set, `fontsync config` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.HubAddr, "hub", "",
		"Set the notification hub address in the config. "+
			"Optional: If not set, `fontsync config` will interactively prompt.")
	cmd.Flags().StringSliceVar(&cliOpts.FontDirs, "font-dir", nil,
		"Set the local font directories to sync. "+
			"Optional: If not set, the platform's user font directory is used.")
	cmd.Flags().BoolVar(&cliOpts.Install, "install", false,
		"Register downloaded fonts with the operating system.")

	// Setup the commands for querying the contents of the config.
	type getterSpec struct {
		use, short string
		fn         func(config.Config) string
	}

	getters := []getterSpec{
		{
			use:   "get-server",
			short: "Get the currently configured store server URL",
			fn:    func(cfg config.Config) string { return cfg.Client.ServerURL },
		},
		{
			use:   "get-hub",
			short: "Get the currently configured notification hub address",
			fn:    func(cfg config.Config) string { return cfg.Client.HubAddr },
		},
	}
	for _, getter := range getters {
		getter := getter
		cmd.AddCommand(&cobra.Command{
			Use:   getter.use,
			Short: getter.short,
			Run: func(_ *cobra.Command, _ []string) {
				cfg, err := parseConfig()
				if err != nil {
					err = errors.WithContext(err, "read config")
					util.HandleFatalError(err)
				}

				fmt.Fprintln(stdout, getter.fn(cfg))
			},
		})
	}

	return cmd
}

// SetupConfig writes the config described by cliOpts, prompting for any
// field the flags left unset.
func SetupConfig(cliOpts config.ClientConfig) error {
	cfg, err := generateConfig(cliOpts)
	if err != nil {
		return errors.WithContext(err, "generate config")
	}

	if err := writeConfig(cfg); err != nil {
		return errors.WithContext(err, "write config")
	}

	path, err := config.GetConfigPath()
	if err != nil {
		return errors.WithContext(err, "get config path")
	}

	fmt.Printf("Wrote config to %s\n", path)
	return nil
}

func serverURLValidationFn(server string) (string, bool) {
	parsed, err := url.Parse(server)
	if err != nil || parsed.Host == "" ||
		(parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "The server URL must look like http://host:port. " +
			"Please enter it again.", false
	}
	return "", true
}

type prompt struct {
	helpString, prompt, defaultAnswer, currAnswer string
	field                                         *string
	validationFn                                  func(string) (string, bool)
}

// generateConfig interacts with the user to decide the desired
// configuration. It makes best guesses at reasonable defaults, and allows
// users to explicitly override them if desired.
func generateConfig(cliOpts config.ClientConfig) (config.Config, error) {
	currConfig, err := parseConfig()
	if err != nil {
		currConfig = config.Config{}
		log.WithError(err).Debug("Failed to read current config")
	}

	cfg := currConfig
	cfg.Client.Install = cliOpts.Install
	if len(cliOpts.FontDirs) != 0 {
		cfg.Client.FontDirs = cliOpts.FontDirs
	}

	var prompts []prompt
	if cliOpts.ServerURL != "" {
		cfg.Client.ServerURL = cliOpts.ServerURL
	} else {
		prompts = append(prompts, prompt{
			helpString: "Enter the URL of the font store server.\n" +
				"This is the machine running `fontsync serve`.",
			prompt:        "Store server URL",
			defaultAnswer: config.DefaultServerURL,
			currAnswer:    currConfig.Client.ServerURL,
			field:         &cfg.Client.ServerURL,
			validationFn:  serverURLValidationFn,
		})
	}

	if cliOpts.HubAddr != "" {
		cfg.Client.HubAddr = cliOpts.HubAddr
	} else {
		prompts = append(prompts, prompt{
			helpString: "Enter the address of the notification hub.\n" +
				"By convention it's one port above the store server.",
			prompt:        "Notification hub address",
			defaultAnswer: config.DefaultClientHubAddr,
			currAnswer:    currConfig.Client.HubAddr,
			field:         &cfg.Client.HubAddr,
		})
	}

	for _, prompt := range prompts {
		var resp string
		for {
			resp, err = promptUser(prompt.helpString, prompt.prompt,
				prompt.defaultAnswer, prompt.currAnswer)
			if err != nil {
				return config.Config{}, errors.WithContext(err, "read response")
			}

			if prompt.validationFn == nil {
				break
			}

			validationErr, ok := prompt.validationFn(resp)
			if ok {
				break
			}

			fmt.Fprintln(stdout, validationErr)
		}

		*prompt.field = resp
	}

	return cfg, nil
}

func promptUser(helpString, prompt, defaultAnswer, currAnswer string) (string, error) {
	// Display a new line at the end to separate different fields to make it
	// look clearer.
	defer fmt.Fprintln(stdout)

	options := []string{}
	if defaultAnswer != "" {
		options = append(options, defaultAnswer)
	}
	if currAnswer != "" && currAnswer != defaultAnswer {
		options = append(options, currAnswer)
	}
	options = append(options, "(Enter manually)")

	fmt.Fprintln(stdout, helpString+"\n"+prompt+":")

	stdinReader := bufio.NewReader(stdin)

	if nOptions := len(options); nOptions > 1 {
		// defaultAnswer or currAnswer exists.
		fmt.Fprintln(stdout)
		for i, option := range options {
			if i == 0 {
				option = fmt.Sprintf("%s (recommended)", option)
			}
			fmt.Fprintf(stdout, "\t%d. %s\n", i+1, option)
		}
		fmt.Fprintln(stdout)

		for {
			fmt.Fprintf(stdout, "Please choose one [1-%d]: ", nOptions)
			choiceStr, err := stdinReader.ReadString('\n')
			if err != nil {
				return "", err
			}

			var choice int
			choiceStr = strings.TrimRight(choiceStr, "\n")

			// Default to the first choice if user doesn't enter anything.
			if choiceStr == "" {
				choice = 1
			} else {
				choice, err = strconv.Atoi(choiceStr)
				if err != nil || choice < 1 || choice > nOptions {
					// Try again if the input is invalid.
					continue
				}
			}

			if choice == nOptions {
				// Enter manually.
				break
			}

			return options[choice-1], nil
		}
	}

	fmt.Fprint(stdout, "Please enter manually: ")
	resp, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimRight(resp, "\n"), nil
}
