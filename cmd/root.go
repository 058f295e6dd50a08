package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/syncwatch/cmd/util"
	"github.com/sidkik/syncwatch/cmd/version"
	"github.com/sidkik/syncwatch/pkg/config"
	"github.com/sidkik/syncwatch/pkg/debounce"
	"github.com/sidkik/syncwatch/pkg/errors"
	"github.com/sidkik/syncwatch/pkg/fswatch"
	"github.com/sidkik/syncwatch/pkg/manager"
	"github.com/sidkik/syncwatch/pkg/report"
	"github.com/sidkik/syncwatch/pkg/transfer/sftp"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "SYNCWATCH_LOG_VERBOSE"

// Mocked out for unit testing.
var (
	getwd = os.Getwd
	exit  = os.Exit
)

type options struct {
	create    bool
	setupPath string
	startup   bool
	debounce  time.Duration
}

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := New()
	rootCmd.AddCommand(version.New())

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}

// New creates the root command.
func New() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "sync-watch",
		Short: "Mirror local directories to remote hosts over SFTP",
		Long: "sync-watch mirrors a local directory to a remote host over SFTP, and\n" +
			"resyncs whenever the local directory changes.\n\n" +
			"By default, the connection configured in ./" + config.SettingsFileName + " is\n" +
			"synced. Use --setup to sync multiple connections at once.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
		Run: func(_ *cobra.Command, _ []string) {
			exit(opts.run())
		},
	}

	cmd.Flags().BoolVarP(&opts.create, "create", "c", false,
		"Create a template "+config.SettingsFileName+" in the current directory")
	cmd.Flags().StringVar(&opts.setupPath, "setup", "",
		"Path to a setup file listing the connections to sync")
	cmd.Flags().BoolVarP(&opts.startup, "startup", "s", false,
		"Only start connections that are marked to run on startup")
	cmd.Flags().DurationVar(&opts.debounce, "debounce", debounce.DefaultWindow,
		"How long the local directory must be quiet before resyncing")
	return cmd
}

func (opts options) run() int {
	if opts.create {
		if err := createTemplate(); err != nil {
			util.HandleFatalError(err)
		}
		return 0
	}

	setupErrorTracker()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m := manager.New(opts.managerConfig())
	if opts.setupPath != "" {
		return m.Run(ctx, opts.setupPath)
	}

	wd, err := getwd()
	if err != nil {
		util.HandleFatalError(errors.WithContext(err, "get working directory"))
	}
	return m.RunSingle(ctx, wd)
}

func (opts options) managerConfig() manager.Config {
	logsDir := manager.DefaultLogsDir
	if opts.setupPath != "" {
		logsDir = filepath.Join(filepath.Dir(opts.setupPath), manager.DefaultLogsDir)
	}

	return manager.Config{
		Provider: sftp.NewProvider(),
		Source:   fswatch.NewSource(),
		Reporter: report.NewLogReporter(log.StandardLogger()),
		Log:      log.StandardLogger(),
		Debounce: opts.debounce,
		Startup:  opts.startup,
		LogsDir:  logsDir,
	}
}

func createTemplate() error {
	wd, err := getwd()
	if err != nil {
		return errors.WithContext(err, "get working directory")
	}

	path, err := config.WriteSettingsTemplate(wd)
	if err != nil {
		return err
	}

	fmt.Printf("Created %s.\n"+
		"Fill in the connection details, then run `sync-watch` in %s.\n", path, wd)
	return nil
}

// setupErrorTracker forwards errors to the tracker named in the app config.
// Failing to read the app config isn't fatal, since error tracking is
// optional.
func setupErrorTracker() {
	path, err := config.GetAppConfigPath()
	if err != nil {
		log.WithError(err).Debug("Failed to locate app config")
		return
	}

	app, err := config.ParseApp(path)
	if err != nil {
		log.WithError(err).Warn("Failed to parse app config. Errors won't be tracked.")
		return
	}

	if app.ErrorReportingEndpoint != "" {
		log.AddHook(report.NewTrackerHook(app.ErrorReportingEndpoint))
		log.WithField("endpoint", app.ErrorReportingEndpoint).Debug("Error tracking enabled")
	}
}
