package main

import (
	"os"

	"github.com/spf13/cobra"

	"attendcal/internal/config"
	appLog "attendcal/internal/log"
	"attendcal/internal/store/gormstore"
)

const version = "0.1.0"

// rootOptions holds global flags for all commands.
type rootOptions struct {
	configPath string
	verbose    bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		appLog.Error("attendcal failed", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "attendcal",
		Short:         "Timetable import and session reconciliation for attendance tracking",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "/etc/attendcal/config.yaml", "path to config file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))

	return cmd
}

// loadConfig loads, validates and applies the log level.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	conf, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	level := appLog.ParseLevel(conf.LogLevel)
	if opts.verbose {
		level = appLog.LevelDebug
	}
	appLog.SetLevel(level)

	appLog.Info("effective config",
		"config_path", opts.configPath,
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"schedule", conf.Schedule,
		"db_driver", conf.Database.Driver,
		"parallelism", conf.Parallelism,
		"recreate_ignores_present", conf.RecreateIgnoresPresent,
		"link_count", len(conf.Links),
	)
	return conf, nil
}

func openStore(conf *config.Config) (*gormstore.Store, error) {
	appLog.Info("opening database", "driver", conf.Database.Driver)
	return gormstore.Open(conf.Database.Driver, conf.Database.DSN)
}
