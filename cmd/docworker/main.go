// Command docworker runs the PDF document worker and offers local
// inspection commands built on the same worker.
//
// Usage:
//
//	docworker [--config FILE] [--verbosity LEVEL] <command> [flags]
//
// Commands:
//
//	serve      Serve hosts over stdio or RabbitMQ
//	info       Print document facts
//	text       Print the text of pages
//	save       Fill form fields and write an incremental update
//	revisions  Manage saved revisions
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tsawler/docworker/config"
	"github.com/tsawler/docworker/telemetry"
)

// version is set with ldflags.
var version = "dev"

// app holds what every command shares.
type app struct {
	cfgPath   string
	verbosity string
	jsonOut   bool

	cfg *config.Config
	log *slog.Logger
}

// load reads the configuration and sets up logging.
func (a *app) load() error {
	path := a.cfgPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if a.verbosity != "" {
		cfg.Verbosity = a.verbosity
	}
	a.cfg = cfg
	a.log = telemetry.SetupLogger(cfg.Verbosity, cfg.LogFormat)
	return nil
}

func main() {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "docworker",
		Short:         "PDF document worker",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.load()
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.cfgPath, "config", "", "Config file (default ~/.docworker/config.toml)")
	rootCmd.PersistentFlags().StringVar(&a.verbosity, "verbosity", "", "Log level: errors, warnings, infos or debug")
	rootCmd.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Output in JSON format")

	rootCmd.AddCommand(
		newServeCmd(a),
		newInfoCmd(a),
		newTextCmd(a),
		newSaveCmd(a),
		newRevisionsCmd(a),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
