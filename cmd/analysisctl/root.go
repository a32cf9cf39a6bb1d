package main

import (
	"github.com/spf13/cobra"

	"github.com/ahrav/analysis-armada/internal/config"
	"github.com/ahrav/analysis-armada/internal/config/fileloader"
)

// rootOptions holds the persistent flags and the configuration they load.
type rootOptions struct {
	configPath string
	dotenv     string
	logLevel   string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "analysisctl",
		Short: "Run analysis services against samples and other objects",
		Long: `analysisctl discovers the analysis services compiled into this binary,
keeps their records and configuration in the configured store and runs them
against objects read from disk, either one service at a time or as a triage
pass over every eligible service.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := fileloader.NewFileLoader(opts.configPath, fileloader.WithDotEnv(opts.dotenv)).Load(cmd.Context())
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Log.Level = opts.logLevel
			}
			opts.cfg = cfg
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (YAML); environment overrides use the "+config.EnvPrefix+"_ prefix")
	flags.StringVar(&opts.dotenv, "env-file", ".env", "dotenv file loaded before reading environment overrides")
	flags.StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(
		newServicesCmd(opts),
		newRunCmd(opts),
		newTriageCmd(opts),
		newTaskCmd(opts),
		newWorkerCmd(opts),
	)
	return cmd
}

// workerArgs returns the arguments a process-mode child needs to rebuild the
// parent's registry.
func (o *rootOptions) workerArgs() []string {
	var args []string
	if o.configPath != "" {
		args = append(args, "--config", o.configPath)
	}
	if o.dotenv != "" {
		args = append(args, "--env-file", o.dotenv)
	}
	return append(args, o.cfg.Environment.WorkerArgs...)
}
