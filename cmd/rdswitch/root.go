package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	configPath string
	logLevel   string
	modeFlag   string

	rootCmd = &cobra.Command{
		Use:   "rdswitch",
		Short: "Start and stop RDS instances by tag",
		Long: `rdswitch - scheduled start/stop for RDS instances

rdswitch scans every DB instance in the region and starts or stops the ones
that opted in with a tag:

  autostop=yes   stopped when a "stop" event arrives and the instance is available
  autostart=yes  started when a "start" event arrives and the instance is stopped

It normally runs as a Lambda function behind an EventBridge schedule. The
default mode is dry_run: targets are reported but no command is issued.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`rdswitch {{.Version}}
`)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&modeFlag, "mode", "", "Execution mode: dry_run or execute (overrides config)")
}
