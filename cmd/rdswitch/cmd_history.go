package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/rdswitch/internal/audit"
)

var (
	historyLimit    int
	historyInstance string
	historyOutput   string
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded runs from the audit store",
	Long: `Read the local audit store written when [audit] enabled = true.

Without --instance, prints the most recent runs and the latest outcome of
every instance seen. With --instance, prints that instance's latest outcome.`,
	Example: `  rdswitch history                     # Last 10 runs
  rdswitch history --limit 50          # Last 50 runs
  rdswitch history --instance db-1     # Latest outcome for db-1
  rdswitch history --output yaml`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of runs to show (0 for all)")
	historyCmd.Flags().StringVarP(&historyInstance, "instance", "i", "", "Show only this instance")
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", "json", "Output format: json, yaml")
}

// historyDoc is what history prints without --instance.
type historyDoc struct {
	Runs      []audit.Run            `json:"runs" yaml:"runs"`
	Instances []audit.InstanceRecord `json:"instances" yaml:"instances"`
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return printHistory(cmd.OutOrStdout(), cfg.Audit.Path, historyLimit, historyInstance, historyOutput)
}

func printHistory(out io.Writer, path string, limit int, instanceID, format string) error {
	// audit.Open would create an empty store
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no audit history at %s: %w", path, err)
	}

	store, err := audit.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if instanceID != "" {
		rec, ok := store.Instance(instanceID)
		if !ok {
			return fmt.Errorf("no history for instance %s", instanceID)
		}
		return writeOutput(out, format, rec)
	}

	runs, err := store.Runs(limit)
	if err != nil {
		return fmt.Errorf("read runs: %w", err)
	}
	if runs == nil {
		runs = []audit.Run{}
	}
	return writeOutput(out, format, historyDoc{Runs: runs, Instances: store.Instances()})
}
