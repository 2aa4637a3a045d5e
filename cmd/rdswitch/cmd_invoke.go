package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/events"
	"github.com/spf13/cobra"

	"github.com/yairfalse/rdswitch/internal/config"
	"github.com/yairfalse/rdswitch/internal/handler"
	"github.com/yairfalse/rdswitch/internal/inventory"
	"github.com/yairfalse/rdswitch/internal/transition"
)

var (
	invokeAction     string
	invokeEventFile  string
	invokeOutput     string
	invokeShowResult bool
)

// invokeCmd represents the invoke command
var invokeCmd = &cobra.Command{
	Use:   "invoke",
	Short: "Run one invocation locally",
	Long: `Run a single invocation through the same handler the Lambda runtime uses
and print the response.

Give either --action, which builds {"detail": {"action": ...}}, or --event
with a full EventBridge event in JSON.`,
	Example: `  rdswitch invoke --action stop                    # Dry run: report what would stop
  rdswitch invoke --action start --mode execute    # Really start instances
  rdswitch invoke --event event.json --output yaml # Replay a captured event
  rdswitch invoke --action stop --show-result      # Include the run result`,
	Args: cobra.NoArgs,
	RunE: runInvoke,
}

func init() {
	rootCmd.AddCommand(invokeCmd)

	invokeCmd.Flags().StringVarP(&invokeAction, "action", "a", "", "Action to run: start or stop")
	invokeCmd.Flags().StringVarP(&invokeEventFile, "event", "e", "", "Path to an EventBridge event JSON file")
	invokeCmd.Flags().StringVarP(&invokeOutput, "output", "o", "json", "Output format: json, yaml")
	invokeCmd.Flags().BoolVar(&invokeShowResult, "show-result", false, "Include the run result in the output")
	invokeCmd.MarkFlagsMutuallyExclusive("action", "event")
	invokeCmd.MarkFlagsOneRequired("action", "event")
}

// invokeOutputDoc is what invoke prints.
type invokeOutputDoc struct {
	Response handler.Response   `json:"response" yaml:"response"`
	Result   *transition.Result `json:"result,omitempty" yaml:"result,omitempty"`
}

func runInvoke(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	event, err := buildEvent(invokeAction, invokeEventFile)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	inv, err := newInventory(ctx, cfg)
	if err != nil {
		return err
	}

	return invoke(ctx, cmd.OutOrStdout(), os.Stderr, cfg, inv, event, invokeOutput, invokeShowResult)
}

// invoke runs one event against inv and writes the outcome to out.
func invoke(ctx context.Context, out, logOut io.Writer, cfg *config.Config, inv inventory.Inventory, event events.CloudWatchEvent, format string, showResult bool) error {
	a, err := newApp(ctx, cfg, logOut, inv)
	if err != nil {
		return err
	}

	resp, invokeErr := a.invoke(ctx, event)
	closeErr := a.close(context.Background())
	if invokeErr != nil {
		return errors.Join(invokeErr, closeErr)
	}
	if closeErr != nil {
		a.logger.Warn().Err(closeErr).Msg("shutdown failed")
	}

	doc := invokeOutputDoc{Response: resp}
	if showResult {
		doc.Result = a.lastResult()
	}
	return writeOutput(out, format, doc)
}

// buildEvent returns the event from file, or a synthetic one carrying action.
func buildEvent(action, file string) (events.CloudWatchEvent, error) {
	var event events.CloudWatchEvent

	if file != "" {
		data, err := os.ReadFile(file) // #nosec G304 -- path is intentional user input
		if err != nil {
			return event, fmt.Errorf("read event file: %w", err)
		}
		if err := json.Unmarshal(data, &event); err != nil {
			return event, fmt.Errorf("parse event file: %w", err)
		}
		return event, nil
	}

	detail, err := json.Marshal(map[string]string{"action": action})
	if err != nil {
		return event, err
	}
	event.Source = "rdswitch.cli"
	event.DetailType = "Manual Invocation"
	event.Detail = detail
	return event, nil
}
