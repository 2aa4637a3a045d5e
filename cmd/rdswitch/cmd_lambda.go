package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
)

// lambdaCmd represents the lambda command
var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Serve invocations from the AWS Lambda runtime",
	Long: `Start the AWS Lambda runtime loop. Each invocation carries an EventBridge
event whose detail.action is "start" or "stop".

This is the default when the binary runs inside Lambda
(AWS_LAMBDA_RUNTIME_API is set). Configuration comes from environment
variables (RDSWITCH_MODE, RDSWITCH_LOG_LEVEL, ...) and, optionally, --config.`,
	Example: `  # EventBridge rule input
  {"detail": {"action": "stop"}}`,
	Args: cobra.NoArgs,
	RunE: runLambda,
}

func init() {
	rootCmd.AddCommand(lambdaCmd)
}

func runLambda(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	inv, err := newInventory(ctx, cfg)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, os.Stdout, inv)
	if err != nil {
		return err
	}

	lambda.StartWithOptions(a.invoke,
		lambda.WithEnableSIGTERM(func() {
			if err := a.close(context.Background()); err != nil {
				a.logger.Error().Err(err).Msg("shutdown failed")
			}
		}),
	)
	return nil
}
