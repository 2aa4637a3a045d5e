package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"

	"github.com/yairfalse/rdswitch/internal/audit"
	"github.com/yairfalse/rdswitch/internal/config"
	"github.com/yairfalse/rdswitch/internal/emitter"
	"github.com/yairfalse/rdswitch/internal/handler"
	"github.com/yairfalse/rdswitch/internal/inventory"
	awsinventory "github.com/yairfalse/rdswitch/internal/inventory/aws"
	"github.com/yairfalse/rdswitch/internal/telemetry"
	"github.com/yairfalse/rdswitch/internal/transition"
)

// app holds everything one process needs to serve invocations.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	telemetry *telemetry.Provider
	emitters  *emitter.MultiEmitter
	handler   *handler.Handler
}

// loadConfig reads the config file, environment and persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if modeFlag != "" {
		mode, err := transition.ParseMode(modeFlag)
		if err != nil {
			return nil, err
		}
		cfg.Transition.ModeStr = modeFlag
		cfg.Transition.Mode = mode
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newInventory connects to RDS in the configured region.
func newInventory(ctx context.Context, cfg *config.Config) (inventory.Inventory, error) {
	client, err := awsinventory.New(ctx, awsinventory.Config{
		Region:  cfg.AWS.Region,
		Profile: cfg.AWS.Profile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rds inventory: %w", err)
	}
	return client, nil
}

// newApp wires config, logging, telemetry, emitters and the handler around inv.
func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer, inv inventory.Inventory) (*app, error) {
	logger, err := telemetry.NewLogger(logOut, cfg.OTEL.ServiceName, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	tp, err := telemetry.NewProvider(ctx, cfg.OTEL, cfg.Metrics.Textfile)
	if err != nil {
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}

	metrics, err := emitter.NewMetricsEmitter(tp.Meter())
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create metrics emitter: %w", err)
	}

	emitters := emitter.NewMultiEmitter(emitter.NewLogEmitter(logger), metrics)

	if cfg.Audit.Enabled {
		store, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			_ = tp.Shutdown(ctx)
			return nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		emitters.Add(store)
	}

	runner := transition.New(inv,
		transition.WithMode(cfg.Transition.Mode),
		transition.WithCallTimeout(cfg.Transition.CallTimeout),
		transition.WithLogger(logger),
		transition.WithTracer(tp.Tracer()),
	)

	logger.Info().
		Str("mode", cfg.Transition.Mode.String()).
		Dur("call_timeout", cfg.Transition.CallTimeout).
		Bool("audit", cfg.Audit.Enabled).
		Str("version", version).
		Msg("rdswitch ready")

	return &app{
		cfg:       cfg,
		logger:    logger,
		telemetry: tp,
		emitters:  emitters,
		handler: handler.New(runner,
			handler.WithEmitter(emitters),
			handler.WithLogger(logger),
		),
	}, nil
}

// invoke handles one event inside an invocation span and flushes telemetry
// before returning.
func (a *app) invoke(ctx context.Context, event events.CloudWatchEvent) (handler.Response, error) {
	ctx, span := a.telemetry.StartSpan(ctx, "rdswitch.invoke")
	resp, err := a.handler.Handle(ctx, event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	if flushErr := a.telemetry.Flush(ctx); flushErr != nil {
		a.logger.Warn().Err(flushErr).Msg("failed to flush telemetry")
	}
	return resp, err
}

// lastResult returns the result of the last completed run, or nil.
func (a *app) lastResult() *transition.Result {
	return a.handler.LastResult()
}

func (a *app) close(ctx context.Context) error {
	return errors.Join(a.emitters.Close(), a.telemetry.Shutdown(ctx))
}
