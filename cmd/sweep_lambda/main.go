// Command sweep_lambda runs the overdue sweep on an EventBridge schedule.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/warp/lease-engine/catalog"
	"github.com/warp/lease-engine/config"
	"github.com/warp/lease-engine/directory"
	"github.com/warp/lease-engine/engine"
)

var (
	eng    *engine.Engine
	logger *slog.Logger
)

func init() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("unable to load configuration: %v", err)
	}
	// Lambdas always run against DynamoDB.
	cfg.Store = config.StoreDynamoDB
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if logger, err = cfg.Logger(os.Stdout); err != nil {
		log.Fatalf("unable to build logger: %v", err)
	}

	ctx := context.Background()
	deps := config.NewDeps(cfg)
	s, err := deps.OpenStore(ctx)
	if err != nil {
		log.Fatalf("unable to open store: %v", err)
	}
	dispatcher, err := deps.Dispatcher(ctx, logger)
	if err != nil {
		log.Fatalf("unable to build dispatcher: %v", err)
	}

	// The sweep never consults the catalog.
	eng = engine.New(s, catalog.NewMemory(), directory.Open(),
		engine.WithDispatcher(dispatcher),
		engine.WithLogger(logger),
	)
}

// HandleRequest is triggered by an EventBridge Schedule.
func HandleRequest(ctx context.Context) (engine.SweepResult, error) {
	res, err := eng.SweepOverdue(ctx)
	if err != nil {
		// Partial results are still reported; the next run retries the rest.
		logger.ErrorContext(ctx, "overdue sweep failed", slog.Any("error", err))
		return res, err
	}
	return res, nil
}

func main() {
	lambda.Start(HandleRequest)
}
