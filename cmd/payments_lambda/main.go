// Command payments_lambda consumes payment-captured messages from SQS and
// marks the referenced installments paid.
package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/warp/lease-engine/catalog"
	"github.com/warp/lease-engine/config"
	"github.com/warp/lease-engine/directory"
	"github.com/warp/lease-engine/engine"
)

func newHandler() *handler {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("unable to load configuration: %v", err)
	}
	cfg.Store = config.StoreDynamoDB
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger, err := cfg.Logger(os.Stdout)
	if err != nil {
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

	// Unit releases travel as events; the catalog service applies them.
	eng := engine.New(s, catalog.NewMemory(), directory.Open(),
		engine.WithDispatcher(dispatcher),
		engine.WithLogger(logger),
	)
	return &handler{payments: eng, logger: logger}
}

func main() {
	lambda.Start(newHandler().Handle)
}
