// Command geocatalog-relay-lambda drains the outbox from an AWS Lambda function.
//
// The function is meant to be triggered by a scheduled EventBridge rule. Each invocation
// relays every deliverable event to the sink configured in the environment and reports
// how many were delivered.
package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/geocatalog/core/config"
	"github.com/relabs-tech/geocatalog/core/csql"
	"github.com/relabs-tech/geocatalog/core/logger"
	"github.com/relabs-tech/geocatalog/core/outbox"
	"github.com/relabs-tech/geocatalog/core/store"
)

// Result is the response of one invocation
type Result struct {
	Relayed int `json:"relayed"`
}

type handler struct {
	relay *outbox.Relay
}

func (h *handler) handle(ctx context.Context, event events.CloudWatchEvent) (Result, error) {
	rlog := logger.FromContext(ctx).WithField("trigger", event.ID)
	n, err := h.relay.Drain(ctx)
	if err != nil {
		rlog.WithError(err).Errorln("Error 4102: outbox relay failed")
		return Result{Relayed: n}, err
	}
	rlog.Infof("relayed %d events", n)
	return Result{Relayed: n}, nil
}

func main() {
	ctx := context.Background()
	cfg, err := config.FromEnv()
	if err != nil {
		logrus.WithError(err).Fatalln("invalid configuration")
	}
	logger.InitLogger(logger.ParseLevel(cfg.LogLevel))

	// the connection outlives single invocations of a warm function
	db, err := csql.Open(ctx, cfg.DatabaseDriver, cfg.DSN(), cfg.DatabaseSchema)
	if err != nil {
		logrus.WithError(err).Fatalln("cannot open database")
	}
	sink, err := outbox.NewSink(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Fatalln("cannot create sink")
	}

	h := &handler{relay: &outbox.Relay{
		Store:     store.New(db),
		Sink:      sink,
		BatchSize: cfg.OutboxBatchSize,
	}}
	lambda.Start(h.handle)
}
