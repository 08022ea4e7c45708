package main

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/warp/lease-engine/engine"
	"github.com/warp/lease-engine/generic"
)

// PaymentCapturer is the engine operation the handler drives.
type PaymentCapturer interface {
	CapturePayment(ctx context.Context, pc engine.PaymentCaptured) (engine.PaymentReceipt, error)
}

type handler struct {
	payments PaymentCapturer
	logger   *slog.Logger
}

// Handle processes one SQS batch. A message failing with a domain error
// (bad body, unknown booking, already paid, booking closed) is logged and
// dropped. Lost races and unclassified errors are reported back so SQS
// redelivers only them.
func (h *handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, message := range sqsEvent.Records {
		log := h.logger.With(slog.String("message_id", message.MessageId))

		var pc engine.PaymentCaptured
		if err := json.Unmarshal([]byte(message.Body), &pc); err != nil {
			log.ErrorContext(ctx, "dropping malformed payment message", slog.Any("error", err))
			continue
		}

		receipt, err := h.payments.CapturePayment(ctx, pc)
		switch {
		case err == nil:
			log.InfoContext(ctx, "payment applied",
				slog.String("reference", pc.Reference),
				slog.Bool("on_time", receipt.OnTime),
				slog.Bool("completed", receipt.Completed),
			)
		case permanent(err):
			log.WarnContext(ctx, "dropping payment message", slog.String("reference", pc.Reference), slog.Any("error", err))
		default:
			log.ErrorContext(ctx, "payment failed, will retry", slog.String("reference", pc.Reference), slog.Any("error", err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: message.MessageId})
		}
	}
	return resp, nil
}

// permanent reports whether redelivering the message would fail the same way.
func permanent(err error) bool {
	return generic.Kind(err) != nil && !generic.IsRetryable(err)
}
