package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/warp/lease-engine/generic"
)

// SQSAPI is the subset of the SQS client the dispatcher needs.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

var _ SQSAPI = (*sqs.Client)(nil)

// SQS publishes every event as a JSON message.
type SQS struct {
	Client   SQSAPI
	QueueURL string
}

func NewSQS(client SQSAPI, queueURL string) *SQS {
	return &SQS{Client: client, QueueURL: queueURL}
}

func (d *SQS) Dispatch(ctx context.Context, e generic.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event for SQS: %w", err)
	}
	_, err = d.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.QueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(string(e.Type))},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send event %s to SQS: %w", e.ID, err)
	}
	return nil
}
