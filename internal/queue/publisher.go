// Package queue provides the SQS-based producer for outbound payment events
// consumed by downstream platform workers (provisioning, notifications).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"fairbill/internal/config"
	"fairbill/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// NewSQSClient builds the production SQS client from the default AWS
// credential chain. A non-empty EndpointURL redirects every call to that
// endpoint, which is how local environments point at LocalStack.
func NewSQSClient(ctx context.Context, awsCfg config.AWSConfig) (*sqs.Client, error) {
	sdkCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(awsCfg.Region))
	if err != nil {
		return nil, fmt.Errorf("queue: failed to load AWS SDK config: %w", err)
	}

	return sqs.NewFromConfig(sdkCfg, func(o *sqs.Options) {
		if awsCfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(awsCfg.EndpointURL)
		}
	}), nil
}

// PaymentEventPublisher sends PaymentEventMessages to the platform's payment
// events queue. Callers treat publication as advisory: a send failure is
// reported to the caller for logging but must never unwind the settlement
// that produced the event.
type PaymentEventPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewPaymentEventPublisher creates a publisher targeting the payment events
// queue from the AWS configuration. A nil logger falls back to slog.Default.
func NewPaymentEventPublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *PaymentEventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentEventPublisher{
		client:   client,
		queueURL: awsCfg.PaymentEventsQueue,
		logger:   logger,
	}
}

// Publish serializes the message to JSON and dispatches it to the payment
// events queue. The event kind rides along as a message attribute so
// consumers can filter without parsing the body.
func (p *PaymentEventPublisher) Publish(ctx context.Context, msg types.PaymentEventMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to marshal payment event", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(msg.Kind)),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return types.NewAppErrorWithDetails(
			types.ErrCodeInternalQueue,
			fmt.Sprintf("failed to send payment event to %s", p.queueURL),
			err,
			map[string]any{"kind": string(msg.Kind)},
		)
	}

	p.logger.InfoContext(ctx, "payment event published",
		"queue_url", p.queueURL,
		"event_id", msg.EventID,
		"kind", string(msg.Kind),
		"transaction_id", msg.TransactionID,
		"trace_id", msg.TraceID,
	)

	return nil
}
