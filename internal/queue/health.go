package queue

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// QueueAttributesAPI abstracts the SQS GetQueueAttributes operation used by
// the health probe. Production code uses the *sqs.Client from aws-sdk-go-v2.
type QueueAttributesAPI interface {
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// QueueProbe reports payment-event queue health for the /health endpoint by
// fetching the queue's ARN attribute. The call fails when the queue does not
// exist or credentials cannot reach it.
type QueueProbe struct {
	client   QueueAttributesAPI
	queueURL string
}

// NewQueueProbe creates a health probe for the given queue URL.
func NewQueueProbe(client QueueAttributesAPI, queueURL string) *QueueProbe {
	return &QueueProbe{client: client, queueURL: queueURL}
}

// Name identifies the probe in health check responses.
func (p *QueueProbe) Name() string { return "queue" }

// Check fetches queue attributes, respecting the context deadline.
func (p *QueueProbe) Check(ctx context.Context) error {
	_, err := p.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(p.queueURL),
		AttributeNames: []sqsTypes.QueueAttributeName{sqsTypes.QueueAttributeNameQueueArn},
	})
	return err
}
