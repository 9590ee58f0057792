package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"fairbill/internal/core"
)

// Compile-time check that the probe plugs into the chassis health endpoint.
var _ core.HealthProbe = (*QueueProbe)(nil)

// mockAttributesClient captures GetQueueAttributes calls.
type mockAttributesClient struct {
	calls []*sqs.GetQueueAttributesInput
	err   error
}

func (m *mockAttributesClient) GetQueueAttributes(_ context.Context, params *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.GetQueueAttributesOutput{}, nil
}

func TestQueueProbe_Name(t *testing.T) {
	probe := NewQueueProbe(&mockAttributesClient{}, testQueueURL)
	if probe.Name() != "queue" {
		t.Errorf("Name() = %q, want queue", probe.Name())
	}
}

func TestQueueProbe_CheckHealthy(t *testing.T) {
	mock := &mockAttributesClient{}
	probe := NewQueueProbe(mock, testQueueURL)

	if err := probe.Check(context.Background()); err != nil {
		t.Fatalf("Check returned unexpected error: %v", err)
	}
	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 GetQueueAttributes call, got %d", len(mock.calls))
	}
	if *mock.calls[0].QueueUrl != testQueueURL {
		t.Errorf("queue URL = %q, want %q", *mock.calls[0].QueueUrl, testQueueURL)
	}
}

func TestQueueProbe_CheckUnhealthy(t *testing.T) {
	mock := &mockAttributesClient{err: errors.New("AWS.SimpleQueueService.NonExistentQueue")}
	probe := NewQueueProbe(mock, testQueueURL)

	err := probe.Check(context.Background())
	if err == nil {
		t.Fatal("expected error from Check, got nil")
	}
	if !errors.Is(err, mock.err) {
		t.Error("expected the SQS error to surface unwrapped")
	}
}
