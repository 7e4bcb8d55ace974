package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestApprovalServiceSpans(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	f.service.tracer = tp.Tracer("approval-workflow-service/services")

	request := f.submitted(t, "10000")
	_, err := f.service.Approve(ctx, testTenant, request.ID, testRequester, DecisionInput{})
	require.ErrorIs(t, err, ErrUnauthorized)

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "ApprovalService.CreateDraft", spans[0].Name())
	assert.Equal(t, "ApprovalService.Submit", spans[1].Name())
	assert.Contains(t, spans[1].Attributes(), attribute.String("approval.request_id", request.ID.String()))
	assert.Equal(t, codes.Unset, spans[1].Status().Code)

	assert.Equal(t, "ApprovalService.Approve", spans[2].Name())
	assert.Equal(t, codes.Error, spans[2].Status().Code)
	require.NotEmpty(t, spans[2].Events())
	assert.Equal(t, "exception", spans[2].Events()[0].Name)
}
