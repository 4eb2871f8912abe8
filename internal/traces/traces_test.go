package traces

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	Install(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	return rec
}

func TestInit_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartSpan_RecordsAttributesAndError(t *testing.T) {
	rec := recordSpans(t)

	_, span := StartSpan(context.Background(), "escrow.Release", EscrowID("esc_1"), UserID(7), Amount(500))
	End(span, errors.New("invalid state"))

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "escrow.Release", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Len(t, ended[0].Events(), 1)

	attrs := map[string]any{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "esc_1", attrs["rekberpay.escrow_id"])
	assert.Equal(t, int64(7), attrs["rekberpay.user_id"])
	assert.Equal(t, int64(500), attrs["rekberpay.amount"])
}

func TestEnd_SuccessLeavesStatusUnset(t *testing.T) {
	rec := recordSpans(t)

	_, span := StartSpan(context.Background(), "dispute.Resolve", DisputeID("dsp_1"))
	End(span, nil)

	require.Len(t, rec.Ended(), 1)
	assert.Equal(t, codes.Unset, rec.Ended()[0].Status().Code)
}
