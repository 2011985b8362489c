package tracing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpansReachExporter(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	shutdown, err := InitWithExporter("s3k", "test", exp)
	require.NoError(t, err)
	defer shutdown(context.Background())

	ctx, parent := StartSpan(context.Background(), "hart")
	_, child := StartSpan(ctx, "syscall.derive_cap")
	child.WithAttributes(map[string]string{"status": "OK"}).WithInt("pid", 3)
	EndSpan(child, nil)
	EndSpan(parent, errors.New("boom"))

	spans := exp.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "syscall.derive_cap", spans[0].Name)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
	assert.Contains(t, spans[0].Attributes, attribute.String("status", "OK"))
	assert.Contains(t, spans[0].Attributes, attribute.Int64("pid", 3))
	assert.Equal(t, codes.Error, spans[1].Status.Code)
}

func TestInit_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.json")
	shutdown, err := Init("s3k", "test", path)
	require.NoError(t, err)

	_, sp := StartSpan(context.Background(), "boot")
	EndSpan(sp, nil)
	require.NoError(t, shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "boot")
}

func TestNilSpanIsSafe(t *testing.T) {
	var sp *Span
	assert.Nil(t, sp.WithAttributes(map[string]string{"a": "b"}))
	assert.Nil(t, sp.WithInt("a", 1))
	EndSpan(sp, nil)
}
