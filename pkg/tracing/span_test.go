package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "cycle", "c-1")
	_, write := StartChildSpan(ctx, "write")
	time.Sleep(2 * time.Millisecond)
	write.End()
	_, commit := StartChildSpan(ctx, "commit")
	commit.End()
	root.SetAttr("records", 3)
	root.End()

	assert.Equal(t, "c-1", write.TraceID)
	assert.Same(t, root, SpanFromContext(ctx))
	phases := root.Phases()
	require.Len(t, phases, 2)
	assert.GreaterOrEqual(t, phases["write"], 2*time.Millisecond)

	first := root.Duration
	root.End()
	assert.Equal(t, first, root.Duration)

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	out := buf.String()
	assert.Contains(t, out, `"trace_id":"c-1"`)
	assert.Contains(t, out, `"write_ms"`)
	assert.Contains(t, out, `"commit_ms"`)
	assert.Contains(t, out, `"records":3`)
}

func TestStartChildSpan_WithoutParent(t *testing.T) {
	_, s := StartChildSpan(context.Background(), "orphan")
	assert.Empty(t, s.TraceID)
	assert.Nil(t, SpanFromContext(context.Background()))
}
