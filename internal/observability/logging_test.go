package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithCourse(ctx, "c1")
	ctx = WithJobID(ctx, "job-1")
	ctx = WithUpdateID(ctx, 7)
	ctx = WithStage(ctx, "build")

	assert.Equal(t, LogContext{Course: "c1", JobID: "job-1", UpdateID: 7, Stage: "build"}, GetContext(ctx))
}

func TestLaterValuesOverride(t *testing.T) {
	ctx := WithStage(WithStage(context.Background(), "sync"), "store")
	assert.Equal(t, "store", GetContext(ctx).Stage)
}

func TestEmptyContext(t *testing.T) {
	assert.Equal(t, LogContext{}, GetContext(context.Background()))
	assert.Empty(t, getLogAttrs(context.Background()))
}

func TestContextHandlerInjectsAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "json", slog.LevelInfo)

	ctx := WithUpdateID(WithCourse(context.Background(), "c1"), 3)
	logger.With("worker", "w0").InfoContext(ctx, "hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "c1", rec["course"])
	assert.Equal(t, float64(3), rec["update_id"])
	assert.Equal(t, "w0", rec["worker"])
	assert.NotContains(t, rec, "job_id")
}

func TestNewLoggerLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "text", slog.LevelWarn)
	logger.Info("quiet")
	logger.Warn("loud")
	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "msg=loud")
}
