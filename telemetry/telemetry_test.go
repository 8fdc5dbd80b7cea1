package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":    slog.LevelDebug,
		"INFO":     slog.LevelInfo,
		"infos":    slog.LevelInfo,
		"warnings": slog.LevelWarn,
		"WARN":     slog.LevelWarn,
		"errors":   slog.LevelError,
		"":         slog.LevelInfo,
		"bogus":    slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestLevelForVerbosity(t *testing.T) {
	assert.Equal(t, slog.LevelError, LevelForVerbosity(VerbosityErrors))
	assert.Equal(t, slog.LevelWarn, LevelForVerbosity(VerbosityWarnings))
	assert.Equal(t, slog.LevelInfo, LevelForVerbosity(VerbosityInfos))
	assert.Equal(t, slog.LevelDebug, LevelForVerbosity(9))
}

func TestNewLoggerFollowsLevel(t *testing.T) {
	defer SetLevel(Level())

	var buf bytes.Buffer
	logger := NewLogger(&buf, "json")
	SetLevel(slog.LevelWarn)
	logger.Info("hidden")
	assert.Empty(t, buf.String())

	SetLevel(slog.LevelInfo)
	WithDocID(logger, "doc1").Info("shown")
	assert.Contains(t, buf.String(), `"doc_id":"doc1"`)

	buf.Reset()
	text := NewLogger(&buf, "text")
	WithTask(text, "GetTextContent: page 0").Warn("slow")
	assert.Contains(t, buf.String(), `task="GetTextContent: page 0"`)
}

func TestContextLogger(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), logger)
	assert.Equal(t, logger, FromContext(ctx))
}

func TestTaskKind(t *testing.T) {
	assert.Equal(t, "GetOperatorList", TaskKind("GetOperatorList: page 3"))
	assert.Equal(t, "Save (editor)", TaskKind("Save (editor): page 0"))
	assert.Equal(t, "loadXfaFonts", TaskKind("loadXfaFonts"))
}

func TestMetricsObserveTasks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.TaskStarted("GetTextContent: page 1")
	m.TaskStarted("GetTextContent: page 2")
	m.TaskFinished("GetTextContent: page 1", false)
	m.TaskFinished("GetTextContent: page 2", true)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			key := f.GetName()
			for _, l := range metric.GetLabel() {
				key += "," + l.GetValue()
			}
			values[key] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 2.0, values["docworker_tasks_started_total,GetTextContent"])
	assert.Equal(t, 1.0, values["docworker_tasks_finished_total,GetTextContent,terminated"])
	assert.Equal(t, 1.0, values["docworker_tasks_finished_total,GetTextContent,done"])

	// a second set on a nil registerer must not collide
	assert.NotNil(t, NewMetrics(nil))
}
