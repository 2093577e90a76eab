package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"greplay/pkg/logging"
)

func observed(service string) (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	var l Logger = &SugaredLogger{SugaredLogger: zap.New(core).Sugar()}
	if service != "" {
		l = ForService(l, service)
	}
	return l, logs
}

func TestContextFields(t *testing.T) {
	log, logs := observed("greplay-api")

	ctx := logging.WithTaskID(context.Background(), "task-1")
	log.Component("replay").InfowCtx(ctx, "Replay started", "pages", 2)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "replay", fields["component"])
	assert.Equal(t, "task-1", fields[logging.TaskIDKey])
	assert.Equal(t, "greplay-api", fields[logging.ServiceNameKey])
	assert.EqualValues(t, 2, fields["pages"])
}

func TestContextServiceNameWins(t *testing.T) {
	log, logs := observed("greplay-api")

	log.WarnwCtx(logging.WithServiceName(context.Background(), "replayctl"), "x")
	assert.Equal(t, "replayctl", logs.All()[0].ContextMap()[logging.ServiceNameKey])
}

func TestNew(t *testing.T) {
	l, err := New("not-a-level", "console")
	require.NoError(t, err)
	assert.NotNil(t, l)
}
