package zaplog

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Swind/go-vthread/core"
)

func TestLogger_Fields(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	l := Wrap(zap.New(obs))

	l.Debug("dbg")
	l.Info("started", core.F("scheduler", "api"), core.F("workers", 4))
	l.Warn("slow", core.F("task", core.TaskID(7)))
	l.Error("failed", core.F("err", errors.New("boom")))

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)

	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	ctx := entries[1].ContextMap()
	assert.Equal(t, "api", ctx["scheduler"])
	assert.EqualValues(t, 4, ctx["workers"])

	assert.EqualValues(t, 7, entries[2].ContextMap()["task"])
	assert.Equal(t, "boom", entries[3].ContextMap()["err"])
}

func TestNew(t *testing.T) {
	l, err := New("warn", "json")
	require.NoError(t, err)
	assert.False(t, l.Zap().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Zap().Core().Enabled(zapcore.WarnLevel))

	_, err = New("loud", "json")
	assert.Error(t, err)
	_, err = New("info", "xml")
	assert.Error(t, err)
}

// TestLogger_AsSchedulerLogger runs a scheduler that logs through zap
func TestLogger_AsSchedulerLogger(t *testing.T) {
	obs, logs := observer.New(zapcore.InfoLevel)

	cfg := core.DefaultConfig()
	cfg.Name = "zapped"
	cfg.WorkerCount = 1
	cfg.Logger = Wrap(zap.New(obs))
	s, err := core.New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Shutdown(time.Second))

	started := logs.FilterMessage("scheduler started").AllUntimed()
	require.Len(t, started, 1)
	assert.Equal(t, "zapped", started[0].ContextMap()["scheduler"])
	assert.Equal(t, 1, logs.FilterMessage("scheduler stopped").Len())
}
