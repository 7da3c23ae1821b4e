package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/serroba/window-limiter/internal/audit"
	"github.com/serroba/window-limiter/internal/audit/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNoop_SaveDenial(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	noop := store.NewNoop(zap.New(core))

	err := noop.SaveDenial(context.Background(), &audit.DenialEvent{
		Identifier: "alice",
		Key:        "api:alice",
		Count:      3,
		Limit:      3,
		Instance:   "node-1",
		DeniedAt:   time.Now(),
	})

	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "api:alice", fields["key"])
	assert.Equal(t, "node-1", fields["instance"])
}
