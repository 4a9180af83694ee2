package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/contextkeys"
)

func TestNewEntry(t *testing.T) {
	entry := NewEntry(OpIssueClaims)

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, OpIssueClaims, entry.Operation)
	assert.Equal(t, SeverityInfo, entry.Severity)
	assert.False(t, entry.Timestamp.IsZero())
	assert.Equal(t, "UTC", entry.Timestamp.Location().String())
	assert.NotEqual(t, entry.ID, NewEntry(OpIssueClaims).ID)
}

func TestEntry_Outcome(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		entry := NewEntry(OpGetClaims).Outcome(nil)
		assert.True(t, entry.Success)
		assert.Empty(t, entry.Error)
	})

	t.Run("failure", func(t *testing.T) {
		entry := NewEntry(OpGrantSuperUser).
			WithActor("u1", "a@example.com", "super-user").
			WithSeverity(SeverityCritical).
			WithDetail("target_uid", "u2").
			Outcome(errors.New("ceiling reached"))

		assert.False(t, entry.Success)
		assert.Equal(t, "ceiling reached", entry.Error)
		assert.Equal(t, SeverityCritical, entry.Severity)
		assert.Equal(t, "u2", entry.Details["target_uid"])
		assert.Equal(t, "u1", entry.ActorUID)
	})
}

func TestFromContext(t *testing.T) {
	t.Run("no logger returns no-op", func(t *testing.T) {
		logger := FromContext(context.Background())
		require.NotNil(t, logger)
		assert.NoError(t, logger.Log(context.Background(), NewEntry(OpGetClaims)))
		assert.NoError(t, logger.Close())
	})

	t.Run("configured logger", func(t *testing.T) {
		mem := NewMemoryLogger()
		ctx := WithLogger(context.Background(), mem)
		require.NoError(t, FromContext(ctx).Log(ctx, NewEntry(OpGetClaims)))
		assert.Equal(t, 1, mem.Len())
	})
}

func TestRecord(t *testing.T) {
	mem := NewMemoryLogger()
	ctx := contextkeys.WithRequestID(context.Background(), "req-123")

	require.NoError(t, Record(ctx, mem, NewEntry(OpIssueClaims).Outcome(nil)))

	entries := mem.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-123", entries[0].RequestID)

	t.Run("falls back to context logger", func(t *testing.T) {
		ctxMem := NewMemoryLogger()
		ctx := WithLogger(context.Background(), ctxMem)
		require.NoError(t, Record(ctx, nil, NewEntry(OpGetClaims)))
		assert.Equal(t, 1, ctxMem.Len())
	})
}

func TestMemoryLogger(t *testing.T) {
	mem := NewMemoryLogger()
	ctx := context.Background()

	require.NoError(t, mem.Log(ctx, NewEntry(OpGrantSuperUser)))
	require.NoError(t, mem.Log(ctx, NewEntry(OpRevokeSuperUser)))
	require.NoError(t, mem.Log(ctx, NewEntry(OpGrantSuperUser)))

	assert.Equal(t, 3, mem.Len())
	assert.Len(t, mem.ByOperation(OpGrantSuperUser), 2)

	entries := mem.Entries()
	entries[0].Operation = OpGetClaims
	assert.Equal(t, OpGrantSuperUser, mem.Entries()[0].Operation, "Entries must return a copy")
}
