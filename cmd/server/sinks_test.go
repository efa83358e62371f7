package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronecraft.ai/internal/persistence/indexdb"
	"dronecraft.ai/internal/sim/scheduler"
	"dronecraft.ai/internal/sim/world"
)

type countingLogger struct {
	ticks, audits int
	err           error
}

func (c *countingLogger) WriteTick(scheduler.TickLogEntry) error { c.ticks++; return c.err }
func (c *countingLogger) WriteAudit(world.AuditEntry) error      { c.audits++; return c.err }

func TestLatestSnapshotPicksHighestTick(t *testing.T) {
	worldDir := t.TempDir()
	dir := filepath.Join(worldDir, "snapshots")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range []string{"900.snap.zst", "12000.snap.zst", "3000.snap.zst", "notes.txt", "abc.snap.zst"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	assert.Equal(t, filepath.Join(dir, "12000.snap.zst"), latestSnapshot(worldDir))
	assert.Equal(t, "", latestSnapshot(t.TempDir()))
}

func TestFanoutLoggersWriteAllAndJoinErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &countingLogger{}
	b := &countingLogger{err: boom}

	ticks := fanoutTickLogger{a, nil, b}
	err := ticks.WriteTick(scheduler.TickLogEntry{Tick: 1})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.ticks)
	assert.Equal(t, 1, b.ticks)

	audits := fanoutAuditLogger{a}
	require.NoError(t, audits.WriteAudit(world.AuditEntry{}))
	assert.Equal(t, 1, a.audits)
}

func TestIdxOrNilHidesTypedNil(t *testing.T) {
	var idx *indexdb.SQLiteIndex
	assert.Nil(t, idxOrNil(idx))
}
