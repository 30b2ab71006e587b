// ABOUTME: Tests for SQLite-specific store behaviour
// ABOUTME: Covers file creation, reopen persistence, migrations and concurrent appends

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist")
	assert.NoError(t, s.Ping(context.Background()))
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, userMessage("acme", "s1", "persist me"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening runs schema creation and migrations again.
	s, err = NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	msgs, err := s.ListMessages(ctx, "acme", "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "persist me", msgs[0].Content)
}

func TestSQLiteStore_ConcurrentAppendsKeepSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		wg.Go(func() {
			_, err := s.AppendMessage(ctx, userMessage("acme", "s1", fmt.Sprintf("msg %d", i)))
			errs <- err
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	msgs, err := s.ListMessages(ctx, "acme", "s1")
	require.NoError(t, err)
	require.Len(t, msgs, writers)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.Seq)
	}

	conv, err := s.GetConversation(ctx, "acme", "s1")
	require.NoError(t, err)
	assert.Equal(t, writers, conv.TotalMessages)
}

func TestWriteErr_Classification(t *testing.T) {
	busy := writeErr("op", fmt.Errorf("database is locked (5) (SQLITE_BUSY)"))
	assert.ErrorIs(t, busy, ErrTransient)

	dup := writeErr("op", fmt.Errorf("UNIQUE constraint failed: contacts.org_id, contacts.email"))
	assert.ErrorIs(t, dup, ErrDuplicate)

	check := writeErr("op", fmt.Errorf("CHECK constraint failed: knowledge_entries"))
	assert.NotErrorIs(t, check, ErrDuplicate)

	fk := writeErr("op", fmt.Errorf("FOREIGN KEY constraint failed"))
	assert.NotErrorIs(t, fk, ErrDuplicate)

	other := writeErr("op", fmt.Errorf("disk I/O error"))
	assert.NotErrorIs(t, other, ErrTransient)
	assert.NotErrorIs(t, other, ErrDuplicate)
}
