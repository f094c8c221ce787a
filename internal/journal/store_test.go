package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_CreatesFileAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	require.NoError(t, err, "journal file should exist")

	var version int
	var dirty bool
	require.NoError(t, s.db.QueryRow(`SELECT version, dirty FROM schema_migrations`).Scan(&version, &dirty))
	require.Equal(t, 3, version)
	require.False(t, dirty)
}

func TestOpen_ReopenIsNoChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	s1, err := Open(path)
	require.NoError(t, err)
	_, err = s1.Append(context.Background(), Entry{Seq: 1, Kind: KindWarning, Message: "kept"})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	n, err := s2.Count(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestStore_AppendAndRecent(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	_, err := s.Append(ctx, Entry{Seq: 1, Kind: KindRegistered, Name: "a", TypeTag: "t", SourcePath: "/s/a.lua",
		Backend: "lua", RecordID: "id-1", CreatedAt: at})
	require.NoError(t, err)
	_, err = s.Append(ctx, Entry{Seq: 3, Kind: KindRegistered, Name: "a", TypeTag: "t", RecordID: "id-2"})
	require.NoError(t, err)
	_, err = s.Append(ctx, Entry{Seq: 2, Kind: KindUnregistered, Name: "a"})
	require.NoError(t, err)

	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, uint64(3), recent[0].Seq)
	require.Equal(t, "id-2", recent[0].RecordID)
	require.Equal(t, KindUnregistered, recent[1].Kind)

	history, err := s.ForName(ctx, "a")
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, "/s/a.lua", history[0].SourcePath)
	require.Equal(t, "lua", history[0].Backend)
	require.True(t, at.Equal(history[0].CreatedAt))
	require.Equal(t, []Kind{KindRegistered, KindUnregistered, KindRegistered},
		[]Kind{history[0].Kind, history[1].Kind, history[2].Kind})
}

func TestStore_Count(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	for i, k := range []Kind{KindWarning, KindWarning, KindError} {
		_, err := s.Append(ctx, Entry{Seq: uint64(i + 1), Kind: k})
		require.NoError(t, err)
	}

	n, err := s.Count(ctx, KindWarning)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = s.Count(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestStore_CloseIsIdempotent(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestMigrationDriver_Lock(t *testing.T) {
	s := openMemory(t)
	d, err := newMigrationDriver(s.db)
	require.NoError(t, err)

	require.NoError(t, d.Lock())
	require.Error(t, d.Lock())
	require.NoError(t, d.Unlock())
	require.Error(t, d.Unlock())
}

func TestStore_OrdersAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	first, err := Open(path)
	require.NoError(t, err)
	for seq := uint64(1); seq <= 5; seq++ {
		_, err := first.Append(ctx, Entry{Seq: seq, Kind: KindRegistered, Name: "old"})
		require.NoError(t, err)
	}
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	defer second.Close()
	_, err = second.Append(ctx, Entry{Seq: 1, Kind: KindRegistered, Name: "new"})
	require.NoError(t, err)

	recent, err := second.Recent(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, "new", recent[0].Name, "a restarted seq still sorts after the previous run")
	require.Equal(t, uint64(5), recent[1].Seq)
}
