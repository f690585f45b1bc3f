package logstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()

	fileStore, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { fileStore.Close() })

	sqliteStore, err := OpenSQLite(filepath.Join(t.TempDir(), "posts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]Store{"file": fileStore, "sqlite": sqliteStore}
}

func rec(name string, at int64) Record {
	return Record{
		ServerTime: at,
		ClientTime: at - 5,
		Name:       name,
		Data:       json.RawMessage(`{"$":"spawn","nick":"` + name + `"}`),
	}
}

func TestStoreAssignsSequentialIndices(t *testing.T) {
	for label, store := range openStores(t) {
		t.Run(label, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				index, err := store.Append("lobby", rec(fmt.Sprintf("tok-%d", i), int64(1000+i)))
				require.NoError(t, err)
				assert.Equal(t, i, index)
			}
		})
	}
}

func TestStoreReadFrom(t *testing.T) {
	for label, store := range openStores(t) {
		t.Run(label, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				_, err := store.Append("lobby", rec(fmt.Sprintf("tok-%d", i), int64(1000+i)))
				require.NoError(t, err)
			}

			records, err := store.Read("lobby", 1)
			require.NoError(t, err)
			require.Len(t, records, 2)
			assert.Equal(t, "tok-1", records[0].Name)
			assert.Equal(t, "tok-2", records[1].Name)

			all, err := store.Read("lobby", -3)
			require.NoError(t, err)
			assert.Len(t, all, 3)

			none, err := store.Read("lobby", 99)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStoreUnknownRoomReadsEmpty(t *testing.T) {
	for label, store := range openStores(t) {
		t.Run(label, func(t *testing.T) {
			records, err := store.Read("never-appended", 0)
			require.NoError(t, err)
			assert.Empty(t, records)
		})
	}
}

func TestStoreRoomsAreIndependent(t *testing.T) {
	for label, store := range openStores(t) {
		t.Run(label, func(t *testing.T) {
			indexA, err := store.Append("alpha", rec("a0", 1000))
			require.NoError(t, err)
			indexB, err := store.Append("beta", rec("b0", 2000))
			require.NoError(t, err)

			assert.Equal(t, 0, indexA)
			assert.Equal(t, 0, indexB)

			records, err := store.Read("alpha", 0)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, "a0", records[0].Name)
		})
	}
}

func TestStorePreservesPayloadBytes(t *testing.T) {
	payload := json.RawMessage(`{"$":"down","player":"ash","key":"w"}`)
	for label, store := range openStores(t) {
		t.Run(label, func(t *testing.T) {
			_, err := store.Append("lobby", Record{ServerTime: 10, ClientTime: 8, Name: "tok", Data: payload})
			require.NoError(t, err)

			records, err := store.Read("lobby", 0)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.JSONEq(t, string(payload), string(records[0].Data))
			assert.Equal(t, int64(10), records[0].ServerTime)
			assert.Equal(t, int64(8), records[0].ClientTime)
		})
	}
}

func TestFileStoreRecoversIndexAfterReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := store.Append("lobby", rec(fmt.Sprintf("tok-%d", i), int64(1000+i)))
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	index, err := reopened.Append("lobby", rec("tok-3", 2000))
	require.NoError(t, err)
	assert.Equal(t, 3, index)

	records, err := reopened.Read("lobby", 0)
	require.NoError(t, err)
	assert.Len(t, records, 4)
}

func TestSQLiteStoreEnablesWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.db")

	store, err := OpenSQLite(path)
	require.NoError(t, err)
	_, err = store.Append("lobby", rec("tok", 1000))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// The journal mode is persisted in the database file, so a plain
	// reopen observes what OpenSQLite configured.
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestFileStoreEscapesRoomNames(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Append("../escape/attempt", rec("tok", 1000))
	require.NoError(t, err)

	records, err := store.Read("../escape/attempt", 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStoreConcurrentRoomsStaySequential(t *testing.T) {
	for label, store := range openStores(t) {
		t.Run(label, func(t *testing.T) {
			const perRoom = 20
			var wg sync.WaitGroup
			for _, room := range []string{"alpha", "beta", "gamma"} {
				wg.Add(1)
				go func(room string) {
					defer wg.Done()
					for i := 0; i < perRoom; i++ {
						_, err := store.Append(room, rec(fmt.Sprintf("%s-%d", room, i), int64(i)))
						assert.NoError(t, err)
					}
				}(room)
			}
			wg.Wait()

			for _, room := range []string{"alpha", "beta", "gamma"} {
				records, err := store.Read(room, 0)
				require.NoError(t, err)
				require.Len(t, records, perRoom)
				for i, r := range records {
					assert.Equal(t, fmt.Sprintf("%s-%d", room, i), r.Name)
				}
			}
		})
	}
}
