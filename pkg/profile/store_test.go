package profile

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marionet/marionet/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "profiles"))
	require.NoError(t, err)
	return store
}

func TestStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)

	info, err := store.Create("work")
	require.NoError(t, err)
	assert.Equal(t, "work", info.Name)
	assert.DirExists(t, info.Dir)
	assert.False(t, info.CreatedAt.IsZero())

	got, err := store.Get("work")
	require.NoError(t, err)
	assert.Equal(t, info.Name, got.Name)
	assert.Equal(t, info.Dir, got.Dir)
}

func TestStore_CreateRejectsInvalidIdentifiers(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		name       string
		identifier string
	}{
		{"empty", ""},
		{"path separator", "a/b"},
		{"dot dot", ".."},
		{"spaces", "my profile"},
		{"too long", string(make([]byte, 100))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Create(tt.identifier)
			require.Error(t, err)
			assert.Equal(t, types.KindConfiguration, types.KindOf(err))
		})
	}
}

func TestStore_CreateDuplicateFails(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Create("work")
	require.NoError(t, err)

	_, err = store.Create("work")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestStore_DeleteRemovesBackingStorage(t *testing.T) {
	store := newTestStore(t)

	info, err := store.Create("scratch")
	require.NoError(t, err)

	require.NoError(t, store.Delete("scratch"))
	_, err = os.Stat(info.Dir)
	assert.True(t, os.IsNotExist(err))
}

func TestStore_DeleteHeldProfileFails(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Create("work")
	require.NoError(t, err)
	require.NoError(t, store.Acquire("work", "sess-1"))

	err = store.Delete("work")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrProfileBusy))

	// Released profiles can be deleted again
	store.Release("work", "sess-1")
	assert.NoError(t, store.Delete("work"))
}

func TestStore_DeleteMissingProfile(t *testing.T) {
	store := newTestStore(t)
	err := store.Delete("ghost")
	assert.True(t, errors.Is(err, types.ErrProfileNotFound))
}

func TestStore_ListReturnsTimestamps(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	_, err := store.Create("beta")
	require.NoError(t, err)
	store.now = func() time.Time { return base.Add(time.Hour) }
	_, err = store.Create("alpha")
	require.NoError(t, err)

	infos, err := store.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, "beta", infos[1].Name)
	assert.True(t, infos[0].CreatedAt.Equal(base.Add(time.Hour)))
	assert.True(t, infos[1].CreatedAt.Equal(base))
}

func TestStore_TouchUpdatesLastUsed(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	_, err := store.Create("work")
	require.NoError(t, err)

	store.now = func() time.Time { return base.Add(2 * time.Hour) }
	require.NoError(t, store.Touch("work"))

	got, err := store.Get("work")
	require.NoError(t, err)
	assert.True(t, got.LastUsedAt.Equal(base.Add(2*time.Hour)))
	assert.True(t, got.CreatedAt.Equal(base))
}

func TestStore_AcquireIsExclusive(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Create("work")
	require.NoError(t, err)

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			results <- store.Acquire("work", "sess")
		}(i)
	}
	wg.Wait()
	close(results)

	var successes, busy int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, types.ErrProfileBusy):
			busy++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, busy)
}

func TestStore_ReleaseByNonHolderIsNoop(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Acquire("work", "sess-1"))

	store.Release("work", "sess-2")
	assert.True(t, store.Held("work"))

	store.Release("work", "sess-1")
	assert.False(t, store.Held("work"))
}

func TestStore_Snapshot(t *testing.T) {
	store := newTestStore(t)
	info, err := store.Create("home")
	require.NoError(t, err)

	snapshot, err := store.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"home": info.Dir}, snapshot)
}
