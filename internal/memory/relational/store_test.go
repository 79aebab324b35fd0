package relational

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/memory-mcp/internal/memory/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := Open("test-persona", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleMemory(key, content string) *model.Memory {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return &model.Memory{
		Key:                key,
		Content:            content,
		CreatedAt:          now,
		UpdatedAt:          now,
		Tags:               model.TagSet([]string{"work"}),
		Importance:         0.5,
		Emotion:            model.DefaultEmotion,
		PhysicalState:      model.DefaultPhysicalState,
		MentalState:        model.DefaultMentalState,
		Environment:        model.DefaultEnvironment,
		RelationshipStatus: model.DefaultRelationshipStatus,
	}
}

func TestStorePutGetRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	m := sampleMemory("memory_20260101120000", "remember the milk")
	require.NoError(t, store.Put(ctx, m))

	got, err := store.Get(ctx, m.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "remember the milk", got.Content)
	assert.True(t, got.HasTag("work"))
}

func TestStoreGetMissingReturnsNilNoError(t *testing.T) {
	store := openTestStore(t)
	got, err := store.Get(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreDeleteReportsExistence(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	m := sampleMemory("memory_a", "content")
	require.NoError(t, store.Put(ctx, m))

	existed, err := store.Delete(ctx, m.Key)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = store.Delete(ctx, m.Key)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestStoreListOrdersByCreatedAtDesc(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	older := sampleMemory("memory_old", "older")
	older.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := sampleMemory("memory_new", "newer")
	newer.CreatedAt = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Put(ctx, older))
	require.NoError(t, store.Put(ctx, newer))

	all, err := store.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "memory_new", all[0].Key)
	assert.Equal(t, "memory_old", all[1].Key)
}

func TestStoreStatsAggregates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, sampleMemory("memory_1", "hello")))
	m2 := sampleMemory("memory_2", "world!!")
	m2.Importance = 0.9
	require.NoError(t, store.Put(ctx, m2))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Count)
	assert.Equal(t, int64(len("hello")+len("world!!")), stats.TotalChars)
	assert.Equal(t, 1, stats.TagHistogram["work"])
	assert.Equal(t, 1, stats.ImportanceBuckets["critical"])
}
