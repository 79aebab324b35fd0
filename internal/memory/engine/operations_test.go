package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ctxstore "github.com/kart-io/memory-mcp/internal/memory/context"
	"github.com/kart-io/memory-mcp/internal/memory/model"
	"github.com/kart-io/memory-mcp/internal/memory/oplog"
	"github.com/kart-io/memory-mcp/internal/memory/persona"
	"github.com/kart-io/memory-mcp/internal/memory/relational"
	"github.com/kart-io/memory-mcp/internal/memory/search"
	"github.com/kart-io/memory-mcp/internal/memory/vector"
)

func TestCreateRejectsEmptyContent(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Create(context.Background(), "alice", CreateInput{Content: "   "})
	assert.Error(t, err)
}

func TestCreateThenReadByKey(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	key, err := e.Create(ctx, "alice", CreateInput{Content: "remember the milk", Tags: []string{"errand"}})
	require.NoError(t, err)
	assert.Contains(t, key, "memory_")

	hits, warnings, err := e.Read(ctx, "alice", key, 0, search.Query{})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, hits, 1)
	assert.Equal(t, "remember the milk", hits[0].Memory.Content)
	assert.Equal(t, 1.0, hits[0].Score)
}

func TestReadByKeyMissingReturnsEmptyNoError(t *testing.T) {
	e, _ := newTestEngine(t)
	hits, warnings, err := e.Read(context.Background(), "alice", "memory_does_not_exist", 0, search.Query{})
	require.NoError(t, err)
	assert.Nil(t, warnings)
	assert.Empty(t, hits)
}

func TestUpdateByKeyAppliesPartialFields(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	key, err := e.Create(ctx, "alice", CreateInput{Content: "original content"})
	require.NoError(t, err)

	newContent := "edited content"
	updatedKey, err := e.Update(ctx, "alice", key, UpdateInput{Content: &newContent})
	require.NoError(t, err)
	assert.Equal(t, key, updatedKey)

	hits, _, err := e.Read(ctx, "alice", key, 0, search.Query{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "edited content", hits[0].Memory.Content)
}

func TestUpdateByKeyMissingReturnsNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	newContent := "x"
	_, err := e.Update(context.Background(), "alice", "memory_missing", UpdateInput{Content: &newContent})
	assert.Error(t, err)
}

func TestUpdateByQueryWithNoMatchAndNoContentErrors(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Update(context.Background(), "alice", "some natural language query", UpdateInput{})
	assert.Error(t, err)
}

func TestUpdateByQueryWithNoMatchButContentCreates(t *testing.T) {
	e, _ := newTestEngine(t)
	content := "brand new memory via upsert"
	key, err := e.Update(context.Background(), "alice", "a query that matches nothing", UpdateInput{Content: &content})
	require.NoError(t, err)
	assert.Contains(t, key, "memory_")

	hits, _, err := e.Read(context.Background(), "alice", key, 0, search.Query{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, content, hits[0].Memory.Content)
}

func TestDeleteByKeyReportsExistence(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	key, err := e.Create(ctx, "alice", CreateInput{Content: "to be deleted"})
	require.NoError(t, err)

	result, err := e.Delete(ctx, "alice", key)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, result.DeletedKeys)

	result, err = e.Delete(ctx, "alice", key)
	require.NoError(t, err)
	assert.Empty(t, result.DeletedKeys)
}

func TestDeleteByQueryBelowThresholdReturnsCandidatesOnly(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "alice", CreateInput{Content: "totally unrelated sentence about gardening"})
	require.NoError(t, err)

	result, err := e.Delete(ctx, "alice", "a completely different query about astrophysics")
	require.NoError(t, err)
	assert.Empty(t, result.DeletedKeys)
}

func TestStatsReportsCountAndDirtyState(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "alice", CreateInput{Content: "first memory"})
	require.NoError(t, err)

	report, err := e.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Store.Count)
	assert.Len(t, report.Preview, 1)
	assert.True(t, report.Dirty, "nil embedder means Create marks the persona dirty")
}

// failingContextStore always errors on Put, simulating a C5 failure after
// C2/C3 have already committed.
type failingContextStore struct{}

func (failingContextStore) Get(_ context.Context, personaName string) (*model.PersonaContext, error) {
	return model.NewPersonaContext(personaName), nil
}

func (failingContextStore) Put(context.Context, *model.PersonaContext) error {
	return assert.AnError
}

// newTestEngineWithFailingContext mirrors newTestEngine but wires a C5 store
// that always fails Put, so a caller can exercise the "create/update
// succeeded on C2/C3 but the context-fields write failed" path.
func newTestEngineWithFailingContext(t *testing.T) (*Engine, string) {
	t.Helper()
	root := t.TempDir()

	factory := func(_ context.Context, name string) (*relational.Store, vector.Store, ctxstore.ContextStore, error) {
		rel, err := relational.Open(name, persona.SQLitePath(root, name))
		if err != nil {
			return nil, nil, nil, err
		}
		return rel, vector.NewMemStore(), failingContextStore{}, nil
	}
	reg := persona.NewRegistry(factory)

	log, err := oplog.Open(filepath.Join(root, "operations.log"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	pipeline := search.NewPipeline(nil, nil, time.UTC)
	pipeline.Now = clock

	e := New(reg, pipeline, nil, log, 0)
	e.Now = clock
	return e, root
}

func readOpLog(t *testing.T, root string) []model.OperationRecord {
	t.Helper()
	f, err := os.Open(filepath.Join(root, "operations.log"))
	require.NoError(t, err)
	defer f.Close()

	var recs []model.OperationRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec model.OperationRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		recs = append(recs, rec)
	}
	require.NoError(t, scanner.Err())
	return recs
}

func TestCreateAppendsFailureRecordWhenContextFieldsFailAfterCommit(t *testing.T) {
	e, root := newTestEngineWithFailingContext(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "alice", CreateInput{
		Content: "remember the milk",
		Context: ContextFields{Environment: "kitchen"},
	})
	require.Error(t, err, "the context-fields write failed, so Create must report it")

	recs := readOpLog(t, root)
	require.Len(t, recs, 1, "the create must still be recorded even though applyContextFields failed (P10)")
	assert.Equal(t, "create", recs[0].Op)
	assert.False(t, recs[0].Success)
	assert.NotEmpty(t, recs[0].Error)
	assert.NotEmpty(t, recs[0].Key, "the memory was committed to C2/C3 before the context-fields failure, so its key is still recorded")
}
