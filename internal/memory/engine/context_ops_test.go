package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/memory-mcp/internal/memory/model"
)

func TestSetPromiseRejectsEmptyTitle(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.SetPromise(context.Background(), "alice", model.Promise{Title: ""})
	assert.Error(t, err)
}

func TestSetPromiseUpsertsByTitle(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	pc, err := e.SetPromise(ctx, "alice", model.Promise{Title: "call mom", Detail: "this weekend"})
	require.NoError(t, err)
	require.Contains(t, pc.Promises, "call mom")
	assert.Equal(t, "this weekend", pc.Promises["call mom"].Detail)

	pc, err = e.SetPromise(ctx, "alice", model.Promise{Title: "call mom", Detail: "tomorrow"})
	require.NoError(t, err)
	assert.Len(t, pc.Promises, 1, "same title overwrites rather than appending")
	assert.Equal(t, "tomorrow", pc.Promises["call mom"].Detail)
}

func TestSetGoalRejectsEmptyTitle(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.SetGoal(context.Background(), "alice", model.Goal{Title: ""})
	assert.Error(t, err)
}

func TestSetGoalUpsertsByTitle(t *testing.T) {
	e, _ := newTestEngine(t)
	pc, err := e.SetGoal(context.Background(), "alice", model.Goal{Title: "learn go"})
	require.NoError(t, err)
	assert.Contains(t, pc.Goals, "learn go")
}

func TestAddFavouriteDeduplicates(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	pc, err := e.AddFavourite(ctx, "alice", "coffee")
	require.NoError(t, err)
	assert.Equal(t, []string{"coffee"}, pc.Favourites)

	pc, err = e.AddFavourite(ctx, "alice", "coffee")
	require.NoError(t, err)
	assert.Equal(t, []string{"coffee"}, pc.Favourites, "re-adding the same favourite is a no-op")

	pc, err = e.AddFavourite(ctx, "alice", "tea")
	require.NoError(t, err)
	assert.Equal(t, []string{"coffee", "tea"}, pc.Favourites)
}

func TestAddAnniversaryDeduplicatesOnLabelAndDate(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	date := time.Date(2020, 6, 15, 0, 0, 0, 0, time.UTC)

	pc, err := e.AddAnniversary(ctx, "alice", model.Anniversary{Label: "wedding", Date: date})
	require.NoError(t, err)
	assert.Len(t, pc.Anniversaries, 1)

	pc, err = e.AddAnniversary(ctx, "alice", model.Anniversary{Label: "wedding", Date: date})
	require.NoError(t, err)
	assert.Len(t, pc.Anniversaries, 1, "same label+date is a no-op")

	pc, err = e.AddAnniversary(ctx, "alice", model.Anniversary{Label: "wedding", Date: date.AddDate(1, 0, 0)})
	require.NoError(t, err)
	assert.Len(t, pc.Anniversaries, 2, "same label, different date, is a distinct anniversary")
}

func TestRecordSensationOverwritesPhysicalState(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	pc, err := e.RecordSensation(ctx, "alice", "tense shoulders")
	require.NoError(t, err)
	assert.Equal(t, "tense shoulders", pc.PhysicalState)

	pc, err = e.RecordSensation(ctx, "alice", "relaxed")
	require.NoError(t, err)
	assert.Equal(t, "relaxed", pc.PhysicalState, "sensation overwrites, it does not accumulate")
}

func TestRecordEmotionFlowOverwritesCurrentEmotion(t *testing.T) {
	e, _ := newTestEngine(t)
	pc, err := e.RecordEmotionFlow(context.Background(), "alice", "curious")
	require.NoError(t, err)
	assert.Equal(t, "curious", pc.CurrentEmotion)
}

func TestGetSessionContextComposesContextAndRecentMemories(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.AddFavourite(ctx, "alice", "hiking")
	require.NoError(t, err)
	_, err = e.Create(ctx, "alice", CreateInput{Content: "went hiking today"})
	require.NoError(t, err)

	sc, err := e.GetSessionContext(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"hiking"}, sc.Context.Favourites)
	require.Len(t, sc.Recent, 1)
	assert.Equal(t, "went hiking today", sc.Recent[0].Content)
}

func TestUpdateContextOverwritesScalarFields(t *testing.T) {
	e, _ := newTestEngine(t)
	pc, err := e.UpdateContext(context.Background(), "alice", ContextFields{UserName: "jordan", Environment: "office"})
	require.NoError(t, err)
	assert.Equal(t, "jordan", pc.UserName)
	assert.Equal(t, "office", pc.Environment)
}
