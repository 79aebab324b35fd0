package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kart-io/memory-mcp/internal/memory/model"
)

func TestBuildPayloadMapsAllScalarFields(t *testing.T) {
	created := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	updated := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	m := &model.Memory{
		Key:                "memory_1",
		Content:             "remember the milk",
		CreatedAt:           created,
		UpdatedAt:           updated,
		Tags:                model.TagSet([]string{"errand", "home"}),
		Importance:          0.7,
		Emotion:             "calm",
		PhysicalState:       "rested",
		MentalState:         "focused",
		Environment:         "kitchen",
		RelationshipStatus:  "normal",
	}

	p := BuildPayload(m)

	assert.Equal(t, "remember the milk", p[FieldContent])
	assert.Equal(t, created.Unix(), p[FieldCreatedAt])
	assert.Equal(t, updated.Unix(), p[FieldUpdatedAt])
	assert.Equal(t, []string{"errand", "home"}, p[FieldTags])
	assert.Equal(t, 0.7, p[FieldImportance])
	assert.Equal(t, "calm", p[FieldEmotion])
	assert.Equal(t, "rested", p[FieldPhysicalState])
	assert.Equal(t, "focused", p[FieldMentalState])
	assert.Equal(t, "kitchen", p[FieldEnvironment])
	assert.Equal(t, "normal", p[FieldRelationshipStatus])
	assert.NotContains(t, p, FieldActionTag)
}

func TestBuildPayloadIncludesActionTagOnlyWhenSet(t *testing.T) {
	tag := "follow-up"
	m := &model.Memory{Content: "x", ActionTag: &tag}
	p := BuildPayload(m)
	assert.Equal(t, "follow-up", p[FieldActionTag])
}

func TestPayloadStringReturnsEmptyForMissingOrWrongType(t *testing.T) {
	p := map[string]any{FieldContent: "hello", FieldImportance: 0.5}
	assert.Equal(t, "hello", payloadString(p, FieldContent))
	assert.Equal(t, "", payloadString(p, FieldEmotion))
	assert.Equal(t, "", payloadString(p, FieldImportance))
}
