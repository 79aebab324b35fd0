package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampImportanceBounds(t *testing.T) {
	assert.Equal(t, 0.0, ClampImportance(-0.5))
	assert.Equal(t, 1.0, ClampImportance(1.5))
	assert.Equal(t, 0.42, ClampImportance(0.42))
}

func TestTagSetDedupesAndDropsEmpty(t *testing.T) {
	set := TagSet([]string{"work", "work", "", "home"})
	assert.Len(t, set, 2)
	assert.Contains(t, set, "work")
	assert.Contains(t, set, "home")
}

func TestTagSliceIsSortedAndStable(t *testing.T) {
	set := TagSet([]string{"zebra", "apple", "mango"})
	assert.Equal(t, []string{"apple", "mango", "zebra"}, TagSlice(set))
}

func TestMemoryHasTag(t *testing.T) {
	m := &Memory{Tags: TagSet([]string{"urgent"})}
	assert.True(t, m.HasTag("urgent"))
	assert.False(t, m.HasTag("routine"))
}

func TestMemoryCloneIsIndependent(t *testing.T) {
	tag := "reminder"
	m := &Memory{Tags: TagSet([]string{"a"}), ActionTag: &tag}
	c := m.Clone()

	c.Tags["b"] = struct{}{}
	*c.ActionTag = "changed"

	assert.NotContains(t, m.Tags, "b")
	assert.Equal(t, "reminder", *m.ActionTag, "clone must not alias the original's ActionTag pointer")
}

func TestNewPersonaContextAppliesDefaults(t *testing.T) {
	pc := NewPersonaContext("alice")
	assert.Equal(t, "alice", pc.PersonaName)
	assert.Equal(t, DefaultEmotion, pc.CurrentEmotion)
	assert.Equal(t, DefaultPhysicalState, pc.PhysicalState)
	assert.NotNil(t, pc.Promises)
	assert.NotNil(t, pc.Goals)
}

func TestPriorityForBuckets(t *testing.T) {
	assert.Equal(t, PriorityHigh, PriorityFor(0.97))
	assert.Equal(t, PriorityMedium, PriorityFor(0.92))
	assert.Equal(t, PriorityLow, PriorityFor(0.5))
}
