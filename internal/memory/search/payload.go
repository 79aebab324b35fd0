package search

import (
	"github.com/kart-io/memory-mcp/internal/memory/model"
)

// The Field* constants are the canonical payload keys every vector point carries,
// mirroring every metadata field in spec.md §3 so a vector-store filter can
// be built directly against it.
const (
	// FieldMemoryKey carries the memory's own key inside the payload.
	// Backends whose native point ID cannot hold that key verbatim (e.g.
	// vector.QdrantStore, which must encode the ID as a UUID) recover the
	// key from this field instead of from the point ID.
	FieldMemoryKey          = "memory_key"
	FieldContent            = "content"
	FieldCreatedAt          = "created_at"
	FieldUpdatedAt          = "updated_at"
	FieldTags               = "tags"
	FieldImportance         = "importance"
	FieldEmotion            = "emotion"
	FieldPhysicalState      = "physical_state"
	FieldMentalState        = "mental_state"
	FieldEnvironment        = "environment"
	FieldRelationshipStatus = "relationship_status"
	FieldActionTag          = "action_tag"
)

// BuildPayload renders a Memory into the map every VectorStore.Upsert call
// carries, keyed by the constants above.
func BuildPayload(m *model.Memory) map[string]any {
	p := map[string]any{
		FieldMemoryKey:          m.Key,
		FieldContent:            m.Content,
		FieldCreatedAt:          m.CreatedAt.Unix(),
		FieldUpdatedAt:          m.UpdatedAt.Unix(),
		FieldTags:               model.TagSlice(m.Tags),
		FieldImportance:         m.Importance,
		FieldEmotion:            m.Emotion,
		FieldPhysicalState:      m.PhysicalState,
		FieldMentalState:        m.MentalState,
		FieldEnvironment:        m.Environment,
		FieldRelationshipStatus: m.RelationshipStatus,
	}
	if m.ActionTag != nil {
		p[FieldActionTag] = *m.ActionTag
	}
	return p
}

func payloadString(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}
