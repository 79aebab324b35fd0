package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyToPointIDIsDeterministicAndUUIDShaped(t *testing.T) {
	id1 := keyToPointID("memory_20260301120000")
	id2 := keyToPointID("memory_20260301120000")
	assert.Equal(t, id1.GetUuid(), id2.GetUuid(), "the same key must always map to the same point ID so upsert/delete stay idempotent")

	other := keyToPointID("memory_20260301120001")
	assert.NotEqual(t, id1.GetUuid(), other.GetUuid())
}

func TestWithMemoryKeyAndKeyFromPayloadRoundTrip(t *testing.T) {
	payload := map[string]any{"content": "remember the milk"}
	stamped := withMemoryKey(payload, "memory_20260301120000")

	assert.Equal(t, "memory_20260301120000", keyFromPayload(stamped))
	assert.Equal(t, "remember the milk", stamped["content"])
	_, untouched := payload[fieldMemoryKey]
	assert.False(t, untouched, "withMemoryKey must not mutate the caller's payload map")
}
