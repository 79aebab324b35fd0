package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizedDefaultsKWhenZeroOrNegative(t *testing.T) {
	assert.Equal(t, 5, Query{}.Normalized().K)
	assert.Equal(t, 5, Query{K: -1}.Normalized().K)
	assert.Equal(t, 3, Query{K: 3}.Normalized().K)
}

func TestNormalizedDefaultsFuzzyThresholdOnlyWhenFuzzyMatchSet(t *testing.T) {
	assert.Equal(t, 0, Query{}.Normalized().FuzzyThreshold)
	assert.Equal(t, 70, Query{FuzzyMatch: true}.Normalized().FuzzyThreshold)
	assert.Equal(t, 85, Query{FuzzyMatch: true, FuzzyThreshold: 85}.Normalized().FuzzyThreshold)
}

func TestNormalizedDoesNotMutateOriginal(t *testing.T) {
	q := Query{}
	_ = q.Normalized()
	assert.Equal(t, 0, q.K)
}
