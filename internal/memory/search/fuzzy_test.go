package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFuzzyRatioIdentical(t *testing.T) {
	assert.Equal(t, 100, fuzzyRatio("hello", "HELLO"))
}

func TestFuzzyRatioCloseMatch(t *testing.T) {
	ratio := fuzzyRatio("memoery", "memory")
	assert.Greater(t, ratio, 70)
	assert.Less(t, ratio, 100)
}

func TestFuzzyRatioUnrelated(t *testing.T) {
	ratio := fuzzyRatio("apple", "xyzxyz")
	assert.Less(t, ratio, 40)
}

func TestFuzzyRatioEmptyStrings(t *testing.T) {
	assert.Equal(t, 100, fuzzyRatio("", ""))
}

func TestLevenshteinDistance(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 1, levenshtein("abc", "abd"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
}

func TestContainsFold(t *testing.T) {
	assert.True(t, containsFold("Cooking dinner", "cook"))
	assert.False(t, containsFold("Cooking dinner", "swim"))
	assert.True(t, containsFold("anything", ""))
}
