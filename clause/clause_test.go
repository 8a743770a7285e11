package clause

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareKeysNumericAware(t *testing.T) {
	assert.Negative(t, CompareKeys("2.9", "2.10"), `"2.9" sorts before "2.10"`)
	assert.Positive(t, CompareKeys("2.10", "2.9"))
	assert.Negative(t, CompareKeys("2.1", "10.1"))
	assert.Negative(t, CompareKeys("Schedule A", "Schedule B"))
	assert.Negative(t, CompareKeys("34.2", "Schedule A"))
	assert.Zero(t, CompareKeys("Schedule A.1", "A.1"))
	assert.Negative(t, CompareKeys("2", "2.1"))
}

func TestSortClauses(t *testing.T) {
	clauses := []Clause{
		{ID: "a", Key: "Schedule B"},
		{ID: "b", Key: "2.10"},
		{ID: "c", Key: "2.9"},
		{ID: "d", Key: "Schedule A"},
		{ID: "e", Key: "2.2"},
	}

	SortClauses(clauses)

	keys := make([]string, len(clauses))
	for i, c := range clauses {
		keys[i] = c.Key
	}
	assert.Equal(t, []string{"2.2", "2.9", "2.10", "Schedule A", "Schedule B"}, keys)
}

func TestMatchesCoverageKey(t *testing.T) {
	tests := []struct {
		clauseKey   string
		coverageKey string
		want        bool
	}{
		{"4", "4", true},
		{"4.2", "4", true},
		{"4.2.1", "4", true},
		{"42", "4", false},
		{"4", "4.2", false},
		{"A.1.14", "Schedule A", true},
		{"Schedule A", "Schedule A", true},
		{"B.1", "Schedule A", false},
		{"14.3", "14", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchesCoverageKey(tt.clauseKey, tt.coverageKey),
			"clause %q against coverage %q", tt.clauseKey, tt.coverageKey)
	}
}
