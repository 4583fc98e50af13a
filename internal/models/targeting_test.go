package models

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetingExpression_ToggleKeepsSetsDisjoint(t *testing.T) {
	e := NewTargetingExpression(OperatorAND)
	e.IncludeValues("audience", "seg_A", "seg_B")
	e.ExcludeValues("audience", "seg_B", "seg_C")

	assert.Equal(t, []string{"seg_A"}, e.Include["audience"])
	assert.ElementsMatch(t, []string{"seg_B", "seg_C"}, e.Exclude["audience"])

	e.IncludeValues("audience", "seg_C")
	assert.ElementsMatch(t, []string{"seg_A", "seg_C"}, e.Include["audience"])
	assert.Equal(t, []string{"seg_B"}, e.Exclude["audience"])
	require.NoError(t, e.Validate())
}

func TestTargetingExpression_RemoveValuePrunesEmptyKeys(t *testing.T) {
	e := NewTargetingExpression(OperatorOR)
	e.IncludeValues("genre", "news")
	e.RemoveValue("genre", "news")

	assert.Empty(t, e.Keys())
	assert.True(t, e.IsEmpty())
}

// Random edit sequences never produce a pair in both sets.
func TestTargetingExpression_MutualExclusivityUnderRandomEdits(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	keys := []string{"a", "b", "c"}
	values := []string{"1", "2", "3", "4"}

	for iter := 0; iter < 200; iter++ {
		e := NewTargetingExpression(OperatorAND)
		for step := 0; step < 30; step++ {
			k := keys[rng.Intn(len(keys))]
			v := values[rng.Intn(len(values))]
			switch rng.Intn(3) {
			case 0:
				e.IncludeValues(k, v)
			case 1:
				e.ExcludeValues(k, v)
			default:
				e.RemoveValue(k, v)
			}
		}
		if err := e.Validate(); err != nil {
			t.Fatalf("iteration %d produced conflicting expression: %v", iter, err)
		}
	}
}

func TestTargetingExpression_ValidateReportsConflicts(t *testing.T) {
	e := &TargetingExpression{
		Include:  map[string][]string{"audience": {"seg_A", "seg_B"}},
		Exclude:  map[string][]string{"audience": {"seg_B"}},
		Operator: OperatorAND,
	}
	err := e.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflictingTargeting))

	var cte *ConflictingTargetingError
	require.True(t, errors.As(err, &cte))
	assert.Equal(t, []KeyValue{{Key: "audience", Value: "seg_B"}}, cte.Conflicts)
}

func TestTargetingExpression_ValidateRejectsUnknownOperator(t *testing.T) {
	e := &TargetingExpression{Operator: "XOR"}
	assert.Error(t, e.Validate())
}

func TestTargetingExpression_Normalize(t *testing.T) {
	e := &TargetingExpression{
		Include: map[string][]string{"k": {"b", "a", "b"}, "empty": {}},
	}
	n := e.Normalize()
	assert.Equal(t, OperatorAND, n.Operator)
	assert.Equal(t, []string{"a", "b"}, n.Include["k"])
	_, ok := n.Include["empty"]
	assert.False(t, ok)
}
