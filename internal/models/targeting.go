package models

import (
	"fmt"
	"sort"
)

// Operator combines the criteria of different targeting keys.
type Operator string

const (
	OperatorAND Operator = "AND"
	OperatorOR  Operator = "OR"
)

// Valid reports whether op is a known operator. The empty operator is
// treated as AND by Normalize.
func (op Operator) Valid() bool {
	return op == OperatorAND || op == OperatorOR || op == ""
}

// TargetingExpression is a buyer-submitted key-value targeting expression.
// Values within one key's include set are OR-combined, as are values within
// its exclude set. Operator governs how different keys are combined.
//
// A (key, value) pair lives in Include or Exclude, never both. The editing
// methods keep that true; expressions decoded from raw payloads must be
// checked with Validate.
type TargetingExpression struct {
	Include  map[string][]string `json:"include,omitempty"`
	Exclude  map[string][]string `json:"exclude,omitempty"`
	Operator Operator            `json:"operator,omitempty"`
}

// NewTargetingExpression returns an empty expression combined with op.
func NewTargetingExpression(op Operator) *TargetingExpression {
	return &TargetingExpression{
		Include:  make(map[string][]string),
		Exclude:  make(map[string][]string),
		Operator: op,
	}
}

// IncludeValues adds values to key's include set, removing them from its exclude set.
func (e *TargetingExpression) IncludeValues(key string, values ...string) *TargetingExpression {
	e.init()
	for _, v := range values {
		e.Exclude[key] = removeValue(e.Exclude[key], v)
		e.Include[key] = addValue(e.Include[key], v)
	}
	e.prune(key)
	return e
}

// ExcludeValues adds values to key's exclude set, removing them from its include set.
func (e *TargetingExpression) ExcludeValues(key string, values ...string) *TargetingExpression {
	e.init()
	for _, v := range values {
		e.Include[key] = removeValue(e.Include[key], v)
		e.Exclude[key] = addValue(e.Exclude[key], v)
	}
	e.prune(key)
	return e
}

// RemoveValue drops value from both sets of key.
func (e *TargetingExpression) RemoveValue(key, value string) *TargetingExpression {
	e.init()
	e.Include[key] = removeValue(e.Include[key], value)
	e.Exclude[key] = removeValue(e.Exclude[key], value)
	e.prune(key)
	return e
}

// Keys returns every key present in include or exclude, sorted.
func (e *TargetingExpression) Keys() []string {
	if e == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(e.Include)+len(e.Exclude))
	for k, vs := range e.Include {
		if len(vs) > 0 {
			seen[k] = struct{}{}
		}
	}
	for k, vs := range e.Exclude {
		if len(vs) > 0 {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsEmpty reports whether the expression targets nothing.
func (e *TargetingExpression) IsEmpty() bool {
	return len(e.Keys()) == 0
}

// Validate checks the operator and the include/exclude mutual exclusivity.
func (e *TargetingExpression) Validate() error {
	if e == nil {
		return nil
	}
	if !e.Operator.Valid() {
		return fmt.Errorf("unknown targeting operator %q", e.Operator)
	}
	var conflicts []KeyValue
	for _, key := range e.Keys() {
		excluded := make(map[string]struct{}, len(e.Exclude[key]))
		for _, v := range e.Exclude[key] {
			excluded[v] = struct{}{}
		}
		for _, v := range sortedUnique(e.Include[key]) {
			if _, ok := excluded[v]; ok {
				conflicts = append(conflicts, KeyValue{Key: key, Value: v})
			}
		}
	}
	if len(conflicts) > 0 {
		return &ConflictingTargetingError{Conflicts: conflicts}
	}
	return nil
}

// Normalize returns a copy with sorted, de-duplicated value sets and an
// explicit operator.
func (e *TargetingExpression) Normalize() TargetingExpression {
	out := TargetingExpression{
		Include:  make(map[string][]string),
		Exclude:  make(map[string][]string),
		Operator: OperatorAND,
	}
	if e == nil {
		return out
	}
	if e.Operator != "" {
		out.Operator = e.Operator
	}
	for k, vs := range e.Include {
		if u := sortedUnique(vs); len(u) > 0 {
			out.Include[k] = u
		}
	}
	for k, vs := range e.Exclude {
		if u := sortedUnique(vs); len(u) > 0 {
			out.Exclude[k] = u
		}
	}
	return out
}

func (e *TargetingExpression) init() {
	if e.Include == nil {
		e.Include = make(map[string][]string)
	}
	if e.Exclude == nil {
		e.Exclude = make(map[string][]string)
	}
}

func (e *TargetingExpression) prune(key string) {
	if len(e.Include[key]) == 0 {
		delete(e.Include, key)
	}
	if len(e.Exclude[key]) == 0 {
		delete(e.Exclude, key)
	}
}

func addValue(vs []string, v string) []string {
	for _, x := range vs {
		if x == v {
			return vs
		}
	}
	return append(vs, v)
}

func removeValue(vs []string, v string) []string {
	out := vs[:0]
	for _, x := range vs {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func sortedUnique(vs []string) []string {
	if len(vs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(vs))
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
