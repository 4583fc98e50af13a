// Package targeting translates buyer targeting expressions into the ad
// server's native criteria tree.
package targeting

import (
	"strings"
)

// LogicalOperator combines the children of a group node.
type LogicalOperator string

const (
	And LogicalOperator = "AND"
	Or  LogicalOperator = "OR"
)

// ValueOperator is the match mode of a leaf node.
type ValueOperator string

const (
	Is    ValueOperator = "IS"
	IsNot ValueOperator = "IS_NOT"
)

// NativeCriteria is a node of the ad server's targeting tree. A node is
// either a group (LogicalOperator and Children set) or a leaf matching one
// key against a set of values, OR-combined.
type NativeCriteria struct {
	LogicalOperator LogicalOperator   `json:"logicalOperator,omitempty"`
	Children        []*NativeCriteria `json:"children,omitempty"`

	KeyID    string        `json:"keyId,omitempty"`
	ValueIDs []string      `json:"valueIds,omitempty"`
	Operator ValueOperator `json:"operator,omitempty"`
	// KeyName is the human-readable key used when rendering.
	KeyName string `json:"-"`
}

// Dimension builds a positive leaf for a non key-value dimension such as
// geography or device, which callers pass to Translate already translated.
func Dimension(name string, values ...string) *NativeCriteria {
	return &NativeCriteria{KeyID: name, KeyName: name, ValueIDs: values, Operator: Is}
}

// IsLeaf reports whether c matches values rather than grouping children.
func (c *NativeCriteria) IsLeaf() bool {
	return c.LogicalOperator == ""
}

// String renders the tree as a boolean expression, for example
// (audience=seg_A OR audience=seg_B) AND NOT(audience=seg_C) AND geo=US.
func (c *NativeCriteria) String() string {
	if c == nil {
		return ""
	}
	return c.render(false)
}

func (c *NativeCriteria) render(nested bool) string {
	if c.IsLeaf() {
		name := c.KeyName
		if name == "" {
			name = c.KeyID
		}
		terms := make([]string, len(c.ValueIDs))
		for i, v := range c.ValueIDs {
			terms[i] = name + "=" + v
		}
		body := strings.Join(terms, " OR ")
		if c.Operator == IsNot {
			return "NOT(" + body + ")"
		}
		if nested && len(terms) > 1 {
			return "(" + body + ")"
		}
		return body
	}

	parts := make([]string, len(c.Children))
	for i, child := range c.Children {
		parts[i] = child.render(true)
	}
	body := strings.Join(parts, " "+string(c.LogicalOperator)+" ")
	if nested && len(parts) > 1 {
		return "(" + body + ")"
	}
	return body
}

// combine groups nodes under op, flattening same-operator groups and
// unwrapping single children. Nil nodes are skipped.
func combine(op LogicalOperator, nodes ...*NativeCriteria) *NativeCriteria {
	var children []*NativeCriteria
	for _, n := range nodes {
		switch {
		case n == nil:
		case !n.IsLeaf() && n.LogicalOperator == op:
			children = append(children, n.Children...)
		default:
			children = append(children, n)
		}
	}
	switch len(children) {
	case 0:
		return nil
	case 1:
		return children[0]
	}
	return &NativeCriteria{LogicalOperator: op, Children: children}
}
