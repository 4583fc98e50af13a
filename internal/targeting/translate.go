package targeting

import (
	"fmt"

	"github.com/adcontextprotocol/salesagent/internal/models"
)

// Binding is the ad server key an expression key resolves to.
type Binding struct {
	ID   models.ExternalKeyID
	Name string
}

// Translate converts expr into a native criteria tree. Bindings map every
// expression key to its ad server key and are looked up by the caller ahead
// of time; Translate performs no I/O.
//
// Per key, included values form a positive leaf and excluded values a
// negated leaf, ANDed together. Keys are combined with expr.Operator and the
// result is ANDed with other, regardless of the expression's operator.
//
// An expression with a value both included and excluded fails with a
// *models.ConflictingTargetingError. A key without a binding wraps
// models.ErrUnboundKey. A well-formed expression never fails when bindings
// cover every key. A nil result means no targeting.
func Translate(expr *models.TargetingExpression, bindings map[string]Binding, other ...*NativeCriteria) (*NativeCriteria, error) {
	if err := expr.Validate(); err != nil {
		return nil, err
	}
	norm := expr.Normalize()

	keyNodes := make([]*NativeCriteria, 0, len(norm.Include)+len(norm.Exclude))
	for _, key := range norm.Keys() {
		b, ok := bindings[key]
		if !ok || b.ID == "" {
			return nil, fmt.Errorf("%w: %s", models.ErrUnboundKey, key)
		}
		name := b.Name
		if name == "" {
			name = key
		}

		var include, exclude *NativeCriteria
		if vs := norm.Include[key]; len(vs) > 0 {
			include = &NativeCriteria{KeyID: string(b.ID), KeyName: name, ValueIDs: vs, Operator: Is}
		}
		if vs := norm.Exclude[key]; len(vs) > 0 {
			exclude = &NativeCriteria{KeyID: string(b.ID), KeyName: name, ValueIDs: vs, Operator: IsNot}
		}
		keyNodes = append(keyNodes, combine(And, include, exclude))
	}

	op := And
	if norm.Operator == models.OperatorOR {
		op = Or
	}
	keyValues := combine(op, keyNodes...)

	return combine(And, append([]*NativeCriteria{keyValues}, other...)...), nil
}
