package mfa

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// NodeKind names the shape of one requirement node.
type NodeKind string

const (
	KindFactor NodeKind = "string"
	KindOneOf  NodeKind = "oneOf"
	KindAllOf  NodeKind = "allOfInAnyOrder"
)

// Requirement is one node of an MFA requirement list. Construct it with
// Factor, OneOf or AllOf; the zero value is not a valid node.
type Requirement struct {
	kind    NodeKind
	factors []string
}

// Factor requires a single factor.
func Factor(id string) Requirement {
	return Requirement{kind: KindFactor, factors: []string{id}}
}

// OneOf is satisfied by completing any one of ids.
func OneOf(ids ...string) Requirement {
	return Requirement{kind: KindOneOf, factors: slices.Clone(ids)}
}

// AllOf requires every one of ids, in any order.
func AllOf(ids ...string) Requirement {
	return Requirement{kind: KindAllOf, factors: slices.Clone(ids)}
}

func (r Requirement) Kind() NodeKind { return r.kind }

// Factors returns a copy of the factor ids in the node.
func (r Requirement) Factors() []string { return slices.Clone(r.factors) }

func (r Requirement) String() string {
	switch r.kind {
	case KindFactor:
		return r.factors[0]
	default:
		return fmt.Sprintf("%s%v", r.kind, r.factors)
	}
}

// MarshalJSON writes the wire shape: "id", {"oneOf":[...]} or
// {"allOfInAnyOrder":[...]}.
func (r Requirement) MarshalJSON() ([]byte, error) {
	switch r.kind {
	case KindFactor:
		return json.Marshal(r.factors[0])
	case KindOneOf:
		return json.Marshal(map[string][]string{"oneOf": r.factors})
	case KindAllOf:
		return json.Marshal(map[string][]string{"allOfInAnyOrder": r.factors})
	default:
		return nil, errors.New("mfa: zero requirement")
	}
}

// UnmarshalJSON accepts the MarshalJSON shapes and {"allOf":[...]}.
func (r *Requirement) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var id string
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		if id == "" {
			return errors.New("mfa: empty factor id")
		}
		*r = Factor(id)
		return nil
	}

	var node struct {
		OneOf           []string `json:"oneOf"`
		AllOfInAnyOrder []string `json:"allOfInAnyOrder"`
		AllOf           []string `json:"allOf"`
	}
	if err := json.Unmarshal(b, &node); err != nil {
		return err
	}
	switch {
	case node.OneOf != nil:
		*r = OneOf(node.OneOf...)
	case node.AllOfInAnyOrder != nil:
		*r = AllOf(node.AllOfInAnyOrder...)
	case node.AllOf != nil:
		*r = AllOf(node.AllOf...)
	default:
		return fmt.Errorf("mfa: unknown requirement node %s", b)
	}
	return nil
}

// NextSet is the first requirement node that still has outstanding factors.
type NextSet struct {
	Kind      NodeKind
	FactorIDs []string
}

// NextSetOfUnsatisfiedFactors walks requirements in order and returns the
// outstanding factors of the first node that is not satisfied. A oneOf node
// with no completed member offers all of its members. When every node is
// satisfied the result has no factor ids.
func NextSetOfUnsatisfiedFactors(completed map[string]int64, requirements []Requirement) NextSet {
	for _, req := range requirements {
		var pending []string
		switch req.kind {
		case KindOneOf:
			if slices.ContainsFunc(req.factors, func(id string) bool { return isCompleted(completed, id) }) {
				continue
			}
			pending = slices.Clone(req.factors)
		default:
			for _, id := range req.factors {
				if !isCompleted(completed, id) {
					pending = append(pending, id)
				}
			}
		}
		if len(pending) > 0 {
			return NextSet{Kind: req.kind, FactorIDs: pending}
		}
	}
	return NextSet{Kind: KindFactor, FactorIDs: []string{}}
}

// BuildNextArray returns the factor ids the user should complete next.
func BuildNextArray(completed map[string]int64, requirements []Requirement) []string {
	return NextSetOfUnsatisfiedFactors(completed, requirements).FactorIDs
}

func isCompleted(completed map[string]int64, id string) bool {
	_, ok := completed[id]
	return ok
}
