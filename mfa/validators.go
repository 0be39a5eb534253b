package mfa

import "slices"

// FailureReason describes why a validator rejected a session.
type FailureReason struct {
	Message         string   `json:"message"`
	Kind            NodeKind `json:"type,omitempty"`
	FactorID        string   `json:"factorId,omitempty"`
	OneOf           []string `json:"oneOf,omitempty"`
	AllOfInAnyOrder []string `json:"allOfInAnyOrder,omitempty"`
}

// ValidationResult is the outcome of Validator.Validate.
type ValidationResult struct {
	IsValid bool           `json:"isValid"`
	Reason  *FailureReason `json:"reason,omitempty"`
}

// Validator checks the MFA claim of a session payload.
type Validator struct {
	ID       string
	claim    *Claim
	validate func(ClaimValue) ValidationResult
}

// ShouldRefetch reports whether the payload lacks a claim value, in which
// case the caller should fetch one before validating.
func (v Validator) ShouldRefetch(payload map[string]any) bool {
	_, ok := v.claim.GetValueFromPayload(payload)
	return !ok
}

// Validate runs the check against payload.
func (v Validator) Validate(payload map[string]any) ValidationResult {
	value, ok := v.claim.GetValueFromPayload(payload)
	if !ok {
		return ValidationResult{Reason: &FailureReason{Message: "value does not exist"}}
	}
	return v.validate(value)
}

func (c *Claim) validatorID(id string) string {
	if id == "" {
		return c.key
	}
	return id
}

// HasCompletedDefaultFactors passes when the requirement list computed for the
// session was satisfied.
func (c *Claim) HasCompletedDefaultFactors(id string) Validator {
	return Validator{
		ID:    c.validatorID(id),
		claim: c,
		validate: func(v ClaimValue) ValidationResult {
			if v.V {
				return ValidationResult{IsValid: true}
			}
			return ValidationResult{Reason: &FailureReason{Message: "MFA requirement for auth is not satisfied"}}
		},
	}
}

// HasCompletedFactors passes when every node of requirements is satisfied,
// regardless of the order the factors were completed in. The first failing
// node is reported.
func (c *Claim) HasCompletedFactors(requirements []Requirement, id string) Validator {
	reqs := slices.Clone(requirements)
	return Validator{
		ID:    c.validatorID(id),
		claim: c,
		validate: func(v ClaimValue) ValidationResult {
			for _, req := range reqs {
				if reason := c.checkNode(v, req); reason != nil {
					return ValidationResult{Reason: reason}
				}
			}
			return ValidationResult{IsValid: true}
		},
	}
}

func (c *Claim) checkNode(v ClaimValue, req Requirement) *FailureReason {
	switch req.kind {
	case KindFactor:
		if c.checker(v, req.factors[0]) {
			return nil
		}
		return &FailureReason{
			Message:  "Factor validation failed: " + req.factors[0] + " not completed",
			Kind:     KindFactor,
			FactorID: req.factors[0],
		}
	case KindOneOf:
		for _, id := range req.factors {
			if c.checker(v, id) {
				return nil
			}
		}
		return &FailureReason{
			Message: "None of these factors are complete in the session",
			Kind:    KindOneOf,
			OneOf:   slices.Clone(req.factors),
		}
	case KindAllOf:
		var failing []string
		for _, id := range req.factors {
			if !c.checker(v, id) {
				failing = append(failing, id)
			}
		}
		if len(failing) == 0 {
			return nil
		}
		return &FailureReason{
			Message:         "Some of the factors are not complete in the session",
			Kind:            KindAllOf,
			AllOfInAnyOrder: failing,
		}
	default:
		return &FailureReason{Message: "invalid requirement node"}
	}
}
