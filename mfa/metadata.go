package mfa

import (
	"context"
	"maps"
	"slices"
)

const (
	metadataNamespace        = "_authsdk"
	requiredSecondaryFactors = "requiredSecondaryFactors"
)

func (r *Recipe) getRequiredSecondaryFactorsForUser(ctx context.Context, userID string) ([]string, error) {
	md, err := r.metadata.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return requiredFromMetadata(md), nil
}

func requiredFromMetadata(md map[string]any) []string {
	ns, _ := md[metadataNamespace].(map[string]any)
	raw, _ := ns[requiredSecondaryFactors].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			out = append(out, id)
		}
	}
	return out
}

func (r *Recipe) addToRequiredSecondaryFactorsForUser(ctx context.Context, userID, factorID string) error {
	return r.updateRequired(ctx, userID, func(current []string) ([]string, bool) {
		if slices.Contains(current, factorID) {
			return current, false
		}
		return append(current, factorID), true
	})
}

func (r *Recipe) removeFromRequiredSecondaryFactorsForUser(ctx context.Context, userID, factorID string) error {
	return r.updateRequired(ctx, userID, func(current []string) ([]string, bool) {
		if !slices.Contains(current, factorID) {
			return current, false
		}
		return slices.DeleteFunc(current, func(id string) bool { return id == factorID }), true
	})
}

func (r *Recipe) updateRequired(ctx context.Context, userID string, change func([]string) ([]string, bool)) error {
	md, err := r.metadata.Get(ctx, userID)
	if err != nil {
		return err
	}
	next, changed := change(requiredFromMetadata(md))
	if !changed {
		return nil
	}
	ns := map[string]any{}
	if current, ok := md[metadataNamespace].(map[string]any); ok {
		maps.Copy(ns, current)
	}
	ns[requiredSecondaryFactors] = next
	_, err = r.metadata.Update(ctx, userID, map[string]any{metadataNamespace: ns})
	return err
}
