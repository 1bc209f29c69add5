package core

import (
	"fmt"

	"dario.cat/mergo"
	"github.com/mohae/deepcopy"
)

// Payload is the free-form map carried as workflow/task input and output.
type Payload = map[string]any

// DeepCopyPayload returns a deep copy of the provided payload.
//
// If the underlying copy cannot be asserted back to Payload an error is returned.
func DeepCopyPayload(m Payload) (Payload, error) {
	if m == nil {
		return nil, nil
	}
	copiedInterface := deepcopy.Copy(m)
	copied, ok := copiedInterface.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("failed to copy payload")
	}
	return copied, nil
}

// DeepCopy creates a deep copy of the supplied value using a generic deep
// copy. If the copied value cannot be asserted back to T the zero value of T
// and a non-nil error are returned.
func DeepCopy[T any](v T) (T, error) {
	var zero T
	copied := deepcopy.Copy(v)
	result, ok := copied.(T)
	if !ok {
		return zero, fmt.Errorf("failed to cast copied value to type %T", zero)
	}
	return result, nil
}

// MergePayload overlays src onto dst, overriding existing keys. dst is
// mutated in place; src is left untouched.
func MergePayload(dst Payload, src Payload) error {
	if dst == nil || len(src) == 0 {
		return nil
	}
	if err := mergo.Merge(&dst, src, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge payload: %w", err)
	}
	return nil
}
