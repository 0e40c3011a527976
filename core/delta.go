package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Delta is the three-way change set a client submits for a multi-valued
// attribute on update.
type Delta[T any] struct {
	Added   []T `json:"added,omitempty"`
	Changed []T `json:"changed,omitempty"`
	Deleted []T `json:"deleted,omitempty"`
}

// Empty reports whether the delta carries no entries at all.
func (d Delta[T]) Empty() bool {
	return len(d.Added) == 0 && len(d.Changed) == 0 && len(d.Deleted) == 0
}

// Multi holds a multi-valued attribute as either a full list (creation) or a
// Delta (update). Exactly one of the two forms is set.
type Multi[T any] struct {
	List  []T
	Delta *Delta[T]
}

// FullList builds a list-form value.
func FullList[T any](items ...T) *Multi[T] {
	return &Multi[T]{List: append([]T{}, items...)}
}

// Changes builds a delta-form value.
func Changes[T any](d Delta[T]) *Multi[T] {
	return &Multi[T]{Delta: &d}
}

// IsDelta reports whether the value is in delta form.
func (m *Multi[T]) IsDelta() bool {
	return m != nil && m.Delta != nil
}

// Items returns the full list, or nil for delta-form values.
func (m *Multi[T]) Items() []T {
	if m == nil || m.Delta != nil {
		return nil
	}
	return m.List
}

// UnmarshalJSON selects the form from the JSON shape: an array is a full
// list and an object is a delta.
func (m *Multi[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*m = Multi[T]{}
		return nil
	}

	switch trimmed[0] {
	case '[':
		var list []T
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		*m = Multi[T]{List: list}
	case '{':
		var d Delta[T]
		if err := json.Unmarshal(trimmed, &d); err != nil {
			return err
		}
		*m = Multi[T]{Delta: &d}
	default:
		return fmt.Errorf("expected list or {added, changed, deleted} object, got %s", string(trimmed))
	}
	return nil
}

// MarshalJSON writes the value back in whichever form it holds.
func (m Multi[T]) MarshalJSON() ([]byte, error) {
	if m.Delta != nil {
		return json.Marshal(m.Delta)
	}
	if m.List == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m.List)
}
