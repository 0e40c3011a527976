package diff

import (
	"encoding/json"
	"fmt"

	"github.com/schemabounce/kolumn/directory/core"
	"github.com/schemabounce/kolumn/directory/helpers/security"
	"github.com/schemabounce/kolumn/directory/privileges"
	"github.com/schemabounce/kolumn/directory/snapshot"
)

// Payload is the desired state a client submits: complete for creation,
// sparse for updates. Nil fields are absent from the request.
type Payload struct {
	Name        *string                          `json:"name,omitempty"`
	Owner       *string                          `json:"spcuser,omitempty"`
	Location    *string                          `json:"spclocation,omitempty"`
	Description *string                          `json:"description,omitempty"`
	Options     *core.Multi[snapshot.Option]     `json:"spcoptions,omitempty"`
	SecLabels   *core.Multi[snapshot.SecLabel]   `json:"seclabels,omitempty"`
	ACL         *core.Multi[privileges.AclEntry] `json:"spcacl,omitempty"`
}

// ParsePayload decodes a JSON request body.
func ParsePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := security.SafeUnmarshal(data, &p); err != nil {
		return nil, &core.ValidationError{Message: fmt.Sprintf("invalid payload: %v", err)}
	}
	return &p, nil
}

// PayloadFromValues builds a payload from already decoded key/value pairs,
// such as query-string arguments.
func PayloadFromValues(values map[string]interface{}) (*Payload, error) {
	data, err := json.Marshal(values)
	if err != nil {
		return nil, &core.ValidationError{Message: fmt.Sprintf("invalid payload: %v", err)}
	}
	return ParsePayload(data)
}

// Has reports whether a payload key was supplied.
func (p *Payload) Has(key string) bool {
	if p == nil {
		return false
	}
	switch key {
	case "name":
		return p.Name != nil && *p.Name != ""
	case "spcuser":
		return p.Owner != nil
	case "spclocation":
		return p.Location != nil && *p.Location != ""
	case "description":
		return p.Description != nil
	case "spcoptions":
		return p.Options != nil
	case "seclabels":
		return p.SecLabels != nil
	case "spcacl":
		return p.ACL != nil
	default:
		return false
	}
}

// NameOr returns the payload name, or fallback when absent.
func (p *Payload) NameOr(fallback string) string {
	if p == nil || p.Name == nil || *p.Name == "" {
		return fallback
	}
	return *p.Name
}

// asDelta reads a multi-valued attribute as a delta; a full list on update
// counts as additions.
func asDelta[T any](m *core.Multi[T]) core.Delta[T] {
	if m == nil {
		return core.Delta[T]{}
	}
	if m.Delta != nil {
		return *m.Delta
	}
	return core.Delta[T]{Added: m.List}
}

// asList reads a multi-valued attribute as a full list; a delta on creation
// contributes its additions.
func asList[T any](m *core.Multi[T]) []T {
	if m == nil {
		return nil
	}
	if m.Delta != nil {
		return m.Delta.Added
	}
	return m.List
}
