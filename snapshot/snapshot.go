// Package snapshot loads the current server state of a directory object and
// normalizes its multi-valued attributes into structured entries.
package snapshot

import (
	"context"
	"fmt"

	"github.com/schemabounce/kolumn/directory/core"
	"github.com/schemabounce/kolumn/directory/privileges"
	"github.com/schemabounce/kolumn/directory/runtimehelpers/telemetry"
)

// Template names read by the loader.
const (
	PropertiesSQL = "properties.sql"
	ACLSQL        = "acl.sql"
)

// Snapshot is the normalized state of one directory object.
type Snapshot struct {
	OID         int64                 `json:"oid"`
	Name        string                `json:"name"`
	Owner       string                `json:"spcuser"`
	Location    string                `json:"spclocation"`
	Description *string               `json:"description"`
	Options     []Option              `json:"spcoptions"`
	SecLabels   []SecLabel            `json:"seclabels"`
	ACL         []privileges.AclEntry `json:"spcacl"`
	IsSystem    bool                  `json:"is_sys_obj"`
}

// DescriptionText returns the comment or "".
func (s *Snapshot) DescriptionText() string {
	if s == nil || s.Description == nil {
		return ""
	}
	return *s.Description
}

// Bindings exposes the snapshot to templates. The ACL is left out; callers
// bind the encoded form they need under "spcacl".
func (s *Snapshot) Bindings() map[string]interface{} {
	b := map[string]interface{}{
		"oid":         s.OID,
		"name":        s.Name,
		"spcuser":     s.Owner,
		"spclocation": s.Location,
		"spcoptions":  OptionBindings(s.Options),
		"seclabels":   SecLabelBindings(s.SecLabels),
	}
	if s.Description != nil {
		b["description"] = *s.Description
	} else {
		b["description"] = nil
	}
	return b
}

// aclFields maps the deftype discriminator of ACL rows to the snapshot field
// the decoded entries belong to.
var aclFields = map[string]func(*Snapshot) *[]privileges.AclEntry{
	"spcacl": func(s *Snapshot) *[]privileges.AclEntry { return &s.ACL },
}

// Load runs the properties query for oid and returns its first row.
func Load(ctx context.Context, rc *core.RequestContext, conn core.Executor, oid int64) (core.Row, error) {
	query, err := rc.Render(PropertiesSQL, map[string]interface{}{"drid": oid})
	if err != nil {
		return nil, err
	}

	res, err := conn.ExecuteDict(ctx, query)
	if err != nil {
		return nil, core.WrapQuery(query, err)
	}
	if res.Len() == 0 {
		return nil, &core.NotFoundError{
			Object:  core.NodeType,
			ID:      oid,
			Message: "Could not find the directory on the server.",
		}
	}
	return res.First(), nil
}

// Normalize turns a properties row into a Snapshot: option and security
// label arrays are parsed, and the ACL rows of oid are decoded and merged
// into the field their discriminator names.
func Normalize(ctx context.Context, rc *core.RequestContext, conn core.Executor, row core.Row, oid int64) (*Snapshot, error) {
	snap, err := fromRow(row)
	if err != nil {
		return nil, err
	}

	query, err := rc.Render(ACLSQL, map[string]interface{}{"drid": oid})
	if err != nil {
		return nil, err
	}
	res, err := conn.ExecuteDict(ctx, query)
	if err != nil {
		return nil, core.WrapQuery(query, err)
	}

	// grants come from the ACL query only
	snap.ACL = []privileges.AclEntry{}
	for _, aclRow := range res.Rows {
		deftype := aclRow.String("deftype")
		field, ok := aclFields[deftype]
		if !ok {
			rc.Log().Warn(ctx, "snapshot.unknown_acl_field", telemetry.Fields{
				"deftype":   deftype,
				"object_id": oid,
			})
			continue
		}
		entry, err := privileges.DecodeRow(aclRow)
		if err != nil {
			return nil, fmt.Errorf("decode acl row for %s: %w", deftype, err)
		}
		target := field(snap)
		*target = append(*target, entry)
	}
	return snap, nil
}

// Fetch loads and normalizes the snapshot of oid.
func Fetch(ctx context.Context, rc *core.RequestContext, conn core.Executor, oid int64) (*Snapshot, error) {
	row, err := Load(ctx, rc, conn, oid)
	if err != nil {
		return nil, err
	}
	snap, err := Normalize(ctx, rc, conn, row, oid)
	if err != nil {
		return nil, err
	}
	snap.IsSystem = rc.IsSystemObject(snap.OID)
	return snap, nil
}

// List returns every directory object on the server. Grants are read from
// the aclitem array of the properties query instead of one ACL query per
// object.
func List(ctx context.Context, rc *core.RequestContext, conn core.Executor) ([]*Snapshot, error) {
	query, err := rc.Render(PropertiesSQL, nil)
	if err != nil {
		return nil, err
	}
	res, err := conn.ExecuteDict(ctx, query)
	if err != nil {
		return nil, core.WrapQuery(query, err)
	}

	out := make([]*Snapshot, 0, res.Len())
	for _, row := range res.Rows {
		snap, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		items, err := row.Strings("acl")
		if err != nil {
			return nil, fmt.Errorf("directory %s: %w", snap.Name, err)
		}
		if snap.ACL, err = parseACLItems(items); err != nil {
			return nil, fmt.Errorf("directory %s: %w", snap.Name, err)
		}
		snap.IsSystem = rc.IsSystemObject(snap.OID)
		out = append(out, snap)
	}
	return out, nil
}

func fromRow(row core.Row) (*Snapshot, error) {
	snap := &Snapshot{
		OID:         row.Int64("oid"),
		Name:        row.String("name"),
		Owner:       row.String("spcuser"),
		Location:    row.String("spclocation"),
		Description: row.NullableString("description"),
	}

	rawOptions, err := row.Strings("spcoptions")
	if err != nil {
		return nil, err
	}
	if snap.Options, err = ParseOptions(rawOptions); err != nil {
		return nil, err
	}

	rawLabels, err := row.Strings("seclabels")
	if err != nil {
		return nil, err
	}
	if snap.SecLabels, err = ParseSecLabels(rawLabels); err != nil {
		return nil, err
	}
	return snap, nil
}

func parseACLItems(items []string) ([]privileges.AclEntry, error) {
	if len(items) == 0 {
		return nil, nil
	}
	out := make([]privileges.AclEntry, 0, len(items))
	for _, item := range items {
		entry, err := privileges.ParseACLItem(item)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}
