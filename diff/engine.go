// Package diff generates the SQL that moves a directory object from its
// current server state to the state a client payload describes.
package diff

import (
	"context"
	"regexp"

	"github.com/schemabounce/kolumn/directory/core"
	"github.com/schemabounce/kolumn/directory/privileges"
	"github.com/schemabounce/kolumn/directory/runtimehelpers/telemetry"
	"github.com/schemabounce/kolumn/directory/snapshot"
)

// Template names rendered by the engine.
const (
	CreateSQL = "create.sql"
	AlterSQL  = "alter.sql"
	UpdateSQL = "update.sql"
)

// Result is the generated statement text and the object name it resolved.
// SQL may be blank, which means there is nothing to change.
type Result struct {
	SQL  string `json:"sql"`
	Name string `json:"name"`
}

var blankRuns = regexp.MustCompile(`\n{2,}`)

// CollapseBlankLines squeezes runs of blank lines into a single one.
func CollapseBlankLines(sql string) string {
	return blankRuns.ReplaceAllString(sql, "\n\n")
}

// Generate selects the update branch when oid is non-zero and the create
// branch otherwise.
func Generate(ctx context.Context, rc *core.RequestContext, conn core.Executor, oid int64, payload *Payload) (Result, error) {
	if oid != 0 {
		return Update(ctx, rc, conn, oid, payload)
	}
	return Create(ctx, rc, payload)
}

// Update diffs payload against the current snapshot of oid. A vanished
// object is reported as core.ErrNotFound and never falls back to creation.
func Update(ctx context.Context, rc *core.RequestContext, conn core.Executor, oid int64, payload *Payload) (Result, error) {
	if payload == nil {
		payload = &Payload{}
	}

	old, err := snapshot.Fetch(ctx, rc, conn, oid)
	if err != nil {
		return Result{}, err
	}

	acl, err := privileges.EncodeDelta(asDelta(payload.ACL), rc.Allowed())
	if err != nil {
		return Result{}, err
	}

	name := payload.NameOr(old.Name)
	data := map[string]interface{}{
		"name":       name,
		"spcoptions": deltaBindings(asDelta(payload.Options), snapshot.Option.Binding),
		"seclabels":  deltaBindings(asDelta(payload.SecLabels), snapshot.SecLabel.Binding),
		"spcacl":     deltaBindings(acl, privileges.ServerPrivilege.Binding),
	}
	if payload.Owner != nil {
		data["spcuser"] = *payload.Owner
	}
	if payload.Description != nil {
		data["description"] = *payload.Description
	}

	oData := old.Bindings()
	if old.Description == nil {
		// an absent comment compares equal to an empty one
		oData["description"] = ""
	}

	sql, err := rc.Render(UpdateSQL, map[string]interface{}{"data": data, "o_data": oData})
	if err != nil {
		return Result{}, err
	}

	rc.Log().Debug(ctx, "diff.update", telemetry.Fields{"object_id": oid, "name": name})
	return Result{SQL: CollapseBlankLines(sql), Name: name}, nil
}

// Create renders the CREATE statement for payload followed by the ALTER
// statements applying its remaining properties. Only the name is required.
func Create(ctx context.Context, rc *core.RequestContext, payload *Payload) (Result, error) {
	create, alter, err := CreateStatements(rc, payload)
	if err != nil {
		return Result{}, err
	}

	rc.Log().Debug(ctx, "diff.create", telemetry.Fields{"name": *payload.Name})
	return Result{SQL: CollapseBlankLines(create + "\n" + alter), Name: *payload.Name}, nil
}

// CreateStatements renders the CREATE and ALTER statements of a creation
// payload separately. The ALTER text may be blank.
func CreateStatements(rc *core.RequestContext, payload *Payload) (create, alter string, err error) {
	if !payload.Has("name") {
		return "", "", core.MissingParameter("Name")
	}

	acl, err := privileges.Encode(asList(payload.ACL), rc.Allowed())
	if err != nil {
		return "", "", err
	}

	data := CreateBindings(payload)
	data["spcacl"] = privileges.Bindings(acl)

	bindings := map[string]interface{}{"data": data}
	if create, err = rc.Render(CreateSQL, bindings); err != nil {
		return "", "", err
	}
	if alter, err = rc.Render(AlterSQL, bindings); err != nil {
		return "", "", err
	}
	return create, alter, nil
}

// CreateBindings exposes a creation payload to the create and alter
// templates, without its ACL.
func CreateBindings(payload *Payload) map[string]interface{} {
	data := map[string]interface{}{
		"name":       payload.NameOr(""),
		"spcoptions": bindAll(asList(payload.Options), snapshot.Option.Binding),
		"seclabels":  bindAll(asList(payload.SecLabels), snapshot.SecLabel.Binding),
	}
	if payload.Owner != nil {
		data["spcuser"] = *payload.Owner
	}
	if payload.Location != nil {
		data["spclocation"] = *payload.Location
	}
	if payload.Description != nil {
		data["description"] = *payload.Description
	}
	return data
}

func deltaBindings[T any](d core.Delta[T], bind func(T) map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"added":   bindAll(d.Added, bind),
		"changed": bindAll(d.Changed, bind),
		"deleted": bindAll(d.Deleted, bind),
	}
}

func bindAll[T any](items []T, bind func(T) map[string]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		out = append(out, bind(item))
	}
	return out
}
