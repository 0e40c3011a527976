package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/schemabounce/kolumn/directory/core"
	"github.com/schemabounce/kolumn/directory/dependents"
	"github.com/schemabounce/kolumn/directory/diff"
	"github.com/schemabounce/kolumn/directory/helpers/security"
	"github.com/schemabounce/kolumn/directory/helpers/validation"
	"github.com/schemabounce/kolumn/directory/runtimehelpers/telemetry"
	"github.com/schemabounce/kolumn/directory/snapshot"
)

// Template names only the handlers render.
const (
	NodesSQL  = "nodes.sql"
	OIDSQL    = "oid.sql"
	DeleteSQL = "delete.sql"
	StatsSQL  = "stats.sql"
)

// ModifiedSQLPlaceholder is displayed instead of an empty modified-SQL
// preview. It is never executed.
const ModifiedSQLPlaceholder = "--modified SQL"

// textKeys are payload keys that hold plain text even when the value
// happens to parse as JSON.
var textKeys = map[string]bool{"name": true, "spcuser": true, "spclocation": true}

var createRequired = []validation.Field{
	{Key: "name", Label: "Name"},
	{Key: "spclocation", Label: "Location"},
}

// PartialSuccessError reports a directory that was created while its
// remaining properties could not be applied.
type PartialSuccessError struct {
	Err error
}

func (e *PartialSuccessError) Error() string {
	return fmt.Sprintf("Directory created successfully, Set parameter fail: %v", e.Err)
}

func (e *PartialSuccessError) Unwrap() error { return e.Err }

// List returns the properties of every directory object.
func (s *Service) List(ctx context.Context, serverID int) ([]*snapshot.Snapshot, error) {
	rc, err := s.RequestContext(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return snapshot.List(ctx, rc, rc.Conn)
}

// Nodes returns the browser nodes of every directory object.
func (s *Service) Nodes(ctx context.Context, serverID int) ([]core.Node, error) {
	rc, err := s.RequestContext(ctx, serverID)
	if err != nil {
		return nil, err
	}
	res, err := s.nodeRows(ctx, rc, 0)
	if err != nil {
		return nil, err
	}
	nodes := make([]core.Node, 0, res.Len())
	for _, row := range res.Rows {
		nodes = append(nodes, core.NewNode(row.Int64("oid"), serverID, row.String("name"), row.String("description")))
	}
	return nodes, nil
}

// Node returns the browser node of oid.
func (s *Service) Node(ctx context.Context, serverID int, oid int64) (core.Node, error) {
	rc, err := s.RequestContext(ctx, serverID)
	if err != nil {
		return core.Node{}, err
	}
	res, err := s.nodeRows(ctx, rc, oid)
	if err != nil {
		return core.Node{}, err
	}
	if res.Len() == 0 {
		return core.Node{}, &core.NotFoundError{Object: core.NodeType, ID: oid, Message: "Could not find the directory."}
	}
	row := res.First()
	return core.NewNode(row.Int64("oid"), serverID, row.String("name"), row.String("description")), nil
}

func (s *Service) nodeRows(ctx context.Context, rc *core.RequestContext, oid int64) (*core.Result, error) {
	bindings := map[string]interface{}{}
	if oid != 0 {
		bindings["drid"] = oid
	}
	query, err := rc.Render(NodesSQL, bindings)
	if err != nil {
		return nil, err
	}
	res, err := rc.Conn.ExecuteDict(ctx, query)
	if err != nil {
		return nil, core.WrapQuery(query, err)
	}
	return res, nil
}

// Properties returns the normalized snapshot of oid.
func (s *Service) Properties(ctx context.Context, serverID int, oid int64) (*snapshot.Snapshot, error) {
	rc, err := s.RequestContext(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return snapshot.Fetch(ctx, rc, rc.Conn, oid)
}

// Create creates a directory from a JSON payload and returns its node.
// When the CREATE succeeds but applying the remaining properties fails, the
// node is returned together with a *PartialSuccessError.
func (s *Service) Create(ctx context.Context, serverID int, body []byte) (core.Node, error) {
	payload, err := diff.ParsePayload(body)
	if err != nil {
		return core.Node{}, err
	}
	if err := validation.RequireFields(payload.Has, createRequired...); err != nil {
		return core.Node{}, err
	}

	rc, err := s.RequestContext(ctx, serverID)
	if err != nil {
		return core.Node{}, err
	}
	create, alter, err := diff.CreateStatements(rc, payload)
	if err != nil {
		return core.Node{}, err
	}

	if err := rc.Conn.ExecuteVoid(ctx, create); err != nil {
		return core.Node{}, core.WrapQuery(create, err)
	}

	name := payload.NameOr("")
	query, err := rc.Render(OIDSQL, map[string]interface{}{"directory": name})
	if err != nil {
		return core.Node{}, err
	}
	v, err := rc.Conn.ExecuteScalar(ctx, query)
	if err != nil {
		return core.Node{}, core.WrapQuery(query, err)
	}
	oid, _ := core.ToInt64(v)

	description := ""
	if payload.Description != nil {
		description = *payload.Description
	}
	node := core.NewNode(oid, serverID, name, description)

	if strings.TrimSpace(alter) != "" {
		if err := rc.Conn.ExecuteVoid(ctx, alter); err != nil {
			rc.Log().Warn(ctx, "handlers.create_alter_failed", telemetry.Fields{"object_id": oid, "error": err.Error()})
			return node, &PartialSuccessError{Err: err}
		}
	}

	rc.Log().Info(ctx, "handlers.created", telemetry.Fields{"object_id": oid, "name": name})
	return node, nil
}

// Update applies a JSON payload to oid and returns the updated node.
func (s *Service) Update(ctx context.Context, serverID int, oid int64, body []byte) (core.Node, error) {
	payload, err := diff.ParsePayload(body)
	if err != nil {
		return core.Node{}, err
	}

	rc, err := s.RequestContext(ctx, serverID)
	if err != nil {
		return core.Node{}, err
	}
	res, err := diff.Update(ctx, rc, rc.Conn, oid, payload)
	if err != nil {
		return core.Node{}, err
	}

	if sql := strings.Trim(res.SQL, "\n "); sql != "" {
		if err := rc.Conn.ExecuteVoid(ctx, sql); err != nil {
			return core.Node{}, core.WrapQuery(sql, err)
		}
	}

	description := ""
	if payload.Description != nil {
		description = *payload.Description
	}
	rc.Log().Info(ctx, "handlers.updated", telemetry.Fields{"object_id": oid, "name": res.Name})
	return core.NewNode(oid, serverID, res.Name, description), nil
}

// Delete drops the directories ids in order and stops at the first failure.
func (s *Service) Delete(ctx context.Context, serverID int, ids ...int64) error {
	rc, err := s.RequestContext(ctx, serverID)
	if err != nil {
		return err
	}

	for _, oid := range ids {
		res, err := s.nodeRows(ctx, rc, oid)
		if err != nil {
			return err
		}
		if res.Len() == 0 {
			return &core.NotFoundError{Object: core.NodeType, ID: oid, Message: "The specified directory could not be found."}
		}

		name := res.First().String("name")
		query, err := rc.Render(DeleteSQL, map[string]interface{}{"drname": name})
		if err != nil {
			return err
		}
		logger := rc.Log().With(telemetry.Fields{"object_id": oid, "name": name})
		err = telemetry.TrackOperation(ctx, logger, "handlers.drop", func(ctx context.Context) error {
			return core.WrapQuery(query, rc.Conn.ExecuteVoid(ctx, query))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ModifiedSQL previews the SQL a create (oid 0) or update would run. Values
// arrive as text; all but the description are decoded as JSON when they
// parse. Blank output is replaced by ModifiedSQLPlaceholder.
func (s *Service) ModifiedSQL(ctx context.Context, serverID int, oid int64, args map[string]string) (string, error) {
	values := make(map[string]interface{}, len(args))
	for k, v := range args {
		if k == "description" {
			values[k] = v
			continue
		}
		decoded := security.DecodeValue(v)
		if _, isText := decoded.(string); !isText && textKeys[k] {
			decoded = v
		}
		values[k] = decoded
	}
	payload, err := diff.PayloadFromValues(values)
	if err != nil {
		return "", err
	}

	rc, err := s.RequestContext(ctx, serverID)
	if err != nil {
		return "", err
	}
	res, err := diff.Generate(ctx, rc, rc.Conn, oid, payload)
	if err != nil {
		return "", err
	}

	sql := strings.Trim(res.SQL, "\n ")
	if sql == "" {
		return ModifiedSQLPlaceholder, nil
	}
	return sql, nil
}

// SQL returns the reverse-engineered DDL of oid.
func (s *Service) SQL(ctx context.Context, serverID int, oid int64) (string, error) {
	rc, err := s.RequestContext(ctx, serverID)
	if err != nil {
		return "", err
	}
	return diff.Reverse(ctx, rc, rc.Conn, oid)
}

// Statistics returns the size of oid, or of every directory when oid is 0.
func (s *Service) Statistics(ctx context.Context, serverID int, oid int64) ([]core.Row, error) {
	rc, err := s.RequestContext(ctx, serverID)
	if err != nil {
		return nil, err
	}
	bindings := map[string]interface{}{}
	if oid != 0 {
		bindings["drid"] = oid
	}
	query, err := rc.Render(StatsSQL, bindings)
	if err != nil {
		return nil, err
	}
	res, err := rc.Conn.ExecuteDict(ctx, query)
	if err != nil {
		return nil, core.WrapQuery(query, err)
	}
	return res.Rows, nil
}

// Dependencies returns the roles oid depends on.
func (s *Service) Dependencies(ctx context.Context, serverID int, oid int64) ([]core.DependencyRecord, error) {
	rc, err := s.RequestContext(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return dependents.Dependencies(ctx, rc, rc.Conn, oid)
}

// Dependents returns the objects referencing oid across all databases.
func (s *Service) Dependents(ctx context.Context, serverID int, oid int64) ([]core.DependentRecord, error) {
	rc, err := s.RequestContext(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return s.resolver.Resolve(ctx, rc, oid)
}
