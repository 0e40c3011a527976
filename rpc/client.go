package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/rpc"

	"github.com/hashicorp/go-hclog"

	"github.com/schemabounce/kolumn/directory/core"
	"github.com/schemabounce/kolumn/directory/snapshot"
)

// DirectoryClient is the host side of the directory plugin.
type DirectoryClient struct {
	Client *rpc.Client
	Logger hclog.Logger
}

// Call runs one operation and returns its raw JSON output. For a partially
// successful create both the output and the error are returned.
func (c *DirectoryClient) Call(ctx context.Context, req *CallRequest) (json.RawMessage, error) {
	var resp CallResponse
	if err := c.Client.Call("Plugin.Call", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return resp.Output, resp.Error
	}
	return resp.Output, nil
}

func call[T any](ctx context.Context, c *DirectoryClient, req *CallRequest) (T, error) {
	var out T
	raw, callErr := c.Call(ctx, req)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return out, fmt.Errorf("failed to unmarshal %s response: %w", req.Operation, err)
		}
	}
	return out, callErr
}

// List returns every directory snapshot.
func (c *DirectoryClient) List(ctx context.Context, serverID int) ([]*snapshot.Snapshot, error) {
	return call[[]*snapshot.Snapshot](ctx, c, &CallRequest{Operation: OpList, ServerID: serverID})
}

// Nodes returns the browser nodes.
func (c *DirectoryClient) Nodes(ctx context.Context, serverID int) ([]core.Node, error) {
	return call[[]core.Node](ctx, c, &CallRequest{Operation: OpNodes, ServerID: serverID})
}

// Properties returns the snapshot of oid.
func (c *DirectoryClient) Properties(ctx context.Context, serverID int, oid int64) (*snapshot.Snapshot, error) {
	return call[*snapshot.Snapshot](ctx, c, &CallRequest{Operation: OpProperties, ServerID: serverID, ObjectID: oid})
}

// Create creates a directory from a JSON payload.
func (c *DirectoryClient) Create(ctx context.Context, serverID int, payload []byte) (core.Node, error) {
	return call[core.Node](ctx, c, &CallRequest{Operation: OpCreate, ServerID: serverID, Payload: payload})
}

// Update applies a JSON payload to oid.
func (c *DirectoryClient) Update(ctx context.Context, serverID int, oid int64, payload []byte) (core.Node, error) {
	return call[core.Node](ctx, c, &CallRequest{Operation: OpUpdate, ServerID: serverID, ObjectID: oid, Payload: payload})
}

// Delete drops the directories ids.
func (c *DirectoryClient) Delete(ctx context.Context, serverID int, ids ...int64) error {
	_, err := c.Call(ctx, &CallRequest{Operation: OpDelete, ServerID: serverID, IDs: ids})
	return err
}

// ModifiedSQL previews the SQL of a create (oid 0) or update.
func (c *DirectoryClient) ModifiedSQL(ctx context.Context, serverID int, oid int64, args map[string]string) (string, error) {
	return call[string](ctx, c, &CallRequest{Operation: OpModifiedSQL, ServerID: serverID, ObjectID: oid, Args: args})
}

// SQL returns the reverse-engineered DDL of oid.
func (c *DirectoryClient) SQL(ctx context.Context, serverID int, oid int64) (string, error) {
	return call[string](ctx, c, &CallRequest{Operation: OpSQL, ServerID: serverID, ObjectID: oid})
}

// Dependents returns the objects referencing oid.
func (c *DirectoryClient) Dependents(ctx context.Context, serverID int, oid int64) ([]core.DependentRecord, error) {
	return call[[]core.DependentRecord](ctx, c, &CallRequest{Operation: OpDependents, ServerID: serverID, ObjectID: oid})
}

// Dependencies returns the roles oid depends on.
func (c *DirectoryClient) Dependencies(ctx context.Context, serverID int, oid int64) ([]core.DependencyRecord, error) {
	return call[[]core.DependencyRecord](ctx, c, &CallRequest{Operation: OpDependencies, ServerID: serverID, ObjectID: oid})
}
