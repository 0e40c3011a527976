package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/schemabounce/kolumn/directory/handlers"
)

// DirectoryServer is the net/rpc receiver served by the plugin.
type DirectoryServer struct {
	Service *handlers.Service
	Logger  hclog.Logger
}

// Call handles the Call RPC call. Operation failures are reported in
// resp.Error; the returned error is reserved for transport problems.
func (s *DirectoryServer) Call(req *CallRequest, resp *CallResponse) error {
	s.Logger.Debug("Call called", "operation", req.Operation, "server_id", req.ServerID, "object_id", req.ObjectID)

	data, err := s.dispatch(context.Background(), req)
	resp.Status = 200
	if err != nil {
		resp.Error = newRPCError(err)
		resp.Status = resp.Error.Status
		s.Logger.Error("Call failed", "operation", req.Operation, "error", err)
	}
	if data != nil {
		out, merr := json.Marshal(data)
		if merr != nil {
			return fmt.Errorf("marshal %s result: %w", req.Operation, merr)
		}
		resp.Output = out
	}
	return nil
}

func (s *DirectoryServer) dispatch(ctx context.Context, req *CallRequest) (interface{}, error) {
	svc := s.Service
	switch req.Operation {
	case OpList:
		return nilOnError(svc.List(ctx, req.ServerID))
	case OpNodes:
		return nilOnError(svc.Nodes(ctx, req.ServerID))
	case OpNode:
		return nilOnError(svc.Node(ctx, req.ServerID, req.ObjectID))
	case OpProperties:
		return nilOnError(svc.Properties(ctx, req.ServerID, req.ObjectID))
	case OpCreate:
		// a partially created directory still returns its node
		return svc.Create(ctx, req.ServerID, req.Payload)
	case OpUpdate:
		return nilOnError(svc.Update(ctx, req.ServerID, req.ObjectID, req.Payload))
	case OpDelete:
		ids := req.IDs
		if len(ids) == 0 && req.ObjectID != 0 {
			ids = []int64{req.ObjectID}
		}
		if err := svc.Delete(ctx, req.ServerID, ids...); err != nil {
			return nil, err
		}
		return "Directory dropped", nil
	case OpModifiedSQL:
		return nilOnError(svc.ModifiedSQL(ctx, req.ServerID, req.ObjectID, req.Args))
	case OpSQL:
		return nilOnError(svc.SQL(ctx, req.ServerID, req.ObjectID))
	case OpStatistics:
		return nilOnError(svc.Statistics(ctx, req.ServerID, req.ObjectID))
	case OpDependencies:
		return nilOnError(svc.Dependencies(ctx, req.ServerID, req.ObjectID))
	case OpDependents:
		return nilOnError(svc.Dependents(ctx, req.ServerID, req.ObjectID))
	default:
		return nil, fmt.Errorf("unknown operation %q", req.Operation)
	}
}

func nilOnError[T any](v T, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	return v, nil
}
