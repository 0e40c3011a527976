// Package rpc exposes the directory handlers as a go-plugin net/rpc plugin
package rpc

import (
	"errors"

	"github.com/schemabounce/kolumn/directory/core"
	"github.com/schemabounce/kolumn/directory/handlers"
)

// Operations understood by Directory.Call.
const (
	OpList         = "list"
	OpNodes        = "nodes"
	OpNode         = "node"
	OpProperties   = "properties"
	OpCreate       = "create"
	OpUpdate       = "update"
	OpDelete       = "delete"
	OpModifiedSQL  = "msql"
	OpSQL          = "sql"
	OpStatistics   = "statistics"
	OpDependencies = "dependencies"
	OpDependents   = "dependents"
)

// Error codes carried by RPCError.
const (
	CodeNotFound     = "not_found"
	CodeValidation   = "validation"
	CodeQuery        = "query_failed"
	CodePrecondition = "precondition"
	CodePartial      = "partial_success"
	CodeInternal     = "internal"
)

// CallRequest invokes one directory operation on a server.
type CallRequest struct {
	Operation string            `json:"operation"`
	ServerID  int               `json:"server_id"`
	ObjectID  int64             `json:"object_id,omitempty"`
	IDs       []int64           `json:"ids,omitempty"`
	Payload   []byte            `json:"payload,omitempty"`
	Args      map[string]string `json:"args,omitempty"`
}

// CallResponse carries the JSON encoded result of an operation.
type CallResponse struct {
	Status int       `json:"status"`
	Output []byte    `json:"output,omitempty"`
	Error  *RPCError `json:"error,omitempty"`
}

// RPCError represents an error in RPC communication
type RPCError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
	Status  int    `json:"status,omitempty"`
}

// Error implements the error interface
func (e *RPCError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// Is matches the core sentinel the error code stands for, so callers on the
// client side branch the same way as in-process callers.
func (e *RPCError) Is(target error) bool {
	switch e.Code {
	case CodeNotFound:
		return target == core.ErrNotFound
	case CodeValidation:
		return target == core.ErrValidation
	case CodeQuery:
		return target == core.ErrQueryFailure
	case CodePrecondition:
		return target == core.ErrPrecondition
	}
	return false
}

func newRPCError(err error) *RPCError {
	if err == nil {
		return nil
	}
	rpcErr := &RPCError{Message: err.Error(), Status: core.StatusCode(err), Code: CodeInternal}

	var partial *handlers.PartialSuccessError
	switch {
	case errors.As(err, &partial):
		rpcErr.Code = CodePartial
		rpcErr.Status = 200
		rpcErr.Details = partial.Err.Error()
		rpcErr.Message = "Directory created successfully, Set parameter fail"
	case errors.Is(err, core.ErrNotFound):
		rpcErr.Code = CodeNotFound
	case errors.Is(err, core.ErrValidation):
		rpcErr.Code = CodeValidation
	case errors.Is(err, core.ErrPrecondition):
		rpcErr.Code = CodePrecondition
	case errors.Is(err, core.ErrQueryFailure):
		rpcErr.Code = CodeQuery
	}
	return rpcErr
}
