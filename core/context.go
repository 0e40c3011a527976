// Package core provides the request context, connection capabilities and
// error taxonomy shared by the directory packages.
package core

import (
	"context"
	"fmt"
	"path"

	"github.com/schemabounce/kolumn/directory/runtimehelpers/telemetry"
)

// DefaultAllowedACL lists the privilege codes valid on a directory object.
var DefaultAllowedACL = []string{"C"}

// LastSystemOID is the highest object id reserved for system objects.
const LastSystemOID int64 = 16383

// RequestContext is built once per request and handed to every operation.
// It replaces implicit per-handler state with explicit values.
type RequestContext struct {
	RequestID string
	ServerID  int

	// Conn is the maintenance-database connection of the server.
	Conn Handle

	// Manager hands out connections to other databases of the same server.
	Manager ConnectionAdapter

	// TemplatePath is the versioned template directory, e.g.
	// "directories/sql/#160002#".
	TemplatePath string

	// Templates renders the SQL templates under TemplatePath.
	Templates Renderer

	// AllowedACL restricts the privilege codes the codec may encode.
	AllowedACL []string

	// ServerVersion is the numeric server version (e.g. 160002).
	ServerVersion int

	// DatIsTemplate reports whether the maintenance database is a template.
	DatIsTemplate bool

	Logger telemetry.Logger
}

// Log returns the request logger, never nil.
func (rc *RequestContext) Log() telemetry.Logger {
	if rc == nil || rc.Logger == nil {
		return telemetry.NoopLogger{}
	}
	return rc.Logger
}

// Allowed returns the allowed privilege codes, falling back to the
// directory default.
func (rc *RequestContext) Allowed() []string {
	if rc == nil || len(rc.AllowedACL) == 0 {
		return DefaultAllowedACL
	}
	return rc.AllowedACL
}

// IsSystemObject reports whether an object id belongs to the system range,
// or the request runs against a template database.
func (rc *RequestContext) IsSystemObject(oid int64) bool {
	return oid <= LastSystemOID || (rc != nil && rc.DatIsTemplate)
}

// Render renders the named template of the request's template directory.
func (rc *RequestContext) Render(name string, bindings map[string]interface{}) (string, error) {
	if rc == nil || rc.Templates == nil {
		return "", fmt.Errorf("render %s: no template renderer configured", name)
	}
	return rc.Templates.RenderFile(path.Join(rc.TemplatePath, name), bindings)
}

// Renderer materializes SQL text from a template and bindings. The same
// inputs always produce the same output.
type Renderer interface {
	RenderFile(name string, bindings map[string]interface{}) (string, error)
}

// Executor is the subset of driver execution primitives directory code
// needs from a live connection.
type Executor interface {
	ExecuteDict(ctx context.Context, query string) (*Result, error)
	ExecuteScalar(ctx context.Context, query string) (interface{}, error)
	Execute2DArray(ctx context.Context, query string) (*Result, error)
	ExecuteVoid(ctx context.Context, query string) error
}

// Handle is a connection bound to one database.
type Handle interface {
	Executor
	Database() string
	Connected() bool
	Connect(ctx context.Context) error
}

// Lease is the result of asking a ConnectionAdapter for a connection.
// Preexisting is true when the handle was already registered and connected;
// the caller then does not own it and must not release it.
type Lease struct {
	Handle      Handle
	Preexisting bool
}

// ConnectionAdapter is the per-server connection registry.
type ConnectionAdapter interface {
	Get(ctx context.Context, serverID int, database string) (Lease, error)
	Release(serverID int, database string) error
}
