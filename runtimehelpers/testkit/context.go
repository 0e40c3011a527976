package testkit

import (
	"github.com/google/uuid"

	"github.com/schemabounce/kolumn/directory/core"
	"github.com/schemabounce/kolumn/directory/helpers/sqltemplates"
	"github.com/schemabounce/kolumn/directory/runtimehelpers/telemetry"
	"github.com/schemabounce/kolumn/directory/templates"
)

// ServerVersion is the server version test contexts resolve templates for.
const ServerVersion = 160002

// RequestContext builds a request context over conn and manager that renders
// the embedded templates.
func RequestContext(conn core.Handle, manager core.ConnectionAdapter) *core.RequestContext {
	return &core.RequestContext{
		RequestID:     uuid.NewString(),
		ServerID:      1,
		Conn:          conn,
		Manager:       manager,
		TemplatePath:  sqltemplates.VersionedPath(templates.Base, ServerVersion),
		Templates:     sqltemplates.NewRenderer(templates.FS(), sqltemplates.Postgres),
		AllowedACL:    core.DefaultAllowedACL,
		ServerVersion: ServerVersion,
		Logger:        telemetry.NoopLogger{},
	}
}
