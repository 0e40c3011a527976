// Package handlers implements the directory request operations on top of
// the snapshot loader, diff engine and resolvers.
package handlers

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/schemabounce/kolumn/directory/connmgr"
	"github.com/schemabounce/kolumn/directory/core"
	"github.com/schemabounce/kolumn/directory/dependents"
	"github.com/schemabounce/kolumn/directory/helpers/sqltemplates"
	"github.com/schemabounce/kolumn/directory/runtimehelpers/telemetry"
	"github.com/schemabounce/kolumn/directory/templates"
)

// Connector is the connection manager the handlers run against.
type Connector interface {
	core.ConnectionAdapter
	// Connection returns the maintenance connection of a server.
	Connection(ctx context.Context, serverID int) (core.Handle, error)
}

// Options configures a Service.
type Options struct {
	Connector Connector
	Templates core.Renderer
	// TemplateVersion pins the server version used to pick templates;
	// zero asks the server.
	TemplateVersion int
	AllowedACL      []string
	Resolver        *dependents.Resolver
	Logger          telemetry.Logger
}

// Service serves directory requests.
type Service struct {
	conns     Connector
	templates core.Renderer
	version   int
	allowed   []string
	resolver  *dependents.Resolver
	logger    telemetry.Logger
}

// NewService returns a service rendering the embedded templates unless
// opts.Templates is set.
func NewService(opts Options) (*Service, error) {
	if opts.Connector == nil {
		return nil, fmt.Errorf("handlers: connector is required")
	}
	s := &Service{
		conns:     opts.Connector,
		templates: opts.Templates,
		version:   opts.TemplateVersion,
		allowed:   opts.AllowedACL,
		resolver:  opts.Resolver,
		logger:    opts.Logger,
	}
	if s.templates == nil {
		s.templates = sqltemplates.NewRenderer(templates.FS(), sqltemplates.Postgres)
	}
	if len(s.allowed) == 0 {
		s.allowed = core.DefaultAllowedACL
	}
	if s.resolver == nil {
		s.resolver = dependents.NewResolver()
	}
	if s.logger == nil {
		s.logger = telemetry.NewLogger("handlers")
	}
	return s, nil
}

// RequestContext builds the context of one request against serverID. It
// fails with core.ErrPrecondition when the maintenance connection is gone.
func (s *Service) RequestContext(ctx context.Context, serverID int) (*core.RequestContext, error) {
	requestID := uuid.NewString()
	logger := s.logger.With(telemetry.Fields{"request_id": requestID, "server_id": serverID})

	conn, err := s.conns.Connection(ctx, serverID)
	if err != nil {
		logger.Warn(ctx, "handlers.connection_lost", telemetry.Fields{"error": err.Error()})
		return nil, fmt.Errorf("%w: %v", core.ErrPrecondition, err)
	}
	if !conn.Connected() {
		logger.Warn(ctx, "handlers.connection_lost", nil)
		return nil, core.ErrPrecondition
	}

	version := s.version
	if version == 0 {
		if version, err = connmgr.ServerVersion(ctx, conn); err != nil {
			return nil, err
		}
	}
	isTemplate, err := connmgr.DatIsTemplate(ctx, conn)
	if err != nil {
		return nil, err
	}

	rc := &core.RequestContext{
		RequestID:     requestID,
		ServerID:      serverID,
		Conn:          conn,
		Manager:       s.conns,
		TemplatePath:  sqltemplates.VersionedPath(templates.Base, version),
		Templates:     s.templates,
		AllowedACL:    s.allowed,
		ServerVersion: version,
		DatIsTemplate: isTemplate,
		Logger:        logger,
	}
	logger.Debug(ctx, "handlers.template_path", telemetry.Fields{"path": rc.TemplatePath})
	return rc, nil
}
