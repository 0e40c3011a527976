// Package dependents finds the objects that reference a directory object
// across every database of a server, and the roles it depends on.
package dependents

import (
	"context"

	"github.com/schemabounce/kolumn/directory/core"
	"github.com/schemabounce/kolumn/directory/runtimehelpers/telemetry"
)

// Template names read by the resolvers.
const (
	DependentsSQL   = "dependents.sql"
	DependenciesSQL = "dependencies.sql"
)

// Counter names of the lenient failure paths.
const (
	CatalogFailures = "dependents.catalog_failures"
	ConnectFailures = "dependents.connect_failures"
	QueryFailures   = "dependents.query_failures"
)

// Resolver scans the databases of a server for dependents. Failures on a
// single database are logged, counted and skipped.
type Resolver struct {
	Counters *telemetry.Counters
}

// NewResolver returns a resolver counting into the process-wide counters.
func NewResolver() *Resolver {
	return &Resolver{Counters: telemetry.DefaultCounters()}
}

// Resolve returns the dependents of oid in database catalog order, then per
// database row order. Connections opened for the scan are released before
// the next database is inspected.
func (r *Resolver) Resolve(ctx context.Context, rc *core.RequestContext, oid int64) ([]core.DependentRecord, error) {
	logger := rc.Log().With(telemetry.Fields{
		"server_id": rc.ServerID,
		"object_id": oid,
	})
	records := []core.DependentRecord{}

	query, err := rc.Render(DependentsSQL, map[string]interface{}{"fetch_database": true})
	if err != nil {
		return nil, err
	}
	dbs, err := rc.Conn.ExecuteDict(ctx, query)
	if err != nil {
		logger.Error(ctx, "dependents.catalog_failed", err, nil)
		r.Counters.Inc(CatalogFailures)
		return records, nil
	}

	depQuery, err := rc.Render(DependentsSQL, map[string]interface{}{"fetch_dependents": true, "drid": oid})
	if err != nil {
		return nil, err
	}

	for _, row := range dbs.Rows {
		database := row.String("datname")
		if home, ok := core.ToInt64(row["datdirectory"]); ok && home == oid {
			records = append(records, core.DependentRecord{Type: "database", Name: "", Field: database})
		}
		if !row.Bool("datallowconn") {
			continue
		}
		records = append(records, r.scanDatabase(ctx, rc, logger, database, depQuery)...)
	}
	return records, nil
}

func (r *Resolver) scanDatabase(ctx context.Context, rc *core.RequestContext, logger telemetry.Logger, database, query string) []core.DependentRecord {
	logger = logger.With(telemetry.Fields{"database": database})

	lease, err := rc.Manager.Get(ctx, rc.ServerID, database)
	if err != nil {
		logger.Warn(ctx, "dependents.connect_failed", telemetry.Fields{"error": err.Error()})
		r.Counters.Inc(ConnectFailures)
		return nil
	}
	if !lease.Preexisting {
		defer func() {
			if err := rc.Manager.Release(rc.ServerID, database); err != nil {
				logger.Warn(ctx, "dependents.release_failed", telemetry.Fields{"error": err.Error()})
			}
		}()
	}

	conn := lease.Handle
	if !conn.Connected() {
		if err := conn.Connect(ctx); err != nil {
			logger.Warn(ctx, "dependents.connect_failed", telemetry.Fields{"error": err.Error()})
			r.Counters.Inc(ConnectFailures)
			return nil
		}
	}

	res, err := conn.ExecuteDict(ctx, query)
	if err != nil {
		logger.Error(ctx, "dependents.query_failed", err, nil)
		r.Counters.Inc(QueryFailures)
		return nil
	}

	var out []core.DependentRecord
	for _, row := range res.Rows {
		typ, name, ok := classify(row.String("relkind"), row.String("nspname"), row.String("relname"), row.String("indname"))
		if !ok {
			continue
		}
		out = append(out, core.DependentRecord{Type: typ, Name: name, Field: database})
	}
	return out
}

// Dependencies returns the roles oid depends on: its owner and the grantees
// of its ACL.
func Dependencies(ctx context.Context, rc *core.RequestContext, conn core.Executor, oid int64) ([]core.DependencyRecord, error) {
	query, err := rc.Render(DependenciesSQL, map[string]interface{}{"drid": oid})
	if err != nil {
		return nil, err
	}
	res, err := conn.ExecuteDict(ctx, query)
	if err != nil {
		return nil, core.WrapQuery(query, err)
	}

	records := make([]core.DependencyRecord, 0, res.Len())
	for _, row := range res.Rows {
		records = append(records, core.DependencyRecord{
			Type:  row.String("type"),
			Name:  row.String("name"),
			Field: row.String("deptype"),
		})
	}
	return records, nil
}
