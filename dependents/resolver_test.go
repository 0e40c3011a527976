package dependents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemabounce/kolumn/directory/connmgr"
	"github.com/schemabounce/kolumn/directory/core"
	"github.com/schemabounce/kolumn/directory/runtimehelpers/telemetry"
	"github.com/schemabounce/kolumn/directory/runtimehelpers/testkit"
)

const tsOID = int64(16400)

var (
	catalogColumns    = []string{"datname", "datallowconn", "datdirectory"}
	dependentsColumns = []string{"relkind", "nspname", "relname", "indname"}
)

func catalog(rows ...[]interface{}) *core.Result {
	return testkit.Rows(catalogColumns, rows...)
}

func newResolver() *Resolver {
	return &Resolver{Counters: telemetry.NewCounters()}
}

func TestResolveAcrossDatabases(t *testing.T) {
	ctx := context.Background()

	maintenance := testkit.NewConnectedHandle("postgres").
		On("datallowconn", catalog(
			[]interface{}{"archive", false, int64(1663)},
			[]interface{}{"postgres", true, int64(1663)},
			[]interface{}{"sales", true, tsOID},
		)).
		On("cl.relkind", testkit.Rows(dependentsColumns,
			[]interface{}{"r", "public", "orders", "orders"},
			[]interface{}{"i", "public", "orders", "orders_pkey"},
			[]interface{}{"q", "public", "unsupported", "unsupported"},
		))
	sales := testkit.NewHandle("sales").
		On("cl.relkind", testkit.Rows(dependentsColumns,
			[]interface{}{"S", "crm", "invoice_seq", "invoice_seq"},
			[]interface{}{"o", nil, "===", "==="},
		))
	manager := testkit.NewManager(maintenance, sales)
	rc := testkit.RequestContext(maintenance, manager)
	r := newResolver()

	records, err := r.Resolve(ctx, rc, tsOID)
	require.NoError(t, err)

	assert.Equal(t, []core.DependentRecord{
		{Type: "table", Name: "public.orders", Field: "postgres"},
		{Type: "index", Name: "orders_pkey ON public.orders", Field: "postgres"},
		{Type: "database", Name: "", Field: "sales"},
		{Type: "sequence", Name: "crm.invoice_seq", Field: "sales"},
		{Type: "operator", Name: "===", Field: "sales"},
	}, records)

	// the disallowed database is never touched
	assert.Zero(t, manager.Gets("archive"))
	assert.Zero(t, manager.Releases("archive"))

	// pre-existing connections stay open; opened ones are released once
	assert.Equal(t, 0, manager.Releases("postgres"))
	assert.True(t, maintenance.Connected())
	assert.Equal(t, 1, manager.Releases("sales"))
	assert.Equal(t, 1, sales.ConnectCalls())
	assert.False(t, sales.Connected())
}

func TestResolveDisconnectsAdoptedHandle(t *testing.T) {
	ctx := context.Background()
	maintenance := testkit.NewConnectedHandle("postgres").
		On("datallowconn", catalog([]interface{}{"sales", true, int64(1663)}))
	sales := testkit.NewHandle("sales").
		On("cl.relkind", testkit.Rows(dependentsColumns, []interface{}{"r", "public", "orders", "orders"}))

	manager := connmgr.NewManager(connmgr.Options{
		Logger: telemetry.NoopLogger{},
		Open: func(connmgr.Server, string) (core.Handle, error) {
			return nil, errors.New("unexpected open")
		},
	})
	require.NoError(t, manager.AddServer(connmgr.Server{ID: 1, DSN: "postgres://localhost/postgres"}))
	require.NoError(t, manager.Adopt(1, maintenance))
	require.NoError(t, manager.Adopt(1, sales))

	rc := testkit.RequestContext(maintenance, manager)
	r := newResolver()

	records, err := r.Resolve(ctx, rc, tsOID)
	require.NoError(t, err)
	assert.Equal(t, []core.DependentRecord{{Type: "table", Name: "public.orders", Field: "sales"}}, records)

	assert.Equal(t, 1, sales.ConnectCalls())
	assert.False(t, sales.Connected())
	assert.True(t, maintenance.Connected())
	assert.Zero(t, r.Counters.Get(ConnectFailures))
}

func TestResolveDatabaseRecordAppearsOnce(t *testing.T) {
	ctx := context.Background()
	maintenance := testkit.NewConnectedHandle("postgres").
		On("datallowconn", catalog(
			[]interface{}{"postgres", true, tsOID},
			[]interface{}{"sales", true, int64(1663)},
		))
	manager := testkit.NewManager(maintenance)
	rc := testkit.RequestContext(maintenance, manager)

	records, err := newResolver().Resolve(ctx, rc, tsOID)
	require.NoError(t, err)

	var databases []core.DependentRecord
	for _, rec := range records {
		if rec.Type == "database" {
			databases = append(databases, rec)
		}
	}
	assert.Equal(t, []core.DependentRecord{{Type: "database", Name: "", Field: "postgres"}}, databases)
}

func TestResolveReleasesAfterQueryFailure(t *testing.T) {
	ctx := context.Background()
	maintenance := testkit.NewConnectedHandle("postgres").
		On("datallowconn", catalog(
			[]interface{}{"sales", true, int64(1663)},
			[]interface{}{"hr", true, int64(1663)},
		))
	sales := testkit.NewHandle("sales").Fail("cl.relkind", errors.New("permission denied for pg_class"))
	hr := testkit.NewHandle("hr").
		On("cl.relkind", testkit.Rows(dependentsColumns, []interface{}{"v", "public", "staff", "staff"}))
	manager := testkit.NewManager(maintenance, sales, hr)
	rc := testkit.RequestContext(maintenance, manager)
	r := newResolver()

	records, err := r.Resolve(ctx, rc, tsOID)
	require.NoError(t, err)
	assert.Equal(t, []core.DependentRecord{{Type: "view", Name: "public.staff", Field: "hr"}}, records)

	assert.Equal(t, 1, manager.Releases("sales"))
	assert.Equal(t, 1, manager.Releases("hr"))
	assert.Equal(t, int64(1), r.Counters.Get(QueryFailures))
}

func TestResolveSkipsConnectFailures(t *testing.T) {
	ctx := context.Background()
	maintenance := testkit.NewConnectedHandle("postgres").
		On("datallowconn", catalog(
			[]interface{}{"sales", true, int64(1663)},
			[]interface{}{"hr", true, int64(1663)},
			[]interface{}{"ops", true, int64(1663)},
		))
	sales := testkit.NewHandle("sales")
	sales.ConnectErr = errors.New("too many connections")
	ops := testkit.NewHandle("ops").
		On("cl.relkind", testkit.Rows(dependentsColumns, []interface{}{"n", nil, "audit", "audit"}))
	manager := testkit.NewManager(maintenance, sales, ops)
	manager.GetErr["hr"] = errors.New("no pg_hba.conf entry")
	rc := testkit.RequestContext(maintenance, manager)
	r := newResolver()

	records, err := r.Resolve(ctx, rc, tsOID)
	require.NoError(t, err)
	assert.Equal(t, []core.DependentRecord{{Type: "schema", Name: "audit", Field: "ops"}}, records)

	assert.Equal(t, int64(2), r.Counters.Get(ConnectFailures))
	assert.Equal(t, 1, manager.Releases("sales"))
	assert.Equal(t, 0, manager.Releases("hr"))
	assert.Equal(t, 1, manager.Releases("ops"))
}

func TestResolveCatalogFailureDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	maintenance := testkit.NewConnectedHandle("postgres").
		Fail("datallowconn", errors.New("canceling statement due to statement timeout"))
	manager := testkit.NewManager(maintenance)
	rc := testkit.RequestContext(maintenance, manager)
	r := newResolver()

	records, err := r.Resolve(ctx, rc, tsOID)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NotNil(t, records)
	assert.Equal(t, int64(1), r.Counters.Get(CatalogFailures))
	assert.Empty(t, manager.Calls())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		relkind, schema, relname, indname string
		wantType, wantName                string
		wantOK                            bool
	}{
		{"r", "public", "orders", "orders", "table", "public.orders", true},
		{"r", "", "orders", "orders", "table", "orders", true},
		{"i", "public", "orders", "orders_pkey", "index", "orders_pkey ON public.orders", true},
		{"o", "public", "===", "===", "operator", "===", true},
		{"T", "public", "audit_fn", "audit_fn", "trigger_function", "public.audit_fn", true},
		{"m", "public", "mv", "mv", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.relkind+"/"+tt.relname, func(t *testing.T) {
			typ, name, ok := classify(tt.relkind, tt.schema, tt.relname, tt.indname)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantType, typ)
			assert.Equal(t, tt.wantName, name)
		})
	}
}

func TestDependencies(t *testing.T) {
	ctx := context.Background()
	conn := testkit.NewConnectedHandle("postgres").
		On("pg_shdepend", testkit.Rows([]string{"deptype", "type", "name"},
			[]interface{}{"acl", "role", "alice"},
			[]interface{}{"owner", "role", "postgres"},
		))
	rc := testkit.RequestContext(conn, nil)

	deps, err := Dependencies(ctx, rc, conn, tsOID)
	require.NoError(t, err)
	assert.Equal(t, []core.DependencyRecord{
		{Type: "role", Name: "alice", Field: "acl"},
		{Type: "role", Name: "postgres", Field: "owner"},
	}, deps)
	assert.Contains(t, conn.Queries()[0], "dep.objid = 16400::oid")

	failing := testkit.NewConnectedHandle("postgres").Fail("pg_shdepend", errors.New("boom"))
	_, err = Dependencies(ctx, rc, failing, tsOID)
	assert.ErrorIs(t, err, core.ErrQueryFailure)
}
