package diff

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemabounce/kolumn/directory/core"
	"github.com/schemabounce/kolumn/directory/runtimehelpers/testkit"
)

var (
	propertiesColumns = []string{"oid", "name", "spcoptions", "spcuser", "spclocation", "acl", "description", "seclabels"}
	aclColumns        = []string{"deftype", "grantee", "grantor", "privileges", "grantable"}
)

// server answers the ACL query before the properties query; both mention
// pg_tablespace.
func server(props *core.Result, acl *core.Result) *testkit.FakeHandle {
	if acl == nil {
		acl = testkit.Rows(aclColumns)
	}
	return testkit.NewConnectedHandle("postgres").
		On("aclexplode", acl).
		On("pg_tablespace_location", props)
}

func ts1() *core.Result {
	return testkit.Rows(propertiesColumns,
		[]interface{}{int64(100), "ts1", nil, "postgres", "/data/ts1", nil, nil, nil})
}

func mustPayload(t *testing.T, body string) *Payload {
	t.Helper()
	p, err := ParsePayload([]byte(body))
	require.NoError(t, err)
	return p
}

func TestUpdateGrantsAddedPrivilege(t *testing.T) {
	conn := server(ts1(), nil)
	rc := testkit.RequestContext(conn, nil)
	payload := mustPayload(t, `{"spcacl":{"added":[{"grantee":"alice","privs":["C"]}]}}`)

	res, err := Generate(context.Background(), rc, conn, 100, payload)
	require.NoError(t, err)

	assert.Equal(t, "ts1", res.Name)
	assert.Equal(t, "GRANT CREATE ON TABLESPACE ts1 TO alice;", strings.TrimSpace(res.SQL))
}

func TestCreateRendersCreateThenAlter(t *testing.T) {
	conn := testkit.NewConnectedHandle("postgres")
	rc := testkit.RequestContext(conn, nil)
	payload := mustPayload(t, `{"name":"ts2","spclocation":"/data/ts2"}`)

	res, err := Generate(context.Background(), rc, conn, 0, payload)
	require.NoError(t, err)

	assert.Equal(t, "ts2", res.Name)
	assert.Equal(t, "CREATE TABLESPACE ts2\n  LOCATION '/data/ts2';\n", res.SQL)
	assert.Empty(t, conn.Queries())
}

func TestCreateWithProperties(t *testing.T) {
	rc := testkit.RequestContext(nil, nil)
	payload := mustPayload(t, `{
		"name": "Fast Disk",
		"spcuser": "alice",
		"spclocation": "/mnt/fast",
		"description": "nvme pool",
		"spcoptions": [{"name": "seq_page_cost", "value": "1.1"}, {"name": "random_page_cost", "value": "1.2"}],
		"seclabels": [{"provider": "selinux", "label": "system_u:object_r:sepgsql_t:s0"}],
		"spcacl": [{"grantee": "bob", "privs": ["C*"]}, {"grantee": "PUBLIC", "privs": ["C"]}]
	}`)

	res, err := Create(context.Background(), rc, payload)
	require.NoError(t, err)

	for _, stmt := range []string{
		"CREATE TABLESPACE \"Fast Disk\"\n  OWNER alice\n  LOCATION '/mnt/fast';",
		"ALTER TABLESPACE \"Fast Disk\"\n  SET (seq_page_cost='1.1', random_page_cost='1.2');",
		"COMMENT ON TABLESPACE \"Fast Disk\"\n  IS 'nvme pool';",
		"SECURITY LABEL FOR selinux ON TABLESPACE \"Fast Disk\" IS 'system_u:object_r:sepgsql_t:s0';",
		"GRANT CREATE ON TABLESPACE \"Fast Disk\" TO bob WITH GRANT OPTION;",
		"GRANT CREATE ON TABLESPACE \"Fast Disk\" TO PUBLIC;",
	} {
		assert.Contains(t, res.SQL, stmt)
	}
	assert.Less(t, strings.Index(res.SQL, "CREATE TABLESPACE"), strings.Index(res.SQL, "ALTER TABLESPACE"))
	assert.NotContains(t, res.SQL, "\n\n\n")
}

func TestOptionsAreQuoted(t *testing.T) {
	rc := testkit.RequestContext(nil, nil)
	payload := mustPayload(t, `{
		"name": "ts2",
		"spclocation": "/data/ts2",
		"spcoptions": [{"name": "seq_page_cost", "value": "1); DROP TABLESPACE pg_global; --"}]
	}`)

	res, err := Create(context.Background(), rc, payload)
	require.NoError(t, err)
	assert.Contains(t, res.SQL, "SET (seq_page_cost='1); DROP TABLESPACE pg_global; --');")
	assert.NotContains(t, res.SQL, "=1); DROP")

	conn := server(ts1(), nil)
	rc = testkit.RequestContext(conn, nil)
	payload = mustPayload(t, `{
		"spcoptions": {
			"deleted": [{"name": "x); DROP TABLESPACE pg_global; --", "value": "1"}],
			"added": [{"name": "Odd Name", "value": "it's"}]
		}
	}`)
	res, err = Update(context.Background(), rc, conn, 100, payload)
	require.NoError(t, err)
	assert.Contains(t, res.SQL, `RESET ("x); DROP TABLESPACE pg_global; --");`)
	assert.Contains(t, res.SQL, `SET ("Odd Name"='it''s');`)
}

func TestCreateRequiresNameBeforeAnyQuery(t *testing.T) {
	conn := testkit.NewConnectedHandle("postgres")
	rc := testkit.RequestContext(conn, nil)

	_, err := Generate(context.Background(), rc, conn, 0, mustPayload(t, `{"spclocation":"/data/ts2"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Contains(t, err.Error(), "Could not find the required parameter (Name).")
	assert.Empty(t, conn.Calls())
}

func TestCreateRejectsDisallowedPrivilege(t *testing.T) {
	rc := testkit.RequestContext(nil, nil)
	_, err := Create(context.Background(), rc, mustPayload(t, `{"name":"ts2","spcacl":[{"grantee":"bob","privs":["r"]}]}`))
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestUpdateIsDeterministic(t *testing.T) {
	props := testkit.Rows(propertiesColumns,
		[]interface{}{int64(16400), "ts1", "{seq_page_cost=1.1}", "postgres", "/data/ts1", nil, "old", nil})
	conn := server(props, nil)
	rc := testkit.RequestContext(conn, nil)
	body := `{"name":"ts9","description":"new","spcoptions":{"changed":[{"name":"seq_page_cost","value":"2"}]}}`

	first, err := Update(context.Background(), rc, conn, 16400, mustPayload(t, body))
	require.NoError(t, err)
	second, err := Update(context.Background(), rc, conn, 16400, mustPayload(t, body))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "ts9", first.Name)
}

func TestUpdateFullDelta(t *testing.T) {
	props := testkit.Rows(propertiesColumns, []interface{}{
		int64(16400), "ts1", "{seq_page_cost=1.1,random_page_cost=4}", "postgres", "/data/ts1", nil, nil,
		"{selinux=system_u:object_r:sepgsql_t:s0}",
	})
	acl := testkit.Rows(aclColumns,
		[]interface{}{"spcacl", "alice", "postgres", "{C}", "{f}"},
		[]interface{}{"spcacl", "carol", "postgres", "{C}", "{f}"},
	)
	conn := server(props, acl)
	rc := testkit.RequestContext(conn, nil)

	payload := mustPayload(t, `{
		"name": "ts_fast",
		"spcuser": "bob",
		"description": "fast disks",
		"spcoptions": {
			"deleted": [{"name": "random_page_cost", "value": "4"}],
			"added": [{"name": "effective_io_concurrency", "value": "200"}],
			"changed": [{"name": "seq_page_cost", "value": "1.5"}]
		},
		"seclabels": {"deleted": [{"provider": "selinux", "label": "system_u:object_r:sepgsql_t:s0"}]},
		"spcacl": {
			"deleted": [{"grantee": "carol", "privs": ["C"]}],
			"changed": [{"grantee": "alice", "privs": ["C*"]}]
		}
	}`)

	res, err := Update(context.Background(), rc, conn, 16400, payload)
	require.NoError(t, err)
	assert.Equal(t, "ts_fast", res.Name)

	statements := []string{
		"ALTER TABLESPACE ts1\n  RENAME TO ts_fast;",
		"ALTER TABLESPACE ts_fast\n  OWNER TO bob;",
		"COMMENT ON TABLESPACE ts_fast\n  IS 'fast disks';",
		"ALTER TABLESPACE ts_fast\n  RESET (random_page_cost);",
		"ALTER TABLESPACE ts_fast\n  SET (effective_io_concurrency='200', seq_page_cost='1.5');",
		"SECURITY LABEL FOR selinux ON TABLESPACE ts_fast IS NULL;",
		"REVOKE ALL ON TABLESPACE ts_fast FROM carol;",
		"REVOKE ALL ON TABLESPACE ts_fast FROM alice;\nGRANT CREATE ON TABLESPACE ts_fast TO alice WITH GRANT OPTION;",
	}
	last := -1
	for _, stmt := range statements {
		idx := strings.Index(res.SQL, stmt)
		require.GreaterOrEqual(t, idx, 0, "missing statement %q in:\n%s", stmt, res.SQL)
		assert.Greater(t, idx, last, "statement %q out of order", stmt)
		last = idx
	}
	assert.NotContains(t, res.SQL, "\n\n\n")
}

func TestUpdateWithoutChangesIsBlank(t *testing.T) {
	conn := server(ts1(), nil)
	rc := testkit.RequestContext(conn, nil)

	res, err := Update(context.Background(), rc, conn, 100, mustPayload(t, `{"name":"ts1","spcuser":"postgres"}`))
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(res.SQL))
	assert.Equal(t, "ts1", res.Name)
}

func TestUpdateMissingObjectIsNotFound(t *testing.T) {
	conn := server(testkit.Rows(propertiesColumns), nil)
	rc := testkit.RequestContext(conn, nil)

	_, err := Generate(context.Background(), rc, conn, 424242, mustPayload(t, `{"name":"ts1"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.NotErrorIs(t, err, core.ErrQueryFailure)
}

func TestUpdateQueryFailurePropagates(t *testing.T) {
	boom := errors.New("canceling statement due to statement timeout")
	conn := testkit.NewConnectedHandle("postgres").Fail("pg_tablespace_location", boom)
	rc := testkit.RequestContext(conn, nil)

	_, err := Update(context.Background(), rc, conn, 16400, &Payload{})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrQueryFailure)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, core.ErrNotFound)
}

func TestUpdateRejectsDisallowedPrivilege(t *testing.T) {
	conn := server(ts1(), nil)
	rc := testkit.RequestContext(conn, nil)

	_, err := Update(context.Background(), rc, conn, 100, mustPayload(t, `{"spcacl":{"added":[{"grantee":"alice","privs":["U"]}]}}`))
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestPayloadForms(t *testing.T) {
	p := mustPayload(t, `{"spcoptions":[{"name":"a","value":"1"}],"spcacl":{"added":[]}}`)
	assert.False(t, p.Options.IsDelta())
	assert.True(t, p.ACL.IsDelta())
	assert.True(t, p.Has("spcoptions"))
	assert.False(t, p.Has("name"))

	_, err := ParsePayload([]byte(`{"spcoptions":"nope"}`))
	assert.ErrorIs(t, err, core.ErrValidation)

	q, err := PayloadFromValues(map[string]interface{}{"name": "ts1", "description": "x"})
	require.NoError(t, err)
	assert.Equal(t, "ts1", q.NameOr(""))
}

func TestReverse(t *testing.T) {
	props := testkit.Rows(propertiesColumns, []interface{}{
		int64(16400), "ts1", "{seq_page_cost=1.1}", "postgres", "/data/ts1", nil, "fast", nil,
	})
	acl := testkit.Rows(aclColumns, []interface{}{"spcacl", "alice", "postgres", "{C}", "{f}"})
	conn := server(props, acl)
	rc := testkit.RequestContext(conn, nil)

	sql, err := Reverse(context.Background(), rc, conn, 16400)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sql, "-- Directory: ts1\n\n-- DROP TABLESPACE IF EXISTS ts1;\n\n"))
	assert.Contains(t, sql, "CREATE TABLESPACE ts1\n  OWNER postgres\n  LOCATION '/data/ts1';")
	assert.Contains(t, sql, "ALTER TABLESPACE ts1\n  SET (seq_page_cost='1.1');")
	assert.Contains(t, sql, "COMMENT ON TABLESPACE ts1\n  IS 'fast';")
	assert.True(t, strings.HasSuffix(sql, "GRANT CREATE ON TABLESPACE ts1 TO alice;"))
	assert.NotContains(t, sql, "\n\n\n")
}

func TestReverseSkipsCreateForSystemObjects(t *testing.T) {
	props := testkit.Rows(propertiesColumns, []interface{}{int64(1663), "pg_default", nil, "postgres", "", nil, nil, nil})
	conn := server(props, nil)
	rc := testkit.RequestContext(conn, nil)

	sql, err := Reverse(context.Background(), rc, conn, 1663)
	require.NoError(t, err)
	assert.NotContains(t, sql, "CREATE TABLESPACE")
	assert.Equal(t, "-- Directory: pg_default\n\n-- DROP TABLESPACE IF EXISTS pg_default;", sql)
}
