package snapshot

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemabounce/kolumn/directory/core"
	"github.com/schemabounce/kolumn/directory/privileges"
	"github.com/schemabounce/kolumn/directory/runtimehelpers/sqlrunner"
	"github.com/schemabounce/kolumn/directory/runtimehelpers/testkit"
	"github.com/schemabounce/kolumn/directory/runtimehelpers/telemetry"
)

var propertiesColumns = []string{"oid", "name", "spcoptions", "spcuser", "spclocation", "acl", "description", "seclabels"}

func newMockRunner(t *testing.T) (*sqlrunner.Runner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	runner, err := sqlrunner.NewRunner(sqlrunner.Config{
		ExistingDB: db,
		Logger:     telemetry.NoopLogger{},
		Retry:      sqlrunner.RetryPolicy{Attempts: 1},
	})
	require.NoError(t, err)
	return runner, mock
}

func TestFetchNormalizesSnapshot(t *testing.T) {
	runner, mock := newMockRunner(t)
	rc := testkit.RequestContext(nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE ts.oid = 16400::oid")).
		WillReturnRows(sqlmock.NewRows(propertiesColumns).AddRow(
			int64(16400), "ts1", "{seq_page_cost=1.1,random_page_cost=4}", "postgres", "/data/ts1",
			"{postgres=C/postgres,alice=C*/postgres}", "fast disks", "{selinux=system_u:object_r:sepgsql_t:s0}",
		))
	mock.ExpectQuery(regexp.QuoteMeta("aclexplode")).
		WillReturnRows(sqlmock.NewRows([]string{"deftype", "grantee", "grantor", "privileges", "grantable"}).
			AddRow("spcacl", "alice", "postgres", "{C}", "{t}").
			AddRow("spcacl", "postgres", "postgres", "{C}", "{f}"))

	snap, err := Fetch(context.Background(), rc, runner, 16400)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	desc := "fast disks"
	want := &Snapshot{
		OID:         16400,
		Name:        "ts1",
		Owner:       "postgres",
		Location:    "/data/ts1",
		Description: &desc,
		Options: []Option{
			{Name: "seq_page_cost", Value: "1.1"},
			{Name: "random_page_cost", Value: "4"},
		},
		SecLabels: []SecLabel{{Provider: "selinux", Label: "system_u:object_r:sepgsql_t:s0"}},
		ACL: []privileges.AclEntry{
			{Grantee: "alice", Grantor: "postgres", Privileges: []privileges.Privilege{{Type: "C", Privilege: true, WithGrant: true}}},
			{Grantee: "postgres", Grantor: "postgres", Privileges: []privileges.Privilege{{Type: "C", Privilege: true}}},
		},
	}
	assert.Empty(t, cmp.Diff(want, snap))
}

func TestLoadNotFound(t *testing.T) {
	runner, mock := newMockRunner(t)
	rc := testkit.RequestContext(nil, nil)

	mock.ExpectQuery("pg_tablespace").WillReturnRows(sqlmock.NewRows(propertiesColumns))

	_, err := Fetch(context.Background(), rc, runner, 99999)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.NotErrorIs(t, err, core.ErrQueryFailure)
	assert.Equal(t, 410, core.StatusCode(err))
}

func TestLoadQueryFailureIsDistinctFromNotFound(t *testing.T) {
	runner, mock := newMockRunner(t)
	rc := testkit.RequestContext(nil, nil)

	mock.ExpectQuery("pg_tablespace").WillReturnError(errors.New("permission denied for table pg_tablespace"))

	_, err := Fetch(context.Background(), rc, runner, 16400)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrQueryFailure)
	assert.NotErrorIs(t, err, core.ErrNotFound)
}

func TestNormalizeSkipsUnknownDiscriminator(t *testing.T) {
	rc := testkit.RequestContext(nil, nil)
	conn := testkit.NewConnectedHandle("postgres").
		On("aclexplode", testkit.Rows([]string{"deftype", "grantee", "grantor", "privileges", "grantable"},
			[]interface{}{"datacl", "bob", "postgres", []string{"C"}, []bool{false}},
			[]interface{}{"spcacl", "alice", "postgres", []string{"C"}, []bool{false}},
		))

	row := core.Row{"oid": int64(16400), "name": "ts1", "spcoptions": nil, "seclabels": nil}
	snap, err := Normalize(context.Background(), rc, conn, row, 16400)
	require.NoError(t, err)
	require.Len(t, snap.ACL, 1)
	assert.Equal(t, "alice", snap.ACL[0].Grantee)
	assert.Nil(t, snap.Options)
	assert.Nil(t, snap.Description)
}

func TestList(t *testing.T) {
	runner, mock := newMockRunner(t)
	rc := testkit.RequestContext(nil, nil)

	mock.ExpectQuery("ORDER BY ts.spcname").
		WillReturnRows(sqlmock.NewRows(propertiesColumns).
			AddRow(int64(1663), "pg_default", nil, "postgres", "", nil, nil, nil).
			AddRow(int64(16400), "ts1", nil, "alice", "/data/ts1", `{alice=C/alice,=C/alice,"\"a, b\"=C/alice"}`, nil, nil))

	list, err := List(context.Background(), rc, runner)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.True(t, list[0].IsSystem)
	assert.False(t, list[1].IsSystem)
	require.Len(t, list[1].ACL, 3)
	assert.Equal(t, privileges.Public, list[1].ACL[1].Grantee)
	assert.Equal(t, "a, b", list[1].ACL[2].Grantee)
	assert.Equal(t, "alice", list[1].ACL[2].Grantor)
}

func TestOptionAndLabelRoundTrip(t *testing.T) {
	options := []string{"seq_page_cost=1.1", "effective_io_concurrency=200", "weird=a=b"}
	parsed, err := ParseOptions(options)
	require.NoError(t, err)
	assert.Equal(t, "a=b", parsed[2].Value)
	assert.ElementsMatch(t, options, FormatOptions(parsed))

	labels := []string{"selinux=system_u:object_r:sepgsql_t:s0", "dummy=classified"}
	parsedLabels, err := ParseSecLabels(labels)
	require.NoError(t, err)
	assert.ElementsMatch(t, labels, FormatSecLabels(parsedLabels))

	_, err = ParseOption("novalue")
	assert.Error(t, err)
	_, err = ParseSecLabel("=label")
	assert.Error(t, err)
}
