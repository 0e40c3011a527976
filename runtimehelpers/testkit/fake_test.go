package testkit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemabounce/kolumn/directory/core"
)

func TestFakeHandleAnswersByFragment(t *testing.T) {
	ctx := context.Background()
	h := NewConnectedHandle("postgres").
		On("pg_tablespace", Rows([]string{"oid", "name"}, []interface{}{int64(16400), "ts1"})).
		Fail("pg_class", errors.New("relation does not exist"))

	res, err := h.ExecuteDict(ctx, "SELECT oid, spcname AS name FROM pg_tablespace")
	require.NoError(t, err)
	assert.Equal(t, "ts1", res.First().String("name"))

	v, err := h.ExecuteScalar(ctx, "SELECT oid FROM pg_tablespace")
	require.NoError(t, err)
	assert.Equal(t, int64(16400), v)

	_, err = h.ExecuteDict(ctx, "SELECT relkind FROM pg_class")
	assert.ErrorIs(t, err, core.ErrQueryFailure)

	res, err = h.ExecuteDict(ctx, "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Len())
	assert.Len(t, h.Queries(), 4)
}

func TestFakeHandleRequiresConnection(t *testing.T) {
	h := NewHandle("sales")
	err := h.ExecuteVoid(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, core.ErrQueryFailure)

	require.NoError(t, h.Connect(context.Background()))
	assert.True(t, h.Connected())
	assert.Equal(t, 1, h.ConnectCalls())
}

func TestFakeManagerOwnership(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewConnectedHandle("postgres"))

	lease, err := m.Get(ctx, 1, "postgres")
	require.NoError(t, err)
	assert.True(t, lease.Preexisting)

	lease, err = m.Get(ctx, 1, "sales")
	require.NoError(t, err)
	assert.False(t, lease.Preexisting)
	require.NoError(t, lease.Handle.Connect(ctx))

	require.NoError(t, m.Release(1, "sales"))
	assert.Equal(t, 1, m.Releases("sales"))
	assert.False(t, m.Handle("sales").Connected())
	assert.Error(t, m.Release(1, "missing"))

	m.GetErr["hr"] = errors.New("too many connections")
	_, err = m.Get(ctx, 1, "hr")
	assert.ErrorIs(t, err, core.ErrConnectionFailure)
}
