package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/schemabounce/kolumn/directory/core"
	"github.com/schemabounce/kolumn/directory/handlers"
)

func TestTabulate(t *testing.T) {
	headers, rows, ok := tabulate([]core.Node{core.NewNode(1663, 1, "pg_default", "")})
	assert.True(t, ok)
	assert.Equal(t, []string{"oid", "name", "description"}, headers)
	assert.Equal(t, [][]string{{"1663", "pg_default", ""}}, rows)

	headers, rows, ok = tabulate([]core.Row{{"size": "22 MB", "name": "pg_default", "size_bytes": nil}})
	assert.True(t, ok)
	assert.Equal(t, []string{"name", "size", "size_bytes"}, headers)
	assert.Equal(t, [][]string{{"pg_default", "22 MB", ""}}, rows)

	_, _, ok = tabulate("CREATE TABLESPACE")
	assert.False(t, ok)
}

func TestReportStatus(t *testing.T) {
	var buf bytes.Buffer
	reportStatus(&buf, "fastspace", "created", nil)
	assert.Equal(t, "[KOLUMN-DIRECTORY] [CREATED] fastspace\n", buf.String())

	buf.Reset()
	reportStatus(&buf, "fastspace", "created", &handlers.PartialSuccessError{Err: errors.New("permission denied")})
	assert.Equal(t, "[KOLUMN-DIRECTORY] [PARTIAL] fastspace permission denied\n", buf.String())

	buf.Reset()
	reportStatus(&buf, "16400", "dropped", core.MissingParameter("Name"))
	assert.Contains(t, buf.String(), "[FAILED] 16400 validation failed")
}
