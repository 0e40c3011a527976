package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetStyleOptionsNonTerminal(t *testing.T) {
	assert.Equal(t, PlainStyleOptions, GetStyleOptions(&bytes.Buffer{}))
}

func TestFormatStatusLine(t *testing.T) {
	line := FormatStatusLine("", "created", "fastspace", "oid 16400", PlainStyleOptions)
	assert.Equal(t, "[KOLUMN-DIRECTORY] [CREATED] fastspace oid 16400", line)

	line = FormatStatusLine("directory", "partial", "fastspace", "", StyleOptions{UsePrefixes: true, UseColors: true})
	assert.Contains(t, line, BrightYellow+"[PARTIAL]"+Reset)
	assert.True(t, strings.HasSuffix(line, " fastspace"))

	assert.Equal(t, "fastspace", FormatStatusLine("", "dropped", "fastspace", "", StyleOptions{}))
}

func TestTable(t *testing.T) {
	assert.Empty(t, Table([]string{"name"}, nil, PlainStyleOptions))

	out := Table([]string{"name", "size"}, [][]string{{"pg_default", "22 MB"}, {"fastspace"}}, PlainStyleOptions)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	assert.Len(t, lines, 4)
	assert.Equal(t, "│ name       │ size  │", lines[0])
	assert.Equal(t, "├────────────┼───────┤", lines[1])
	assert.Equal(t, "│ fastspace  │       │", lines[3])
}
