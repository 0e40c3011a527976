// Package templates embeds the SQL templates used to inspect and change
// directory objects.
package templates

import (
	"embed"
	"io/fs"
)

//go:embed directories
var files embed.FS

// Base is the template directory for directory objects; a "#<version>#"
// segment is appended per server.
const Base = "directories/sql"

// FS returns the embedded template tree.
func FS() fs.FS {
	return files
}
