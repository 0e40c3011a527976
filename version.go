// Package directory manages PostgreSQL tablespace directory objects: their
// properties, generated DDL and cross-database dependents.
package directory

import "runtime"

const (
	// Version is the release of the directory module.
	Version = "v0.1.0"

	// ProtocolVersion is the plugin protocol version.
	ProtocolVersion = 1
)

// Info describes the running module.
type Info struct {
	Version         string `json:"version"`
	ProtocolVersion int    `json:"protocol_version"`
	GoVersion       string `json:"go_version"`
}

// GetInfo returns information about the module.
func GetInfo() *Info {
	return &Info{
		Version:         Version,
		ProtocolVersion: ProtocolVersion,
		GoVersion:       runtime.Version(),
	}
}
