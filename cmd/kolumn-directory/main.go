// Package main provides the kolumn-directory CLI: it inspects and manages
// PostgreSQL tablespaces on the configured servers, and serves the same
// operations as a Kolumn plugin.
//
// Usage:
//
//	kolumn-directory [flags] <command>
package main

func main() {
	Execute()
}
