package diff

import (
	"context"
	"fmt"
	"strings"

	"github.com/schemabounce/kolumn/directory/core"
	"github.com/schemabounce/kolumn/directory/helpers/sqltemplates"
	"github.com/schemabounce/kolumn/directory/privileges"
	"github.com/schemabounce/kolumn/directory/snapshot"
)

// Reverse rebuilds the DDL that recreates the directory object oid. System
// objects (names starting with "pg_") get their properties only, never a
// CREATE statement.
func Reverse(ctx context.Context, rc *core.RequestContext, conn core.Executor, oid int64) (string, error) {
	snap, err := snapshot.Fetch(ctx, rc, conn, oid)
	if err != nil {
		return "", err
	}

	acl, err := privileges.Encode(snap.ACL, rc.Allowed())
	if err != nil {
		return "", err
	}

	data := snap.Bindings()
	data["spcacl"] = privileges.Bindings(acl)
	bindings := map[string]interface{}{"data": data}

	var b strings.Builder
	fmt.Fprintf(&b, "-- Directory: %s\n\n-- DROP TABLESPACE IF EXISTS %s;\n\n", snap.Name, sqltemplates.QuoteIdent(snap.Name))

	if !strings.HasPrefix(snap.Name, "pg_") {
		create, err := rc.Render(CreateSQL, bindings)
		if err != nil {
			return "", err
		}
		b.WriteString(create)
		b.WriteString("\n")
	}

	alter, err := rc.Render(AlterSQL, bindings)
	if err != nil {
		return "", err
	}
	b.WriteString(alter)

	return strings.Trim(CollapseBlankLines(b.String()), "\n"), nil
}
