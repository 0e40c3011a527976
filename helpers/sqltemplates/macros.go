package sqltemplates

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
)

var plainIdentifier = regexp.MustCompile(`^[a-z_][a-z0-9_$]*$`)

// reservedWords lists keywords that must be quoted when used as names.
var reservedWords = map[string]bool{
	"all": true, "analyse": true, "analyze": true, "and": true, "any": true,
	"array": true, "as": true, "asc": true, "asymmetric": true, "authorization": true,
	"both": true, "case": true, "cast": true, "check": true, "collate": true,
	"column": true, "constraint": true, "create": true, "current_catalog": true,
	"current_date": true, "current_role": true, "current_time": true,
	"current_timestamp": true, "current_user": true, "default": true,
	"deferrable": true, "desc": true, "distinct": true, "do": true, "else": true,
	"end": true, "except": true, "false": true, "fetch": true, "for": true,
	"foreign": true, "from": true, "grant": true, "group": true, "having": true,
	"in": true, "initially": true, "intersect": true, "into": true, "lateral": true,
	"leading": true, "limit": true, "localtime": true, "localtimestamp": true,
	"not": true, "null": true, "offset": true, "on": true, "only": true, "or": true,
	"order": true, "placing": true, "primary": true, "references": true,
	"returning": true, "select": true, "session_user": true, "some": true,
	"symmetric": true, "table": true, "then": true, "to": true, "trailing": true,
	"true": true, "union": true, "unique": true, "user": true, "using": true,
	"variadic": true, "when": true, "where": true, "window": true, "with": true,
	"public": true,
}

// QuoteIdent quotes a name only when PostgreSQL would otherwise fold or
// reject it.
func QuoteIdent(name string) string {
	if plainIdentifier.MatchString(name) && !reservedWords[name] {
		return name
	}
	return pq.QuoteIdentifier(name)
}

// QuoteLiteral renders a string literal.
func QuoteLiteral(value string) string {
	return strings.TrimSpace(pq.QuoteLiteral(value))
}

// QuoteRole renders a grantee, leaving the PUBLIC pseudo-role bare.
func QuoteRole(name string) string {
	if name == "" || strings.EqualFold(name, "PUBLIC") {
		return "PUBLIC"
	}
	return QuoteIdent(name)
}

func qtIdentMacro(adapter AdapterInfo, args ...interface{}) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("qtIdent() requires at least one part")
	}
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		s := safeString(arg)
		if s == "" {
			continue
		}
		parts = append(parts, QuoteIdent(s))
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("qtIdent() called with empty name")
	}
	return strings.Join(parts, "."), nil
}

func qtLiteralMacro(adapter AdapterInfo, args ...interface{}) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("qtLiteral() expects 1 argument, got %d", len(args))
	}
	if args[0] == nil {
		return "NULL", nil
	}
	return QuoteLiteral(safeString(args[0])), nil
}

func registerPostgresMacros(adapter string) {
	// grant(objectType, objectName, grantee, withoutGrant, withGrant)
	RegisterMacro(adapter, "grant", func(adapter AdapterInfo, args ...interface{}) (string, error) {
		if len(args) != 5 {
			return "", fmt.Errorf("grant() expects type, name, grantee, privileges, grantable privileges")
		}
		objType := strings.ToUpper(safeString(args[0]))
		target := QuoteIdent(safeString(args[1]))
		role := QuoteRole(safeString(args[2]))
		without := toStrings(args[3])
		with := toStrings(args[4])

		var stmts []string
		if len(without) > 0 {
			stmts = append(stmts, fmt.Sprintf("GRANT %s ON %s %s TO %s;", strings.Join(without, ", "), objType, target, role))
		}
		if len(with) > 0 {
			stmts = append(stmts, fmt.Sprintf("GRANT %s ON %s %s TO %s WITH GRANT OPTION;", strings.Join(with, ", "), objType, target, role))
		}
		return strings.Join(stmts, "\n"), nil
	})

	// revokeAll(objectType, objectName, grantee)
	RegisterMacro(adapter, "revokeAll", func(adapter AdapterInfo, args ...interface{}) (string, error) {
		if len(args) != 3 {
			return "", fmt.Errorf("revokeAll() expects type, name, grantee")
		}
		return fmt.Sprintf("REVOKE ALL ON %s %s FROM %s;",
			strings.ToUpper(safeString(args[0])), QuoteIdent(safeString(args[1])), QuoteRole(safeString(args[2]))), nil
	})

	// setSecLabel(objectType, objectName, provider, label)
	RegisterMacro(adapter, "setSecLabel", func(adapter AdapterInfo, args ...interface{}) (string, error) {
		if len(args) != 4 {
			return "", fmt.Errorf("setSecLabel() expects type, name, provider, label")
		}
		return fmt.Sprintf("SECURITY LABEL FOR %s ON %s %s IS %s;",
			QuoteIdent(safeString(args[2])), strings.ToUpper(safeString(args[0])), QuoteIdent(safeString(args[1])), QuoteLiteral(safeString(args[3]))), nil
	})

	// unsetSecLabel(objectType, objectName, provider)
	RegisterMacro(adapter, "unsetSecLabel", func(adapter AdapterInfo, args ...interface{}) (string, error) {
		if len(args) != 3 {
			return "", fmt.Errorf("unsetSecLabel() expects type, name, provider")
		}
		return fmt.Sprintf("SECURITY LABEL FOR %s ON %s %s IS NULL;",
			QuoteIdent(safeString(args[2])), strings.ToUpper(safeString(args[0])), QuoteIdent(safeString(args[1]))), nil
	})
}

func toStrings(value interface{}) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, safeString(item))
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return []string{safeString(v)}
	}
}

func safeString(value interface{}) string {
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}
