// Package privileges converts between the access-control rows a server
// reports and the structured grants clients exchange, and encodes client
// grants into the statement-ready form the SQL templates consume.
package privileges

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/schemabounce/kolumn/directory/core"
)

// Public is the pseudo-role every role belongs to.
const Public = "PUBLIC"

// All replaces a privilege list that covers every allowed code.
const All = "ALL"

// Names maps single-character privilege codes to their SQL keywords.
var Names = map[string]string{
	"c": "CONNECT",
	"C": "CREATE",
	"T": "TEMPORARY",
	"a": "INSERT",
	"r": "SELECT",
	"w": "UPDATE",
	"d": "DELETE",
	"D": "TRUNCATE",
	"x": "REFERENCES",
	"t": "TRIGGER",
	"U": "USAGE",
	"X": "EXECUTE",
}

// codeOrder is the order aclitem text lists privileges in.
const codeOrder = "arwdDxtXUCTc"

// Privilege is one code held by a grantee.
type Privilege struct {
	Type      string `json:"privilege_type"`
	Privilege bool   `json:"privilege"`
	WithGrant bool   `json:"with_grant"`
}

// AclEntry is one structured grant.
type AclEntry struct {
	Grantee    string      `json:"grantee"`
	Grantor    string      `json:"grantor,omitempty"`
	OldGrantee string      `json:"old_grantee,omitempty"`
	Privileges []Privilege `json:"privileges"`
}

// UnmarshalJSON accepts the full form as well as the "privs" shorthand, a
// list of codes where a trailing '*' marks the grant option.
func (e *AclEntry) UnmarshalJSON(data []byte) error {
	type plain AclEntry
	var raw struct {
		plain
		Privs []string `json:"privs"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = AclEntry(raw.plain)
	for _, code := range raw.Privs {
		grant := strings.HasSuffix(code, "*")
		e.Privileges = append(e.Privileges, Privilege{
			Type:      strings.TrimSuffix(code, "*"),
			Privilege: true,
			WithGrant: grant,
		})
	}
	return nil
}

// Codes returns the entry's privilege codes with '*' marking grantable ones.
func (e AclEntry) Codes() []string {
	out := make([]string, 0, len(e.Privileges))
	for _, p := range e.Privileges {
		if !p.Privilege && !p.WithGrant {
			continue
		}
		if p.WithGrant {
			out = append(out, p.Type+"*")
			continue
		}
		out = append(out, p.Type)
	}
	return out
}

// ServerPrivilege is an entry encoded for statement generation. Grantee
// names are raw; quoting happens in the templates.
type ServerPrivilege struct {
	Grantee      string
	OldGrantee   string
	WithGrant    []string
	WithoutGrant []string
}

// Binding exposes the privilege to templates.
func (p ServerPrivilege) Binding() map[string]interface{} {
	return map[string]interface{}{
		"grantee":       p.Grantee,
		"old_grantee":   p.OldGrantee,
		"with_grant":    p.WithGrant,
		"without_grant": p.WithoutGrant,
	}
}

// Bindings converts a list for template use.
func Bindings(list []ServerPrivilege) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(list))
	for _, p := range list {
		out = append(out, p.Binding())
	}
	return out
}

// DecodeRow parses one row of the ACL query (grantee, grantor, privileges[],
// grantable[]) into an AclEntry.
func DecodeRow(row core.Row) (AclEntry, error) {
	codes, err := row.Strings("privileges")
	if err != nil {
		return AclEntry{}, err
	}
	grantable, err := row.Bools("grantable")
	if err != nil {
		return AclEntry{}, err
	}

	entry := AclEntry{
		Grantee:    row.String("grantee"),
		Grantor:    row.String("grantor"),
		Privileges: make([]Privilege, 0, len(codes)),
	}
	for i, code := range codes {
		entry.Privileges = append(entry.Privileges, Privilege{
			Type:      code,
			Privilege: true,
			WithGrant: i < len(grantable) && grantable[i],
		})
	}
	return entry, nil
}

// Encode converts client entries into statement-ready privileges. Codes
// outside allowed fail the whole call with a *core.ValidationError and no
// partial output.
func Encode(entries []AclEntry, allowed []string) ([]ServerPrivilege, error) {
	permitted := make(map[string]bool, len(allowed))
	for _, code := range allowed {
		permitted[code] = true
	}

	out := make([]ServerPrivilege, 0, len(entries))
	for _, entry := range entries {
		var with, without []string
		for _, p := range entry.Privileges {
			name, known := Names[p.Type]
			if !known || !permitted[p.Type] {
				return nil, &core.ValidationError{
					Field:   "privileges",
					Value:   p.Type,
					Message: fmt.Sprintf("privilege %q is not allowed for grantee %q (allowed: %s)", p.Type, entry.Grantee, strings.Join(allowed, ", ")),
				}
			}
			switch {
			case p.WithGrant:
				with = append(with, name)
			case p.Privilege:
				without = append(without, name)
			}
		}

		if len(allowed) > 1 && len(with) == len(allowed) {
			with = []string{All}
		}
		if len(allowed) > 1 && len(without) == len(allowed) {
			without = []string{All}
		}

		grantee := normalizeRole(entry.Grantee)
		old := grantee
		if entry.OldGrantee != "" {
			old = normalizeRole(entry.OldGrantee)
		}

		out = append(out, ServerPrivilege{
			Grantee:      grantee,
			OldGrantee:   old,
			WithGrant:    with,
			WithoutGrant: without,
		})
	}
	return out, nil
}

// EncodeDelta encodes each side of an update delta independently.
func EncodeDelta(d core.Delta[AclEntry], allowed []string) (core.Delta[ServerPrivilege], error) {
	var (
		out core.Delta[ServerPrivilege]
		err error
	)
	if out.Added, err = encodeOptional(d.Added, allowed); err != nil {
		return core.Delta[ServerPrivilege]{}, err
	}
	if out.Changed, err = encodeOptional(d.Changed, allowed); err != nil {
		return core.Delta[ServerPrivilege]{}, err
	}
	if out.Deleted, err = encodeOptional(d.Deleted, allowed); err != nil {
		return core.Delta[ServerPrivilege]{}, err
	}
	return out, nil
}

func encodeOptional(entries []AclEntry, allowed []string) ([]ServerPrivilege, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	return Encode(entries, allowed)
}

func normalizeRole(name string) string {
	if name == "" || strings.EqualFold(name, Public) {
		return Public
	}
	return name
}

// ParseACLItem parses aclitem text such as "alice=C*/postgres". An empty
// grantee stands for PUBLIC. Role names may be double-quoted, in which case
// they can contain '=', '/' and ','.
func ParseACLItem(item string) (AclEntry, error) {
	grantee, rest, ok := scanRole(item, '=')
	if !ok {
		return AclEntry{}, fmt.Errorf("malformed aclitem %q", item)
	}
	codes, grantor, ok := strings.Cut(rest, "/")
	if !ok {
		return AclEntry{}, fmt.Errorf("malformed aclitem %q", item)
	}
	grantor, tail, _ := scanRole(grantor, 0)
	if tail != "" {
		return AclEntry{}, fmt.Errorf("malformed aclitem %q", item)
	}

	entry := AclEntry{Grantee: grantee, Grantor: grantor}
	if entry.Grantee == "" {
		entry.Grantee = Public
	}

	for i := 0; i < len(codes); i++ {
		code := string(codes[i])
		if _, ok := Names[code]; !ok {
			return AclEntry{}, fmt.Errorf("unknown privilege code %q in aclitem %q", code, item)
		}
		p := Privilege{Type: code, Privilege: true}
		if i+1 < len(codes) && codes[i+1] == '*' {
			p.WithGrant = true
			i++
		}
		entry.Privileges = append(entry.Privileges, p)
	}
	return entry, nil
}

// scanRole reads a possibly quoted role name up to the terminator byte (0
// for end of input) and returns the unquoted name and the text after the
// terminator.
func scanRole(s string, term byte) (name, rest string, ok bool) {
	if strings.HasPrefix(s, `"`) {
		var b strings.Builder
		for i := 1; i < len(s); i++ {
			if s[i] != '"' {
				b.WriteByte(s[i])
				continue
			}
			if i+1 < len(s) && s[i+1] == '"' {
				b.WriteByte('"')
				i++
				continue
			}
			rest = s[i+1:]
			if term == 0 {
				return b.String(), rest, true
			}
			if rest == "" || rest[0] != term {
				return "", "", false
			}
			return b.String(), rest[1:], true
		}
		return "", "", false
	}
	if term == 0 {
		return s, "", true
	}
	i := strings.IndexByte(s, term)
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

// FormatACLItem renders an entry as aclitem text, the inverse of ParseACLItem.
func FormatACLItem(entry AclEntry) string {
	held := make([]Privilege, 0, len(entry.Privileges))
	for _, p := range entry.Privileges {
		if p.Privilege || p.WithGrant {
			held = append(held, p)
		}
	}
	sort.SliceStable(held, func(i, j int) bool {
		return strings.Index(codeOrder, held[i].Type) < strings.Index(codeOrder, held[j].Type)
	})

	var b strings.Builder
	if entry.Grantee != Public {
		b.WriteString(quoteRole(entry.Grantee))
	}
	b.WriteByte('=')
	for _, p := range held {
		b.WriteString(p.Type)
		if p.WithGrant {
			b.WriteByte('*')
		}
	}
	b.WriteByte('/')
	b.WriteString(quoteRole(entry.Grantor))
	return b.String()
}

func quoteRole(name string) string {
	if strings.ContainsAny(name, "=/,\" ") {
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
	return name
}
