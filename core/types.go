package core

import (
	"fmt"
	"strconv"

	"github.com/lib/pq"
)

// Result holds the rows returned by ExecuteDict or Execute2DArray.
type Result struct {
	Columns []string
	Rows    []Row
}

// Len returns the number of rows.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// First returns the first row or nil.
func (r *Result) First() Row {
	if r.Len() == 0 {
		return nil
	}
	return r.Rows[0]
}

// Row maps column names to driver values.
type Row map[string]interface{}

// IsNull reports whether the column is absent or NULL.
func (r Row) IsNull(key string) bool {
	v, ok := r[key]
	return !ok || v == nil
}

// String returns the column as text; NULL becomes "".
func (r Row) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// NullableString returns nil for NULL columns.
func (r Row) NullableString(key string) *string {
	if r.IsNull(key) {
		return nil
	}
	s := r.String(key)
	return &s
}

// Int64 returns the column as an integer; unparsable values become 0.
func (r Row) Int64(key string) int64 {
	n, _ := ToInt64(r[key])
	return n
}

// Bool returns the column as a boolean.
func (r Row) Bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b || v == "t"
	case []byte:
		s := string(v)
		b, _ := strconv.ParseBool(s)
		return b || s == "t"
	default:
		return false
	}
}

// Strings decodes a text[] column. Drivers hand arrays over either as Go
// slices or in their "{a,b}" text form.
func (r Row) Strings(key string) ([]string, error) {
	switch v := r[key].(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out, nil
	default:
		var arr pq.StringArray
		if err := arr.Scan(toScannable(v)); err != nil {
			return nil, fmt.Errorf("decode %s as text[]: %w", key, err)
		}
		return []string(arr), nil
	}
}

// Bools decodes a bool[] column.
func (r Row) Bools(key string) ([]bool, error) {
	switch v := r[key].(type) {
	case nil:
		return nil, nil
	case []bool:
		return v, nil
	case []interface{}:
		out := make([]bool, 0, len(v))
		for _, item := range v {
			b, _ := item.(bool)
			out = append(out, b)
		}
		return out, nil
	default:
		var arr pq.BoolArray
		if err := arr.Scan(toScannable(v)); err != nil {
			return nil, fmt.Errorf("decode %s as bool[]: %w", key, err)
		}
		return []bool(arr), nil
	}
}

func toScannable(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return []byte(t)
	default:
		return t
	}
}

// ToInt64 converts the integer representations drivers return.
func ToInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	case []byte:
		i, err := strconv.ParseInt(string(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// DependentRecord is one object or database referencing a directory object.
// Field always carries the owning database name.
type DependentRecord struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Field string `json:"field"`
}

// DependencyRecord is one object a directory object depends on.
type DependencyRecord struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Field string `json:"field"`
}

// Node is the browser-tree representation of one directory object.
type Node struct {
	ID          int64  `json:"_id"`
	ServerID    int    `json:"_pid"`
	Label       string `json:"label"`
	Icon        string `json:"icon"`
	Type        string `json:"_type"`
	Inode       bool   `json:"inode"`
	Description string `json:"description,omitempty"`
}

// NodeType is the browser node type of directory objects.
const NodeType = "directory"

// NewNode builds a directory browser node.
func NewNode(oid int64, serverID int, name, description string) Node {
	return Node{
		ID:          oid,
		ServerID:    serverID,
		Label:       name,
		Icon:        "icon-directory",
		Type:        NodeType,
		Description: description,
	}
}
