package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// Meta is the free-form metadata of a File, stored as JSONB.
type Meta map[string]any

func (m Meta) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(m))
}

func (m *Meta) Scan(src any) error {
	*m = Meta{}
	return scanJSON(src, (*map[string]any)(m))
}

// String returns the string value of key, or "".
func (m Meta) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Bool returns the boolean value of key, or false.
func (m Meta) Bool(key string) bool {
	b, _ := m[key].(bool)
	return b
}

// Int64s returns the numeric list stored under key. JSON numbers decode as
// float64, strings holding integers are accepted too.
func (m Meta) Int64s(key string) []int64 {
	raw, ok := m[key].([]any)
	if !ok {
		if ids, ok := m[key].([]int64); ok {
			return ids
		}
		return nil
	}
	out := make([]int64, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, int64(n))
		case int64:
			out = append(out, n)
		case int:
			out = append(out, int64(n))
		case json.Number:
			if i, err := n.Int64(); err == nil {
				out = append(out, i)
			}
		case string:
			var i int64
			if _, err := fmt.Sscan(n, &i); err == nil {
				out = append(out, i)
			}
		}
	}
	return out
}

// Merge returns a copy of m with every key of other set on it.
func (m Meta) Merge(other Meta) Meta {
	out := make(Meta, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Int64List is an ordered set of ids stored as a JSONB array.
type Int64List []int64

func (l Int64List) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]int64(l))
}

func (l *Int64List) Scan(src any) error {
	*l = nil
	return scanJSON(src, (*[]int64)(l))
}

// Contains reports whether id is in the list.
func (l Int64List) Contains(id int64) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}

// StringList is a list of strings stored as a JSONB array.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

func (l *StringList) Scan(src any) error {
	*l = nil
	return scanJSON(src, (*[]string)(l))
}

// Table is a grid of cell values stored as JSONB.
type Table [][]string

func (t Table) Value() (driver.Value, error) {
	if t == nil {
		return nil, nil
	}
	return json.Marshal([][]string(t))
}

func (t *Table) Scan(src any) error {
	*t = nil
	return scanJSON(src, (*[][]string)(t))
}

func (a Answer) Value() (driver.Value, error) {
	if a.IsZero() {
		return nil, nil
	}
	return json.Marshal(a)
}

func (a *Answer) Scan(src any) error {
	*a = Answer{}
	return scanJSON(src, a)
}

func (s SchemaSpec) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *SchemaSpec) Scan(src any) error {
	*s = SchemaSpec{}
	return scanJSON(src, s)
}

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}

// ExtensionOf returns the lower-cased extension of name without the dot.
func ExtensionOf(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}
