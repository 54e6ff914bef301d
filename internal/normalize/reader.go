package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"specsync/pkg/domain"
)

// reader pulls typed values out of a loosely structured fact. Every key list
// names the canonical field first followed by accepted aliases.
type reader struct {
	fact   domain.Fact
	index  int
	prefix string
	notes  *[]Note
}

func (r *reader) child(fact map[string]any, prefix string) *reader {
	return &reader{fact: fact, index: r.index, prefix: r.prefix + prefix, notes: r.notes}
}

func (r *reader) note(field, format string, args ...any) {
	*r.notes = append(*r.notes, Note{Index: r.index, Field: r.prefix + field, Detail: fmt.Sprintf(format, args...)})
}

func (r *reader) lookup(keys ...string) (string, any, bool) {
	for _, k := range keys {
		if v, ok := r.fact[k]; ok && v != nil {
			return k, v, true
		}
	}
	return keys[0], nil, false
}

// scalar renders a non-string scalar as text; ok is false for composite values.
func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case time.Time:
		return x.UTC().Format(time.RFC3339), true
	}
	return "", false
}

func (r *reader) str(keys ...string) string {
	key, v, ok := r.lookup(keys...)
	if !ok {
		return ""
	}
	if s, isString := v.(string); isString {
		return strings.TrimSpace(s)
	}
	if s, isScalar := scalar(v); isScalar {
		r.note(key, "coerced %T to string", v)
		return s
	}
	r.note(key, "ignored %T value", v)
	return ""
}

func (r *reader) boolean(keys ...string) bool {
	key, v, ok := r.lookup(keys...)
	if !ok {
		return false
	}
	switch x := v.(type) {
	case bool:
		return x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true":
			r.note(key, "coerced string to bool")
			return true
		case "false":
			r.note(key, "coerced string to bool")
			return false
		}
	}
	r.note(key, "ignored non-boolean value %v", v)
	return false
}

func (r *reader) integer(keys ...string) (int, bool) {
	key, v, ok := r.lookup(keys...)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case uint64:
		return int(x), true
	case float64:
		if x == math.Trunc(x) {
			return int(x), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			r.note(key, "coerced numeric string to int")
			return n, true
		}
	}
	r.note(key, "ignored non-integer value %v", v)
	return 0, false
}

func (r *reader) optionalInt(keys ...string) *int {
	n, ok := r.integer(keys...)
	if !ok {
		return nil
	}
	return &n
}

func (r *reader) list(keys ...string) []string {
	key, v, ok := r.lookup(keys...)
	if !ok {
		return nil
	}
	var out []string
	switch x := v.(type) {
	case []string:
		for _, s := range x {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, item := range x {
			switch s := item.(type) {
			case string:
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			default:
				if text, isScalar := scalar(item); isScalar {
					r.note(key, "coerced %T list element to string", item)
					out = append(out, text)
				} else {
					r.note(key, "dropped %T list element", item)
				}
			}
		}
	case string:
		if s := strings.TrimSpace(x); s != "" {
			r.note(key, "wrapped single string in list")
			out = append(out, s)
		}
	default:
		r.note(key, "ignored %T value", v)
	}
	return out
}

func (r *reader) timestamp(keys ...string) *time.Time {
	key, v, ok := r.lookup(keys...)
	if !ok {
		return nil
	}
	switch x := v.(type) {
	case time.Time:
		t := x.UTC()
		return &t
	case string:
		if strings.TrimSpace(x) == "" {
			return nil
		}
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(x)); err == nil {
			t = t.UTC()
			return &t
		}
	}
	r.note(key, "ignored unparseable timestamp %v", v)
	return nil
}

// objects returns nested key/value groups, e.g. schema columns.
func (r *reader) objects(keys ...string) []map[string]any {
	key, v, ok := r.lookup(keys...)
	if !ok {
		return nil
	}
	items, isList := v.([]any)
	if !isList {
		if m, isMap := v.(map[string]any); isMap {
			r.note(key, "wrapped single object in list")
			return []map[string]any{m}
		}
		r.note(key, "ignored %T value", v)
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for i, item := range items {
		m, isMap := item.(map[string]any)
		if !isMap {
			r.note(fmt.Sprintf("%s[%d]", key, i), "dropped %T element", item)
			continue
		}
		out = append(out, m)
	}
	return out
}

func (r *reader) object(keys ...string) (map[string]any, string, bool) {
	key, v, ok := r.lookup(keys...)
	if !ok {
		return nil, key, false
	}
	if m, isMap := v.(map[string]any); isMap {
		return m, key, true
	}
	return nil, key, false
}
