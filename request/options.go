package request

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// Options are per-call parameters rendered into the query string. An empty
// map is equivalent to nil.
type Options map[string]any

// Clone returns a shallow copy; nil stays nil.
func (o Options) Clone() Options {
	if o == nil {
		return nil
	}
	return maps.Clone(o)
}

// Merge returns a copy of o overlaid with other.
func (o Options) Merge(other Options) Options {
	if len(o) == 0 {
		return other.Clone()
	}
	out := o.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// without returns o minus the named keys.
func (o Options) without(keys ...string) Options {
	if len(o) == 0 {
		return nil
	}
	out := make(Options, len(o))
	for k, v := range o {
		if slices.Contains(keys, k) {
			continue
		}
		out[k] = v
	}
	return out
}

func (o Options) encode(op string) (url.Values, error) {
	if len(o) == 0 {
		return nil, nil
	}
	values := make(url.Values, len(o))
	for key, v := range o {
		if strings.TrimSpace(key) == "" {
			return nil, invalid(op, "options", "empty option name")
		}
		s, ok := formatOption(v)
		if !ok {
			return nil, invalid(op, "option "+key, fmt.Sprintf("unsupported value type %T", v))
		}
		values.Set(key, s)
	}
	return values, nil
}

func formatOption(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int8:
		return strconv.FormatInt(int64(x), 10), true
	case int16:
		return strconv.FormatInt(int64(x), 10), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint:
		return strconv.FormatUint(uint64(x), 10), true
	case uint8:
		return strconv.FormatUint(uint64(x), 10), true
	case uint16:
		return strconv.FormatUint(uint64(x), 10), true
	case uint32:
		return strconv.FormatUint(uint64(x), 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case json.Number:
		return x.String(), true
	case []string:
		return strings.Join(x, ","), true
	case fmt.Stringer:
		return x.String(), true
	default:
		return "", false
	}
}

// stringOption extracts a string-valued option, reporting whether it was set.
func (o Options) stringOption(op, key string) (string, bool, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return "", false, nil
	}
	s, isString := v.(string)
	if !isString {
		return "", false, invalid(op, "option "+key, fmt.Sprintf("expected string, got %T", v))
	}
	return s, s != "", nil
}
