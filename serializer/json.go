package serializer

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"regexp"
	"time"

	"github.com/relaybus/relaybus/contracts"
)

const (
	typeBigInt = "bigint"
	typeDate   = "date"
)

var isoPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?Z?$`)

// JSONOptions toggles the special __type encodings this codec understands.
type JSONOptions struct {
	// ReviveDates, when true, also revives plain strings matching the
	// ISO-8601 pattern into time.Time on decode, in addition to the
	// explicit {"__type":"date",...} form.
	ReviveDates bool
}

// JSON is the mandatory codec every adapter falls back to. It round-trips
// nested objects, arrays, *big.Int and time.Time using __type tags to mark
// values a plain json.Marshal would otherwise flatten to a string or lose
// precision on.
type JSON struct {
	opts JSONOptions
}

// NewJSON constructs the codec with the given options.
func NewJSON(opts JSONOptions) *JSON {
	return &JSON{opts: opts}
}

func (j *JSON) Format() string { return "json" }

func (j *JSON) Serialize(v any) ([]byte, error) {
	tree, err := encodeValue(v, make(map[uintptr]bool))
	if err != nil {
		return nil, contracts.NewSerializationError("serialize failed", err)
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return nil, contracts.NewSerializationError("serialize failed", err)
	}
	return data, nil
}

func (j *JSON) Deserialize(data []byte, v any) error {
	switch target := v.(type) {
	case *any:
		var tree any
		if err := json.Unmarshal(data, &tree); err != nil {
			return &unmarshalError{err}
		}
		*target = reviveValue(tree, j.opts)
		return nil
	case *map[string]any:
		var tree map[string]any
		if err := json.Unmarshal(data, &tree); err != nil {
			return &unmarshalError{err}
		}
		revived := reviveValue(tree, j.opts)
		m, _ := revived.(map[string]any)
		*target = m
		return nil
	default:
		if err := json.Unmarshal(data, v); err != nil {
			return &unmarshalError{err}
		}
		return nil
	}
}

// encodeValue walks v producing a tree of values json.Marshal can encode
// directly, substituting the __type wrapper for *big.Int and time.Time.
// visited holds the pointers of maps/slices on the current path so a cycle
// is caught here instead of recursing until the stack overflows; entries
// are removed again once a branch finishes, so a value reachable from two
// different places (a diamond, not a cycle) is still encoded twice.
func encodeValue(v any, visited map[uintptr]bool) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, float32, float64, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return t, nil
	case *big.Int:
		return map[string]any{"__type": typeBigInt, "value": t.String()}, nil
	case big.Int:
		return map[string]any{"__type": typeBigInt, "value": t.String()}, nil
	case time.Time:
		return map[string]any{"__type": typeDate, "value": t.UTC().Format(time.RFC3339Nano)}, nil
	case map[string]any:
		ptr := reflect.ValueOf(t).Pointer()
		if visited[ptr] {
			return nil, fmt.Errorf("cyclic structure detected")
		}
		visited[ptr] = true
		defer delete(visited, ptr)

		out := make(map[string]any, len(t))
		for k, val := range t {
			enc, err := encodeValue(val, visited)
			if err != nil {
				return nil, err
			}
			out[k] = enc
		}
		return out, nil
	case []any:
		if len(t) > 0 {
			ptr := reflect.ValueOf(t).Pointer()
			if visited[ptr] {
				return nil, fmt.Errorf("cyclic structure detected")
			}
			visited[ptr] = true
			defer delete(visited, ptr)
		}

		out := make([]any, len(t))
		for i, val := range t {
			enc, err := encodeValue(val, visited)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	default:
		// Fall back to the struct's own json tags: encoding/json marshals
		// the value and its output is embedded as-is, so nested
		// big.Int/time.Time fields follow standard encoding/json semantics
		// (no __type wrapper applied to struct fields, matching ordinary Go
		// struct marshaling). Structs
		// can't carry a map/slice cycle through this path: json.Marshal
		// itself recurses here, and a cyclic struct field panics there
		// before ever reaching this codec, same as stdlib json always has.
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(raw), nil
	}
}

// reviveValue walks a decoded JSON tree reversing encodeValue's __type
// wrapper, and optionally reviving bare ISO-8601 strings.
func reviveValue(v any, opts JSONOptions) any {
	switch t := v.(type) {
	case map[string]any:
		if kind, ok := t["__type"].(string); ok {
			switch kind {
			case typeBigInt:
				if s, ok := t["value"].(string); ok {
					n := new(big.Int)
					if _, ok := n.SetString(s, 10); ok {
						return n
					}
				}
			case typeDate:
				if s, ok := t["value"].(string); ok {
					if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
						return ts
					}
				}
			}
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = reviveValue(val, opts)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = reviveValue(val, opts)
		}
		return out
	case string:
		if opts.ReviveDates && isoPattern.MatchString(t) {
			if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
				return ts
			}
			if ts, err := time.Parse("2006-01-02T15:04:05", t); err == nil {
				return ts
			}
		}
		return t
	default:
		return t
	}
}

type unmarshalError struct{ cause error }

func (e *unmarshalError) Error() string { return fmt.Sprintf("deserialize: %v", e.cause) }
func (e *unmarshalError) Unwrap() error { return e.cause }
