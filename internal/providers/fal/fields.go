package fal

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"echoes/internal/queue"
)

type fieldType int

const (
	textField fieldType = iota
	numberField
	integerField
	boolField
)

func (t fieldType) String() string {
	switch t {
	case numberField:
		return "a number"
	case integerField:
		return "an integer"
	case boolField:
		return "a boolean"
	default:
		return "a string"
	}
}

// field describes one wire field of a model's input payload.
type field struct {
	name     string
	aliases  []string
	kind     fieldType
	required bool
	// def is applied when the field is absent.
	def      any
	enum     []string
	min, max *float64
}

// schema is the ordered input contract of one model.
type schema []field

func bound(v float64) *float64 { return &v }

// canonical maps aliased keys onto wire names without validating values.
// Unknown keys are rejected.
func (s schema) canonical(input map[string]any) (map[string]any, error) {
	lookup := make(map[string]string, len(s)*2)
	for _, f := range s {
		lookup[f.name] = f.name
		for _, a := range f.aliases {
			lookup[a] = f.name
		}
	}
	out := make(map[string]any, len(input))
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name, ok := lookup[k]
		if !ok {
			return nil, queue.InvalidInput("unknown field %q", k)
		}
		if _, dup := out[name]; dup {
			return nil, queue.InvalidInput("field %q given more than once", name)
		}
		out[name] = input[k]
	}
	return out, nil
}

// build validates input against the schema and returns the wire payload.
// Absent optional fields are omitted unless they carry a default.
func (s schema) build(input map[string]any) (map[string]any, error) {
	values, err := s.canonical(input)
	if err != nil {
		return nil, err
	}
	payload := make(map[string]any, len(s))
	for _, f := range s {
		raw, present := values[f.name]
		if present && isBlank(raw) {
			present = false
		}
		if !present {
			switch {
			case f.required:
				return nil, queue.InvalidInput("%s is required", f.name)
			case f.def != nil:
				payload[f.name] = f.def
			}
			continue
		}
		v, err := f.coerce(raw)
		if err != nil {
			return nil, err
		}
		payload[f.name] = v
	}
	return payload, nil
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func (f field) coerce(raw any) (any, error) {
	switch f.kind {
	case textField:
		var s string
		switch v := raw.(type) {
		case string:
			s = strings.TrimSpace(v)
		case float64:
			s = strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			s = strconv.Itoa(v)
		default:
			return nil, queue.InvalidInput("%s must be %s", f.name, f.kind)
		}
		if len(f.enum) > 0 && !contains(f.enum, s) {
			return nil, queue.InvalidInput("%s must be one of %s", f.name, strings.Join(f.enum, ", "))
		}
		return s, nil
	case numberField, integerField:
		n, ok := toFloat(raw)
		if !ok {
			return nil, queue.InvalidInput("%s must be %s", f.name, f.kind)
		}
		if f.min != nil && n < *f.min {
			return nil, queue.InvalidInput("%s must be at least %v", f.name, *f.min)
		}
		if f.max != nil && n > *f.max {
			return nil, queue.InvalidInput("%s must be at most %v", f.name, *f.max)
		}
		if f.kind == integerField {
			if n != math.Trunc(n) {
				return nil, queue.InvalidInput("%s must be %s", f.name, f.kind)
			}
			if n < math.MinInt64 || n >= math.MaxInt64 {
				return nil, queue.InvalidInput("%s is out of range", f.name)
			}
			return int64(n), nil
		}
		return n, nil
	case boolField:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, queue.InvalidInput("%s must be %s", f.name, f.kind)
			}
			return b, nil
		}
		return nil, queue.InvalidInput("%s must be %s", f.name, f.kind)
	}
	return nil, fmt.Errorf("fal: field %s has no type", f.name)
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
