package workflow

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"github.com/gencockpit/api/internal/model"
)

const seedParam = "seed"

// Patch returns a copy of template with params written into the fields the
// manifest names. template is never modified. Missing values fall back to
// the manifest default; a seed of -1 is replaced by a random seed.
func Patch(template map[string]any, manifest *Manifest, params map[string]any) (map[string]any, error) {
	result := deepCopy(template).(map[string]any)

	values, err := prepareParams(manifest.Params, params)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := manifest.Params[name]
		if err := applyField(result, def.Patch, values[name], name); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// prepareParams validates params against defs and fills in defaults
func prepareParams(defs map[string]ParamDef, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(defs))

	for name, def := range defs {
		value, ok := params[name]
		if !ok || value == nil {
			if def.Required {
				return nil, &model.PatchError{Message: fmt.Sprintf("Missing required parameter: %s", name)}
			}
			if def.Default == nil {
				continue
			}
			value = def.Default
		}

		if name == seedParam {
			if f, ok := toFloat(value); ok && f == -1 {
				value = rand.Int63n(math.MaxInt32)
			}
		}

		coerced, err := coerce(name, value, def.Type)
		if err != nil {
			return nil, err
		}
		if err := checkRange(name, coerced, def); err != nil {
			return nil, err
		}
		if err := checkChoices(name, coerced, def); err != nil {
			return nil, err
		}
		out[name] = coerced
	}
	return out, nil
}

func coerce(name string, value any, typ ParamType) (any, error) {
	fail := func(err error) error {
		return &model.PatchError{Param: name, Message: fmt.Sprintf("type coercion failed: %v", err)}
	}

	switch typ {
	case ParamTypeInteger:
		switch v := value.(type) {
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, fail(err)
			}
			return n, nil
		case bool:
			if v {
				return int64(1), nil
			}
			return int64(0), nil
		}
		f, ok := toFloat(value)
		if !ok {
			return nil, fail(fmt.Errorf("cannot convert %T to integer", value))
		}
		return int64(f), nil

	case ParamTypeNumber:
		switch v := value.(type) {
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fail(err)
			}
			return f, nil
		case bool:
			if v {
				return 1.0, nil
			}
			return 0.0, nil
		}
		f, ok := toFloat(value)
		if !ok {
			return nil, fail(fmt.Errorf("cannot convert %T to number", value))
		}
		return f, nil

	case ParamTypeBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			s := strings.ToLower(v)
			return s == "true" || s == "1" || s == "yes", nil
		}
		if f, ok := toFloat(value); ok {
			return f != 0, nil
		}
		return value != nil, nil

	case ParamTypeString, ParamTypeImage:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprint(value), nil
	}
	return value, nil
}

func checkRange(name string, value any, def ParamDef) error {
	f, ok := toFloat(value)
	if !ok {
		return nil
	}
	if def.Min != nil && f < *def.Min {
		return &model.PatchError{Param: name, Message: fmt.Sprintf("value %v is below minimum %v", value, *def.Min)}
	}
	if def.Max != nil && f > *def.Max {
		return &model.PatchError{Param: name, Message: fmt.Sprintf("value %v is above maximum %v", value, *def.Max)}
	}
	return nil
}

func checkChoices(name string, value any, def ParamDef) error {
	if def.Choices == nil {
		return nil
	}
	for _, choice := range def.Choices {
		if sameValue(value, choice) {
			return nil
		}
	}
	return &model.PatchError{Param: name, Message: fmt.Sprintf("value '%v' not in allowed choices: %v", value, def.Choices)}
}

// sameValue compares numbers numerically and everything else by its text form
func sameValue(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	if aNum != bNum {
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func applyField(graph map[string]any, patch ParamPatch, value any, name string) error {
	node, ok := graph[patch.NodeID].(map[string]any)
	if !ok {
		return &model.PatchError{Param: name, Message: fmt.Sprintf("node_id '%s' not found in template", patch.NodeID)}
	}

	parts := strings.Split(patch.Field, ".")
	target := node
	for i, part := range parts[:len(parts)-1] {
		next, exists := target[part]
		if !exists {
			return &model.PatchError{Param: name, Message: fmt.Sprintf("field '%s' not found in node '%s'", part, patch.NodeID)}
		}
		obj, ok := next.(map[string]any)
		if !ok {
			return &model.PatchError{Param: name, Message: fmt.Sprintf("path '%s' is not an object in node '%s'", strings.Join(parts[:i+1], "."), patch.NodeID)}
		}
		target = obj
	}

	// the final field may be new
	target[parts[len(parts)-1]] = value
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
