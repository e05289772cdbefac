package store

import (
	"encoding/json"

	"github.com/iancoleman/strcase"
)

// Snake rewrites every object key in v to snake_case, descending into nested
// objects and lists. v is a decoded JSON tree.
func Snake(v any) any {
	return renameKeys(v, strcase.ToSnake)
}

// Camel rewrites every object key in v to lowerCamelCase.
func Camel(v any) any {
	return renameKeys(v, strcase.ToLowerCamel)
}

func renameKeys(v any, rename func(string) string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[rename(k)] = renameKeys(val, rename)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = renameKeys(val, rename)
		}
		return out
	default:
		return v
	}
}

// toTree turns a typed value into its generic JSON tree.
func toTree(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// fromTree decodes a generic JSON tree into out.
func fromTree(tree any, out any) error {
	raw, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
