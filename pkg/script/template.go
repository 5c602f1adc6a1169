package script

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/marionet/marionet/pkg/types"
)

// tokenPattern matches {{name}} placeholders inside command parameters.
var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_-]+)\s*\}\}`)

// Substitute materializes the script's commands by replacing every
// {{name}} token with its bound value. A parameter value is taken from the
// bindings first, then from the declaration's default. A required parameter
// with neither fails with ErrMissingBinding. Unreferenced bindings are
// ignored.
//
// Substitution is purely structural: a parameter value that is exactly a
// single token keeps the bound value's type, a token embedded in a larger
// string is replaced by its textual form, and bound values are never
// evaluated.
func Substitute(def *types.ScriptDefinition, bindings []types.Binding) ([]types.Command, error) {
	values := make(map[string]interface{}, len(def.Params))
	for _, b := range bindings {
		values[b.Name] = b.Value
	}

	for _, decl := range def.Params {
		if _, bound := values[decl.Name]; bound {
			continue
		}
		if decl.Default != nil {
			values[decl.Name] = decl.Default
			continue
		}
		if decl.Required {
			return nil, types.WrapError(types.KindValidation, types.ErrMissingBinding,
				"parameter %q", decl.Name)
		}
	}

	commands := make([]types.Command, 0, len(def.Commands))
	for _, cmd := range def.Commands {
		concrete := types.Command{
			Method:     cmd.Method,
			Timeout:    cmd.Timeout,
			BestEffort: cmd.BestEffort,
		}
		if cmd.Params != nil {
			concrete.Params = substituteMap(cmd.Params, values)
		}
		commands = append(commands, concrete)
	}
	return commands, nil
}

func substituteMap(params map[string]interface{}, values map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for key, val := range params {
		out[key] = substituteValue(val, values)
	}
	return out
}

func substituteValue(val interface{}, values map[string]interface{}) interface{} {
	switch v := val.(type) {
	case string:
		return substituteString(v, values)
	case map[string]interface{}:
		return substituteMap(v, values)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = substituteValue(item, values)
		}
		return out
	default:
		return val
	}
}

func substituteString(s string, values map[string]interface{}) interface{} {
	// A value that is exactly one token is replaced structurally so the
	// bound value keeps its type.
	if match := tokenPattern.FindStringSubmatch(s); match != nil && match[0] == s {
		if bound, ok := values[match[1]]; ok {
			return bound
		}
		return s
	}

	return tokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		name := tokenPattern.FindStringSubmatch(token)[1]
		bound, ok := values[name]
		if !ok {
			return token
		}
		return renderValue(bound)
	})
}

// renderValue produces the textual form of a bound value for embedding
// inside a larger string.
func renderValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		// Objects and arrays embed as their JSON form
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}

// ReferencedParams returns the set of parameter names referenced by
// {{name}} tokens anywhere in the command's parameters.
func ReferencedParams(cmd types.Command) map[string]struct{} {
	refs := make(map[string]struct{})
	collectRefs(cmd.Params, refs)
	return refs
}

func collectRefs(val interface{}, refs map[string]struct{}) {
	switch v := val.(type) {
	case string:
		for _, match := range tokenPattern.FindAllStringSubmatch(v, -1) {
			refs[match[1]] = struct{}{}
		}
	case map[string]interface{}:
		for _, item := range v {
			collectRefs(item, refs)
		}
	case []interface{}:
		for _, item := range v {
			collectRefs(item, refs)
		}
	}
}
