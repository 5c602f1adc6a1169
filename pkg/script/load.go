// Package script loads automation script documents, substitutes parameter
// bindings into their command templates, and validates commands against the
// allowed protocol surface before execution.
package script

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marionet/marionet/pkg/types"
)

// document is the YAML shape of a stored script. Storage hands the engine
// already-decrypted documents; persistence and encryption live elsewhere.
type document struct {
	Name     string            `yaml:"name"`
	Profile  string            `yaml:"profile"`
	Params   []types.ParamDecl `yaml:"params"`
	Commands []commandDoc      `yaml:"commands"`
}

type commandDoc struct {
	Method     string                 `yaml:"method"`
	Params     map[string]interface{} `yaml:"params"`
	TimeoutMS  int                    `yaml:"timeout_ms"`
	BestEffort bool                   `yaml:"best_effort"`
}

// Load parses a script document into a ScriptDefinition, preserving command
// order. It rejects structurally unusable documents (no commands, a command
// without a method, an unknown parameter type); semantic checks against the
// allowed-method set belong to the Validator.
func Load(data []byte) (*types.ScriptDefinition, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, types.WrapError(types.KindValidation, err, "failed to parse script document")
	}

	if len(doc.Commands) == 0 {
		return nil, types.NewError(types.KindValidation, "script %q declares no commands", doc.Name)
	}

	def := &types.ScriptDefinition{
		Name:    doc.Name,
		Profile: doc.Profile,
		Params:  doc.Params,
	}

	for i, p := range doc.Params {
		if p.Name == "" {
			return nil, types.NewError(types.KindValidation, "parameter %d has no name", i)
		}
		if !validParamType(p.Type) {
			return nil, types.NewError(types.KindValidation,
				"parameter %q has unknown type %q", p.Name, p.Type)
		}
	}

	for i, c := range doc.Commands {
		if c.Method == "" {
			return nil, types.NewError(types.KindValidation, "command %d has no method", i)
		}
		cmd := types.Command{
			Method:     c.Method,
			Params:     c.Params,
			BestEffort: c.BestEffort,
		}
		if c.TimeoutMS > 0 {
			cmd.Timeout = time.Duration(c.TimeoutMS) * time.Millisecond
		}
		def.Commands = append(def.Commands, cmd)
	}

	return def, nil
}

func validParamType(t types.ParamType) bool {
	switch t {
	case types.ParamString, types.ParamNumber, types.ParamBoolean,
		types.ParamObject, types.ParamArray, types.ParamAny, "":
		return true
	}
	return false
}
