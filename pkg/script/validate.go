package script

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/marionet/marionet/pkg/types"
)

// ViolationCode identifies the class of a validation finding.
type ViolationCode string

const (
	ViolationMethodNotAllowed    ViolationCode = "method_not_allowed"
	ViolationUndeclaredParameter ViolationCode = "undeclared_parameter"
	ViolationTypeMismatch        ViolationCode = "type_mismatch"
)

// Violation is one validation finding. Command is the index of the
// offending command, or -1 for script-level findings.
type Violation struct {
	Command int
	Code    ViolationCode
	Message string
}

func (v Violation) String() string {
	if v.Command >= 0 {
		return fmt.Sprintf("command %d: %s: %s", v.Command, v.Code, v.Message)
	}
	return fmt.Sprintf("%s: %s", v.Code, v.Message)
}

// Report is the structured result of validating a script. Validation never
// aborts on malformed input; it always reports what it found.
type Report struct {
	Violations []Violation
}

// OK reports whether the script passed validation.
func (r Report) OK() bool {
	return len(r.Violations) == 0
}

// Error converts a failed report into a typed validation error, or nil for
// a passing one.
func (r Report) Error() error {
	if r.OK() {
		return nil
	}
	return types.NewError(types.KindValidation,
		"script failed validation with %d violation(s), first: %s", len(r.Violations), r.Violations[0])
}

// Validator checks scripts against the allowed protocol-method surface.
type Validator struct {
	allowed []glob.Glob
}

// NewValidator compiles the allowed-method patterns, e.g. "Page.*" or
// "Runtime.evaluate". Separator-aware matching keeps "Page.*" from
// matching nested domains.
func NewValidator(patterns []string) (*Validator, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, fmt.Errorf("invalid allowed-method pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, g)
	}
	return &Validator{allowed: compiled}, nil
}

// MethodAllowed reports whether a protocol method is within the allowed set.
func (v *Validator) MethodAllowed(method string) bool {
	for _, g := range v.allowed {
		if g.Match(method) {
			return true
		}
	}
	return false
}

// Validate checks a script and its bindings, returning a structured report.
// Checks: every command method is within the allowed set, every {{token}}
// referenced by a command corresponds to a declared parameter, and every
// binding matches its declared type.
func (v *Validator) Validate(def *types.ScriptDefinition, bindings []types.Binding) Report {
	var report Report

	declared := make(map[string]types.ParamDecl, len(def.Params))
	for _, p := range def.Params {
		declared[p.Name] = p
	}

	for i, cmd := range def.Commands {
		if !v.MethodAllowed(cmd.Method) {
			report.Violations = append(report.Violations, Violation{
				Command: i,
				Code:    ViolationMethodNotAllowed,
				Message: fmt.Sprintf("method %q is not in the allowed command set", cmd.Method),
			})
		}

		for name := range ReferencedParams(cmd) {
			if _, ok := declared[name]; !ok {
				report.Violations = append(report.Violations, Violation{
					Command: i,
					Code:    ViolationUndeclaredParameter,
					Message: fmt.Sprintf("placeholder {{%s}} does not match any declared parameter", name),
				})
			}
		}
	}

	for _, b := range bindings {
		decl, ok := declared[b.Name]
		if !ok {
			// Bindings for undeclared names are ignored, same as at
			// substitution time.
			continue
		}
		if !typeMatches(decl.Type, b.Value) {
			report.Violations = append(report.Violations, Violation{
				Command: -1,
				Code:    ViolationTypeMismatch,
				Message: fmt.Sprintf("binding %q is not a valid %s: %v", b.Name, decl.Type, b.Value),
			})
		}
	}

	return report
}

func typeMatches(t types.ParamType, value interface{}) bool {
	if value == nil {
		return false
	}
	switch t {
	case types.ParamString:
		_, ok := value.(string)
		return ok
	case types.ParamNumber:
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case types.ParamBoolean:
		_, ok := value.(bool)
		return ok
	case types.ParamObject:
		_, ok := value.(map[string]interface{})
		return ok
	case types.ParamArray:
		_, ok := value.([]interface{})
		return ok
	case types.ParamAny, "":
		return true
	default:
		return false
	}
}
