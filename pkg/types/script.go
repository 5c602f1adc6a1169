package types

import "time"

// ParamType is the declared type of a script parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamObject  ParamType = "object"
	ParamArray   ParamType = "array"
	ParamAny     ParamType = "any"
)

// ParamDecl declares one named parameter of a script.
type ParamDecl struct {
	// Name is the placeholder name referenced as {{name}} in command params
	Name string `yaml:"name"`

	// Type constrains the bound value (string, number, boolean, object, array, any)
	Type ParamType `yaml:"type"`

	// Required parameters must be bound or carry a default
	Required bool `yaml:"required"`

	// Default is used when no binding is supplied
	Default interface{} `yaml:"default,omitempty"`
}

// Command is a single remote-debugging protocol call.
type Command struct {
	// Method is the protocol method name, e.g. "Page.navigate"
	Method string `yaml:"method"`

	// Params is the structured parameter map sent with the call
	Params map[string]interface{} `yaml:"params,omitempty"`

	// Timeout overrides the default per-command timeout when positive
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// BestEffort commands do not abort the run when they fail
	BestEffort bool `yaml:"best_effort,omitempty"`
}

// ScriptDefinition is an ordered command sequence plus its declared
// parameters. It is immutable once loaded for a run.
type ScriptDefinition struct {
	// Name identifies the script in logs and results
	Name string `yaml:"name"`

	// Profile optionally pins the script to a named browser profile
	Profile string `yaml:"profile,omitempty"`

	// Params declares the placeholders the commands may reference
	Params []ParamDecl `yaml:"params,omitempty"`

	// Commands run strictly in declared order
	Commands []Command `yaml:"commands"`
}

// Binding supplies a concrete value for one declared parameter.
type Binding struct {
	Name  string
	Value interface{}
}

// RunStatus is the overall outcome of one script execution.
type RunStatus string

const (
	RunSuccess        RunStatus = "success"
	RunPartialFailure RunStatus = "partial_failure"
	RunFailure        RunStatus = "failure"
	RunCancelled      RunStatus = "cancelled"
)

// OutcomeStatus is the per-command outcome within a run.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeSkipped   OutcomeStatus = "skipped"
)

// CommandOutcome records what happened to a single command.
type CommandOutcome struct {
	Method   string        `json:"method"`
	Status   OutcomeStatus `json:"status"`
	Output   []byte        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ExecutionResult is the structured result of one script execution.
type ExecutionResult struct {
	Status   RunStatus        `json:"status"`
	Outcomes []CommandOutcome `json:"outcomes"`
	Duration time.Duration    `json:"duration"`
}
