package profile

import (
	"github.com/marionet/marionet/pkg/types"
)

// Selector carries the three optional profile preferences a run may supply.
// An empty string means "no preference at that level".
type Selector struct {
	// ScriptDeclared is the profile the script itself pins
	ScriptDeclared string

	// CallerSelected is the profile the caller asked for
	CallerSelected string

	// UserDefault is the user's configured default profile
	UserDefault string
}

// Resolve picks exactly one profile for a run by strict precedence:
// script-declared > caller-selected > user-default > ephemeral fallback.
//
// It is a pure function over the given store snapshot: any named identifier
// absent from the snapshot fails with ErrProfileNotFound, and no state is
// touched.
func Resolve(sel Selector, snapshot map[string]string) (Profile, error) {
	for _, name := range []string{sel.ScriptDeclared, sel.CallerSelected, sel.UserDefault} {
		if name == "" {
			continue
		}
		dir, ok := snapshot[name]
		if !ok {
			return Profile{}, types.WrapError(types.KindUnavailable, types.ErrProfileNotFound,
				"profile %q does not exist", name)
		}
		return Named(name, dir), nil
	}
	return Ephemeral(), nil
}
