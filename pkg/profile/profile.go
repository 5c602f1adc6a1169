// Package profile manages browser profiles: the persistent, named profile
// directories a browser can be bound to, and the disposable ephemeral ones
// created for a single session.
package profile

import "fmt"

// Kind distinguishes the two profile variants.
type Kind string

const (
	// KindEphemeral profiles are single-use and exclusive to one session
	KindEphemeral Kind = "ephemeral"

	// KindNamed profiles persist across sessions, one live session at a time
	KindNamed Kind = "named"
)

// Profile is a browser profile selection: either an ephemeral directory
// created for one session, or a named directory managed by the Store.
type Profile struct {
	// Kind is the variant tag; every locking and cleanup site switches on it
	Kind Kind

	// Name is the store identifier; empty for ephemeral profiles
	Name string

	// Dir is the backing storage location. Empty for an ephemeral profile
	// that has not been materialized yet by the session manager.
	Dir string
}

// Ephemeral returns a disposable profile. The session manager materializes
// the backing directory at launch time.
func Ephemeral() Profile {
	return Profile{Kind: KindEphemeral}
}

// Named returns a persistent profile selection for the given identifier.
func Named(name, dir string) Profile {
	return Profile{Kind: KindNamed, Name: name, Dir: dir}
}

// String describes the profile for logs and error messages.
func (p Profile) String() string {
	switch p.Kind {
	case KindNamed:
		return fmt.Sprintf("named profile %q", p.Name)
	case KindEphemeral:
		return "ephemeral profile"
	default:
		return fmt.Sprintf("unknown profile kind %q", p.Kind)
	}
}
