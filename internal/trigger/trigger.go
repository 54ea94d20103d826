// Package trigger models the external event that starts a run. The trigger
// context is the sole input to condition evaluation.
package trigger

import "fmt"

// Kind identifies the category of event that triggered a run.
type Kind string

const (
	// Push is a branch push.
	Push Kind = "push"
	// Tag is a version-control tag event.
	Tag Kind = "tag"
	// Manual is an operator-initiated run.
	Manual Kind = "manual"
)

// Context describes the event a run was triggered by.
type Context struct {
	Kind Kind
	// Ref is the branch or tag name the event refers to.
	Ref string
	// Tag is the tag string for Tag events, empty otherwise.
	Tag string
	// DefaultBranch is true when Ref is the repository's default branch.
	DefaultBranch bool
}

// New builds a Context from an event kind and ref, validating the
// combination. defaultBranch is the repository's configured default branch.
func New(kind Kind, ref string, defaultBranch string) (Context, error) {
	tc := Context{Kind: kind, Ref: ref}
	switch kind {
	case Push, Manual:
		tc.DefaultBranch = ref == defaultBranch
	case Tag:
		if ref == "" {
			return Context{}, fmt.Errorf("tag trigger requires a ref")
		}
		tc.Tag = ref
	default:
		return Context{}, fmt.Errorf("unknown trigger kind %q", kind)
	}
	return tc, nil
}

func (c Context) String() string {
	if c.Kind == Tag {
		return fmt.Sprintf("tag %s", c.Tag)
	}
	return fmt.Sprintf("%s %s", c.Kind, c.Ref)
}
