// Package resource wraps native GPU handles in single-owner values.
//
// Every product of a builder owns exactly one handle. Products must not be
// copied (go vet reports copies through the embedded noCopy marker); borrow
// the native handle with Handle, hand ownership elsewhere with Release, and
// free it with Destroy, which is safe to call more than once.
package resource

import "github.com/cockroachdb/errors"

// ErrInvalidBuilder marks a builder whose fields cannot produce a resource.
var ErrInvalidBuilder = errors.New("invalid builder")

func invalid(builder, field, format string, args ...any) error {
	return errors.Wrapf(errors.Wrapf(ErrInvalidBuilder, format, args...), "%s.%s", builder, field)
}

// noCopy is embedded into owning types so that go vet's copylocks check
// flags accidental copies.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
