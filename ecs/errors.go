package ecs

import "errors"

var (
	// ErrNameTaken is surfaced when a type whose name collides with an
	// already registered, different type is registered.
	ErrNameTaken = errors.New("type name already registered for a different type")
	// ErrDifferingLayout is surfaced when a re-registration offers a
	// type whose memory layout differs from the registered one.
	ErrDifferingLayout = errors.New("replacement type has a differing layout")
	// ErrNotRegistered is surfaced when a re-registration names a type
	// that was never registered.
	ErrNotRegistered = errors.New("type is not registered")
)

var (
	errCrossJoin = errors.New("cross joins are not supported; every variable must be reachable over a relation edge")

	errNotRelBothInvar = errors.New("a negated relation between two bound-in variables is not implemented")
)
