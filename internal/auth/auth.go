package auth

import (
	"fmt"
)

// Sides of a sync run
const (
	SideOrigin      = "origin"
	SideDestination = "destination"
)

// Session holds the credential material for one side of a run. Sessions are
// created at run start and never persisted.
type Session struct {
	Side         string
	CookieHeader string
	CSRFToken    string
	UserAgent    string
}

// Error indicates credentials could not be established or were rejected.
// It aborts the phases that depend on the affected side.
type Error struct {
	Side string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("auth %s: %v", e.Side, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
