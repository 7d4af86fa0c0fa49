// Package session tracks operator relay sessions: who is typing a password and who is unlocked.
package session

import (
	"context"
	"errors"
)

// State of an operator session
type State string

const (
	// None means the user never asked to log in, or logged out
	None             State = ""
	AwaitingPassword State = "awaiting_password"
	Authenticated    State = "authenticated"
)

// ErrUnknownState is returned when a backend holds a value that is not a known State
var ErrUnknownState = errors.New("unknown session state")

// Store defines the interface for operator session storage
type Store interface {
	Get(ctx context.Context, userID int64) (State, error)
	Set(ctx context.Context, userID int64, state State) error
	Clear(ctx context.Context, userID int64) error
	Close() error
}

func parseState(raw string) (State, error) {
	switch s := State(raw); s {
	case None, AwaitingPassword, Authenticated:
		return s, nil
	}
	return None, ErrUnknownState
}
