package jmap

import "fmt"

// AuthError means the credential was rejected or the session expired. It is
// always surfaced to the user and forces re-authentication; callers must not
// retry it silently.
type AuthError struct {
	Status int
	Msg    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Msg)
}

// TransportError means the network was unreachable or the server answered
// with a non-2xx status. Transient; foreground callers surface it, background
// callers swallow it.
type TransportError struct {
	Status int
	Msg    string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("network error: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("network error: %s", e.Msg)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError means the response did not have the shape the protocol
// promises. It propagates like a transport failure but indicates a contract
// mismatch, so it is logged distinctly.
type ProtocolError struct {
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("protocol error: %s", e.Msg)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
