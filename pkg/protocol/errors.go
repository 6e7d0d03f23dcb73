package protocol

import "fmt"

// AuthenticationError reports that the server rejected the credential.
// It is fatal to the session and must trigger a sign-out.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	if e.Message == "" {
		return "authentication rejected"
	}
	return "authentication rejected: " + e.Message
}

// TransportError reports a connection-level failure other than an
// authentication rejection. The caller may retry by reconnecting.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// FileReadError reports a local I/O failure while reading a file for
// upload. It aborts that upload only; nothing is dispatched.
type FileReadError struct {
	Path string
	Err  error
}

func (e *FileReadError) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *FileReadError) Unwrap() error {
	return e.Err
}

// ServerReportedError is an opaque error string surfaced by the server.
// It does not alter local state.
type ServerReportedError struct {
	Message string
}

func (e *ServerReportedError) Error() string {
	return "server reported error: " + e.Message
}
