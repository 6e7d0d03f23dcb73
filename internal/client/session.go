// Package client implements the realtime chat synchronization engine:
// connection lifecycle, room directory, the per-room message store,
// typing signals, and file transfer. All network traffic flows through
// a single Conn owned by the engine.
package client

import (
	"sync"

	"github.com/soracho/chatsync/pkg/protocol"
)

// Session holds the bearer credential and local user identity for one
// authenticated session. It is constructed explicitly and passed into the
// engine; there is no ambient singleton, so tests can run independent
// sessions side by side.
//
// The credential is bound to the connection at handshake time. A token
// refresh therefore requires a new Session and a full reconnect.
type Session struct {
	mu        sync.Mutex
	token     string
	user      protocol.Sender
	signedOut bool
	onSignOut func()
}

// NewSession creates a session for the given credential and user.
// onSignOut fires at most once, when the server rejects the credential
// or SignOut is called; it may be nil.
func NewSession(token string, user protocol.Sender, onSignOut func()) *Session {
	return &Session{token: token, user: user, onSignOut: onSignOut}
}

// Token returns the bearer credential, or the empty string after sign-out.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// User returns the local user identity.
func (s *Session) User() protocol.Sender {
	return s.user
}

// SignedOut reports whether the session has been invalidated.
func (s *Session) SignedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signedOut
}

// SignOut invalidates the credential and fires the sign-out hook.
// Safe to call more than once; the hook fires only the first time.
func (s *Session) SignOut() {
	s.mu.Lock()
	if s.signedOut {
		s.mu.Unlock()
		return
	}
	s.signedOut = true
	s.token = ""
	hook := s.onSignOut
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
}
