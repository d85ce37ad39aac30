package auth

import (
	"sync"

	"github.com/sugreev38/v0-hospital-emr-software/pkg/events"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/types"
)

// Session holds the signed-in user of a single-user client and notifies
// listeners when it changes.
type Session struct {
	mu        sync.RWMutex
	user      *types.User
	token     string
	listeners events.Registry[*types.User]
}

// NewSession creates a signed-out session
func NewSession() *Session {
	return &Session{}
}

// SignIn sets the current user and token
func (s *Session) SignIn(user *types.User, token string) {
	s.mu.Lock()
	s.user = user
	s.token = token
	s.mu.Unlock()

	s.listeners.Publish(user)
}

// SignOut clears the current user
func (s *Session) SignOut() {
	s.mu.Lock()
	s.user = nil
	s.token = ""
	s.mu.Unlock()

	s.listeners.Publish(nil)
}

// CurrentUser returns the signed-in user, or nil
func (s *Session) CurrentUser() *types.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Token returns the bearer token of the signed-in user
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Principal returns an Oracle for the current user
func (s *Session) Principal() Principal {
	return NewPrincipal(s.CurrentUser())
}

// IsAuthenticated implements Oracle
func (s *Session) IsAuthenticated() bool { return s.Principal().IsAuthenticated() }

// HasPermission implements Oracle
func (s *Session) HasPermission(permission string) bool {
	return s.Principal().HasPermission(permission)
}

// HasRole implements Oracle
func (s *Session) HasRole(roles ...types.UserRole) bool { return s.Principal().HasRole(roles...) }

// Subscribe registers fn for sign-in and sign-out events
func (s *Session) Subscribe(fn func(user *types.User)) (unsubscribe func()) {
	return s.listeners.Subscribe(fn)
}
