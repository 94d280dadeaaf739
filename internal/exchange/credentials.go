package exchange

import (
	"context"
	"sync"
)

// StaticCredentials serves credentials loaded from configuration.
type StaticCredentials struct {
	mu    sync.RWMutex
	users map[string]Credentials
}

// NewStaticCredentials indexes creds by user id.
func NewStaticCredentials(creds []Credentials) *StaticCredentials {
	s := &StaticCredentials{users: make(map[string]Credentials, len(creds))}
	for _, c := range creds {
		s.users[c.UserID] = c
	}
	return s
}

// Put adds or replaces the credentials of a user.
func (s *StaticCredentials) Put(c Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[c.UserID] = c
}

// GetCredentials implements CredentialProvider.
func (s *StaticCredentials) GetCredentials(_ context.Context, userID string) (Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.users[userID]
	if !ok {
		return Credentials{}, NewError(ErrCredentialsMissing, "credentials", userID, nil)
	}
	return c, nil
}
