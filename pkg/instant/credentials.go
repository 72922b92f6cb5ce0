package instant

import "sync"

// CredentialStorage keeps credentials per protection space for one client.
type CredentialStorage struct {
	mu          sync.RWMutex
	credentials map[ProtectionSpace]*Credential
}

// NewCredentialStorage returns an empty storage.
func NewCredentialStorage() *CredentialStorage {
	return &CredentialStorage{
		credentials: make(map[ProtectionSpace]*Credential),
	}
}

// Credential returns the credential stored for space, or nil.
func (s *CredentialStorage) Credential(space ProtectionSpace) *Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.credentials[space]; ok {
		cp := *c
		return &cp
	}
	return nil
}

// Store saves cred for space unless its persistence is PersistenceNone.
func (s *CredentialStorage) Store(space ProtectionSpace, cred *Credential) {
	if cred == nil || cred.Persistence == PersistenceNone {
		return
	}
	cp := *cred
	s.mu.Lock()
	s.credentials[space] = &cp
	s.mu.Unlock()
}

// Remove forgets the credential stored for space.
func (s *CredentialStorage) Remove(space ProtectionSpace) {
	s.mu.Lock()
	delete(s.credentials, space)
	s.mu.Unlock()
}
