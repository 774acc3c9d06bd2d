package userdir

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tendant/simple-mfa/pkg/mfa"
)

const profilesFile = "profiles.json"

// FileStore implements ProfileStore on a JSON file in dataDir. Meant for
// development and small single-instance deployments.
type FileStore struct {
	dataDir  string
	profiles map[string]Profile
	mutex    sync.RWMutex
}

// fileProfile is the on-disk form; unlike Profile it keeps the secrets.
type fileProfile struct {
	SubjectID       string          `json:"subject_id"`
	PasswordHash    string          `json:"password_hash,omitempty"`
	TOTPSecret      string          `json:"totp_secret,omitempty"`
	Email           string          `json:"email,omitempty"`
	Phone           string          `json:"phone,omitempty"`
	Wallets         []string        `json:"wallets,omitempty"`
	OAuthIdentities []OAuthIdentity `json:"oauth_identities,omitempty"`
	Methods         []mfa.MethodID  `json:"methods,omitempty"`
}

func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	s := &FileStore{
		dataDir:  dataDir,
		profiles: make(map[string]Profile),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}
	return s, nil
}

func (s *FileStore) GetProfile(ctx context.Context, subjectID string) (Profile, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	p, ok := s.profiles[subjectID]
	if !ok {
		return Profile{}, mfa.ErrNotFound
	}
	return clone(p), nil
}

func (s *FileStore) SaveProfile(ctx context.Context, p Profile) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	prev, existed := s.profiles[p.SubjectID]
	s.profiles[p.SubjectID] = clone(p)
	if err := s.save(); err != nil {
		if existed {
			s.profiles[p.SubjectID] = prev
		} else {
			delete(s.profiles, p.SubjectID)
		}
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(filepath.Join(s.dataDir, profilesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var stored []fileProfile
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	for _, fp := range stored {
		s.profiles[fp.SubjectID] = Profile(fp)
	}
	return nil
}

func (s *FileStore) save() error {
	stored := make([]fileProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		stored = append(stored, fileProfile(p))
	}

	jsonData, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := filepath.Join(s.dataDir, profilesFile+".tmp")
	if err := os.WriteFile(tempFile, jsonData, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, filepath.Join(s.dataDir, profilesFile)); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
