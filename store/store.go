package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Hussein-Mazeh/SecureVaultServer/internal/config"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/model"
	"github.com/Hussein-Mazeh/SecureVaultServer/internal/obslog"
)

const (
	usersFilename    = "users.json"
	attemptsFilename = "failed_attempts.json"
	tokensFilename   = "tokens.json"
)

// Store owns the on-disk state and serializes writes against it. One
// mutex per file, matching §5's "the token file is similarly serialized"
// resolution and the users-file write-lock guarantee.
type Store struct {
	cfg *config.Config
	log *slog.Logger

	usersMu    sync.Mutex
	attemptsMu sync.Mutex
	tokensMu   sync.Mutex
}

func New(cfg *config.Config, log *slog.Logger) *Store {
	return &Store{cfg: cfg, log: log}
}

func (s *Store) path(filename string) string {
	return filepath.Join(s.cfg.DataDir, filename)
}

// handleCorruption implements the REPLACE_CORRUPTED_FILES boot flag: on an
// integrity or decrypt failure it either resets the file to empty (logging
// a CRITICAL event) or propagates the error, per §4.2/§7.
func (s *Store) handleCorruption(filename string, err error, reset func() error) error {
	if os.IsNotExist(err) {
		return reset()
	}

	s.log.Log(context.Background(), obslog.LevelCritical, "persisted file failed integrity check",
		"file", filename, "error", err.Error())

	if !s.cfg.ReplaceCorruptedFiles {
		return err
	}
	s.log.Warn("resetting corrupted file to an empty container", "file", filename)
	return reset()
}

// LoadUsers reads and decrypts the users container.
func (s *Store) LoadUsers() ([]model.User, error) {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	var users []model.User
	err := loadContainer(s.path(usersFilename), s.cfg.SystemKey, s.cfg.IntegrityKey, &users)
	if err == nil {
		return users, nil
	}
	resetErr := s.handleCorruption(usersFilename, err, func() error {
		users = nil
		return s.saveUsersLocked(users)
	})
	if resetErr != nil {
		return nil, resetErr
	}
	return users, nil
}

// SaveUsers encrypts and atomically replaces the users container.
func (s *Store) SaveUsers(users []model.User) error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	return s.saveUsersLocked(users)
}

func (s *Store) saveUsersLocked(users []model.User) error {
	if users == nil {
		users = []model.User{}
	}
	return saveContainer(s.path(usersFilename), s.cfg.SystemKey, s.cfg.IntegrityKey, users)
}

// LoadAttempts reads and decrypts the failed-attempts container.
func (s *Store) LoadAttempts() (model.FailedAttempts, error) {
	s.attemptsMu.Lock()
	defer s.attemptsMu.Unlock()

	attempts := model.FailedAttempts{}
	err := loadContainer(s.path(attemptsFilename), s.cfg.SystemKey, s.cfg.IntegrityKey, &attempts)
	if err == nil {
		return attempts, nil
	}
	resetErr := s.handleCorruption(attemptsFilename, err, func() error {
		attempts = model.FailedAttempts{}
		return s.saveAttemptsLocked(attempts)
	})
	if resetErr != nil {
		return nil, resetErr
	}
	return attempts, nil
}

// SaveAttempts encrypts and atomically replaces the failed-attempts
// container.
func (s *Store) SaveAttempts(attempts model.FailedAttempts) error {
	s.attemptsMu.Lock()
	defer s.attemptsMu.Unlock()
	return s.saveAttemptsLocked(attempts)
}

func (s *Store) saveAttemptsLocked(attempts model.FailedAttempts) error {
	if attempts == nil {
		attempts = model.FailedAttempts{}
	}
	return saveContainer(s.path(attemptsFilename), s.cfg.SystemKey, s.cfg.IntegrityKey, attempts)
}

// MutateUsers loads the user list, passes it to fn for modification, and
// persists the result under a single lock hold, so a login/logout/
// password-change sequence for one user id observes its own prior writes.
func (s *Store) MutateUsers(fn func([]model.User) []model.User) ([]model.User, error) {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	var users []model.User
	err := loadContainer(s.path(usersFilename), s.cfg.SystemKey, s.cfg.IntegrityKey, &users)
	if err != nil {
		if resetErr := s.handleCorruption(usersFilename, err, func() error {
			users = nil
			return nil
		}); resetErr != nil {
			return nil, resetErr
		}
	}

	users = fn(users)
	if err := s.saveUsersLocked(users); err != nil {
		return nil, err
	}
	return users, nil
}

// MutateAttempts loads the failed-attempts map, passes it to fn for
// modification, and persists the result under a single lock hold.
func (s *Store) MutateAttempts(fn func(model.FailedAttempts) model.FailedAttempts) (model.FailedAttempts, error) {
	s.attemptsMu.Lock()
	defer s.attemptsMu.Unlock()

	attempts := model.FailedAttempts{}
	err := loadContainer(s.path(attemptsFilename), s.cfg.SystemKey, s.cfg.IntegrityKey, &attempts)
	if err != nil {
		if resetErr := s.handleCorruption(attemptsFilename, err, func() error {
			attempts = model.FailedAttempts{}
			return nil
		}); resetErr != nil {
			return nil, resetErr
		}
	}

	attempts = fn(attempts)
	if err := s.saveAttemptsLocked(attempts); err != nil {
		return nil, err
	}
	return attempts, nil
}
