package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"escrow-sync-go/internal/models"
	"escrow-sync-go/internal/store"

	"go.uber.org/zap"
)

// Compile-time check: *Store must satisfy store.MirrorStore.
var _ store.MirrorStore = (*Store)(nil)

// Store keeps every agreement in a single pretty-printed JSON array. Each
// mutation rewrites the whole file through a temp file and rename.
type Store struct {
	path  string
	mutex sync.Mutex
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("contracts file path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("unable to create directory for %s: %w", path, err)
		}
	}

	s := &Store{path: path}
	if _, err := s.load(); err != nil {
		return nil, err
	}

	zap.L().Info("JSON file mirror initialized", zap.String("file", path))
	return s, nil
}

func (s *Store) ListAll(ctx context.Context) ([]models.Agreement, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.load()
}

func (s *Store) Append(ctx context.Context, agreement models.Agreement) (*models.Agreement, error) {
	if agreement.Address == "" {
		return nil, fmt.Errorf("agreement address cannot be empty")
	}
	agreement.Normalize()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	agreements, err := s.load()
	if err != nil {
		return nil, err
	}
	if _, exists := store.FindByAddress(agreements, agreement.Address); exists {
		return nil, fmt.Errorf("%w: %s", store.ErrConflict, agreement.Address)
	}

	agreements = append(agreements, agreement)
	if err := s.save(agreements); err != nil {
		return nil, err
	}

	stored := agreement.Clone()
	return &stored, nil
}

func (s *Store) UpdateApproval(ctx context.Context, address string, approvedAt int64) (*models.Agreement, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	agreements, err := s.load()
	if err != nil {
		return nil, err
	}

	idx := -1
	for i := range agreements {
		if strings.EqualFold(agreements[i].Address, address) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, address)
	}

	if agreements[idx].IsApproved {
		current := agreements[idx].Clone()
		return &current, nil
	}

	at := approvedAt
	agreements[idx].ApprovedAt = &at
	agreements[idx].IsApproved = true
	if err := s.save(agreements); err != nil {
		return nil, err
	}

	updated := agreements[idx].Clone()
	return &updated, nil
}

func (s *Store) Close() {}

// load reads the file; a missing file is an empty mirror.
func (s *Store) load() ([]models.Agreement, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []models.Agreement{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var agreements []models.Agreement
	if len(data) > 0 {
		if err := json.Unmarshal(data, &agreements); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
		}
	}
	if agreements == nil {
		agreements = []models.Agreement{}
	}
	for i := range agreements {
		agreements[i].Normalize()
	}
	return agreements, nil
}

func (s *Store) save(agreements []models.Agreement) error {
	data, err := json.MarshalIndent(agreements, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode agreements: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}
