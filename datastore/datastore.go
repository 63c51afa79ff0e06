// Package datastore is a file backed, in-memory key/value store. Values are kept
// typed in memory and written to a single JSON document, periodically and on Close.
package datastore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("datastore: closed")

// Config holds configuration options for the store.
type Config struct {
	FilePath string
	// AutoSaveInterval of zero disables background saving; Save and Close still write.
	AutoSaveInterval time.Duration
	BackupCount      int // number of backup files to keep
	Logger           *zap.Logger
}

// DefaultConfig returns a default configuration
func DefaultConfig(filePath string) *Config {
	return &Config{
		FilePath:         filePath,
		AutoSaveInterval: 10 * time.Second,
		BackupCount:      3,
		Logger:           zap.NewNop(),
	}
}

type Store[T any] struct {
	data         map[string]T
	file         string
	mu           sync.RWMutex
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	config       *Config
	log          *zap.Logger
	lastChecksum string
	closed       bool
}

// Open loads filePath into a new store, creating the file when it does not exist.
func Open[T any](config *Config) (*Store[T], error) {
	if config == nil {
		return nil, errors.New("datastore: config cannot be nil")
	}
	if config.FilePath == "" {
		return nil, errors.New("datastore: file path cannot be empty")
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0o755); err != nil {
		return nil, fmt.Errorf("datastore: create directory: %w", err)
	}

	s := &Store[T]{
		data:   make(map[string]T),
		file:   config.FilePath,
		config: config,
		log:    log.With(zap.String("file", config.FilePath)),
	}

	switch _, err := os.Stat(config.FilePath); {
	case errors.Is(err, os.ErrNotExist):
		if err := s.writeFileAtomic([]byte("{}")); err != nil {
			return nil, fmt.Errorf("datastore: create empty file: %w", err)
		}
	case err == nil:
		if err := s.loadFromFile(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("datastore: stat: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if config.AutoSaveInterval > 0 {
		s.wg.Add(1)
		go s.autoSave(ctx)
	}
	return s, nil
}

// Get retrieves a value by key
func (s *Store[T]) Get(key string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Put stores a value under key.
func (s *Store[T]) Put(key string, value T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.data[key] = value
	return nil
}

// Update performs a read-modify-write under the store lock. fn receives the
// current value and whether it exists; it returns the value to keep and whether
// to keep it at all (false deletes the key).
func (s *Store[T]) Update(key string, fn func(cur T, ok bool) (T, bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	cur, ok := s.data[key]
	next, keep := fn(cur, ok)
	if keep {
		s.data[key] = next
	} else {
		delete(s.data, key)
	}
	return nil
}

// Delete removes key and reports whether it was present.
func (s *Store[T]) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return false
	}
	delete(s.data, key)
	return true
}

// Keys returns all keys in sorted order.
func (s *Store[T]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Range calls fn for every entry in key order until fn returns false.
func (s *Store[T]) Range(fn func(key string, value T) bool) {
	for _, k := range s.Keys() {
		v, ok := s.Get(k)
		if !ok {
			continue
		}
		if !fn(k, v) {
			return
		}
	}
}

// Len returns the number of keys.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Save forces an immediate save to disk
func (s *Store[T]) Save() error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return s.saveToFile()
}

// Close stops the autosave loop and writes the final state.
func (s *Store[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return s.saveToFile()
}

func (s *Store[T]) saveToFile() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.data, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("datastore: marshal: %w", err)
	}

	checksum := checksum(data)
	if checksum == s.lastChecksum {
		return nil
	}

	if s.config.BackupCount > 0 {
		if err := s.createBackup(); err != nil {
			s.log.Warn("backup failed", zap.Error(err))
		}
	}
	if err := s.writeFileAtomic(data); err != nil {
		return err
	}
	if err := s.verifyFile(checksum); err != nil {
		return err
	}
	s.lastChecksum = checksum
	return nil
}

func (s *Store[T]) loadFromFile() error {
	raw, err := os.ReadFile(s.file)
	if err != nil {
		return fmt.Errorf("datastore: read: %w", err)
	}
	data := make(map[string]T)
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("datastore: invalid JSON in %s: %w", s.file, err)
	}
	s.data = data
	s.lastChecksum = checksum(raw)
	return nil
}

// writeFileAtomic writes to a temporary file, syncs it and renames it over the target.
func (s *Store[T]) writeFileAtomic(data []byte) error {
	tmp := s.file + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("datastore: open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("datastore: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("datastore: sync temp file: %w", err)
	}
	f.Close()

	if err := os.Rename(tmp, s.file); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("datastore: rename temp file: %w", err)
	}
	return nil
}

func (s *Store[T]) verifyFile(want string) error {
	raw, err := os.ReadFile(s.file)
	if err != nil {
		return fmt.Errorf("datastore: verify: %w", err)
	}
	if checksum(raw) != want {
		return errors.New("datastore: file checksum mismatch")
	}
	return nil
}

func (s *Store[T]) createBackup() error {
	if _, err := os.Stat(s.file); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	backup := fmt.Sprintf("%s.backup.%s", s.file, time.Now().Format("20060102_150405.000"))
	src, err := os.Open(s.file)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(backup)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}

	s.cleanupOldBackups()
	return nil
}

// cleanupOldBackups removes the oldest backups beyond the configured limit.
func (s *Store[T]) cleanupOldBackups() {
	matches, err := filepath.Glob(s.file + ".backup.*")
	if err != nil || len(matches) <= s.config.BackupCount {
		return
	}

	type backup struct {
		path    string
		modTime time.Time
	}
	files := make([]backup, 0, len(matches))
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil {
			files = append(files, backup{m, info.ModTime()})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	for i := 0; i < len(files)-s.config.BackupCount; i++ {
		os.Remove(files[i].path)
	}
}

func (s *Store[T]) autoSave(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.AutoSaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.saveToFile(); err != nil {
				s.log.Error("auto-save failed", zap.Error(err))
			}
		}
	}
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
