// Package cursor tracks how far each source of each server has been read and
// which death log files are already ingested.
//
// All state is keyed by the server's stable ID. Every operation holds the
// lock for its key across the whole read-modify-persist cycle and updates
// the in-memory view only after the backend accepted the write, so a failed
// commit leaves the previous state visible.
package cursor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ernie/killfeed/internal/domain"
)

const (
	// MaxProcessedFiles is the registry size that triggers pruning
	MaxProcessedFiles = 100
	// KeepProcessedFiles is how many of the most recent files survive a prune
	KeepProcessedFiles = 50
)

// Backend persists cursor state. storage.Store implements it.
type Backend interface {
	LoadCursor(ctx context.Context, serverID string, source domain.SourceType) (domain.Cursor, error)
	SaveCursor(ctx context.Context, c domain.Cursor) error
	LoadProcessedFiles(ctx context.Context, serverID string) ([]string, error)
	LoadProcessedFloor(ctx context.Context, serverID string) (string, error)
	AddProcessedFile(ctx context.Context, serverID, filename string) error
	KeepProcessedFiles(ctx context.Context, serverID string, keep []string, floor string) error
}

type cursorKey struct {
	serverID string
	source   domain.SourceType
}

type cursorEntry struct {
	mu     sync.Mutex
	loaded bool
	cursor domain.Cursor
}

type registryEntry struct {
	mu     sync.Mutex
	loaded bool
	files  map[string]struct{}
	floor  string // newest pruned name
}

// covers reports whether filename is registered or sorts at or below the
// floor. Caller holds e.mu.
func (e *registryEntry) covers(filename string) bool {
	if _, ok := e.files[filename]; ok {
		return true
	}
	return e.floor != "" && filename <= e.floor
}

// Store is the cursor store
type Store struct {
	backend Backend
	now     func() time.Time

	mu         sync.Mutex
	cursors    map[cursorKey]*cursorEntry
	registries map[string]*registryEntry
}

// New creates a cursor store over backend
func New(backend Backend) *Store {
	return &Store{
		backend:    backend,
		now:        time.Now,
		cursors:    make(map[cursorKey]*cursorEntry),
		registries: make(map[string]*registryEntry),
	}
}

func (s *Store) cursorEntry(serverID string, source domain.SourceType) *cursorEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cursorKey{serverID, source}
	e, ok := s.cursors[key]
	if !ok {
		e = &cursorEntry{}
		s.cursors[key] = e
	}
	return e
}

func (s *Store) registryEntry(serverID string) *registryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.registries[serverID]
	if !ok {
		e = &registryEntry{}
		s.registries[serverID] = e
	}
	return e
}

// load fills the entry from the backend. Caller holds e.mu.
func (s *Store) load(ctx context.Context, e *cursorEntry, serverID string, source domain.SourceType) error {
	if e.loaded {
		return nil
	}
	c, err := s.backend.LoadCursor(ctx, serverID, source)
	if err != nil {
		return fmt.Errorf("loading %s cursor for %s: %w", source, serverID, err)
	}
	c.ServerID = serverID
	c.Source = source
	e.cursor = c
	e.loaded = true
	return nil
}

// update applies fn to a copy of the cursor, persists it, then publishes it
func (s *Store) update(ctx context.Context, serverID string, source domain.SourceType, fn func(*domain.Cursor) error) error {
	e := s.cursorEntry(serverID, source)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := s.load(ctx, e, serverID, source); err != nil {
		return err
	}
	next := e.cursor
	if err := fn(&next); err != nil {
		return err
	}
	next.UpdatedAt = s.now().UTC()
	if err := s.backend.SaveCursor(ctx, next); err != nil {
		return fmt.Errorf("committing %s cursor for %s: %w", source, serverID, err)
	}
	e.cursor = next
	return nil
}

// Cursor returns a snapshot of the full cursor
func (s *Store) Cursor(ctx context.Context, serverID string, source domain.SourceType) (domain.Cursor, error) {
	e := s.cursorEntry(serverID, source)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.load(ctx, e, serverID, source); err != nil {
		return domain.Cursor{}, err
	}
	return e.cursor, nil
}

// Offset returns the number of lines already consumed
func (s *Store) Offset(ctx context.Context, serverID string, source domain.SourceType) (int, error) {
	c, err := s.Cursor(ctx, serverID, source)
	return c.Offset, err
}

// CommitOffset stores a new offset. Offsets only move forward; use
// ResetOffset after a detected rotation.
func (s *Store) CommitOffset(ctx context.Context, serverID string, source domain.SourceType, offset int) error {
	if offset < 0 {
		return fmt.Errorf("negative offset %d", offset)
	}
	return s.update(ctx, serverID, source, func(c *domain.Cursor) error {
		if offset < c.Offset {
			return fmt.Errorf("offset %d is behind committed offset %d", offset, c.Offset)
		}
		c.Offset = offset
		return nil
	})
}

// CommitFileOffset records how far into file the source has been read.
// Moving to a different file starts a new monotonic sequence.
func (s *Store) CommitFileOffset(ctx context.Context, serverID string, source domain.SourceType, file string, offset int) error {
	if offset < 0 {
		return fmt.Errorf("negative offset %d", offset)
	}
	return s.update(ctx, serverID, source, func(c *domain.Cursor) error {
		if c.File != file {
			c.File = file
			c.Offset = offset
			return nil
		}
		if offset < c.Offset {
			return fmt.Errorf("offset %d is behind committed offset %d for %s", offset, c.Offset, file)
		}
		c.Offset = offset
		return nil
	})
}

// DetectRotation reports whether the remote file shrank below the stored
// offset, meaning it was truncated or replaced
func (s *Store) DetectRotation(ctx context.Context, serverID string, source domain.SourceType, reportedSize int) (bool, error) {
	offset, err := s.Offset(ctx, serverID, source)
	if err != nil {
		return false, err
	}
	return reportedSize < offset, nil
}

// ResetOffset moves the cursor back to the start of the source
func (s *Store) ResetOffset(ctx context.Context, serverID string, source domain.SourceType) error {
	return s.update(ctx, serverID, source, func(c *domain.Cursor) error {
		c.Offset = 0
		c.File = ""
		return nil
	})
}

// LastProcessed returns the death log timestamp watermark
func (s *Store) LastProcessed(ctx context.Context, serverID string) (time.Time, error) {
	c, err := s.Cursor(ctx, serverID, domain.SourceDeathLog)
	return c.LastProcessed, err
}

// AdvanceLastProcessed raises the watermark to ts; older values are ignored
func (s *Store) AdvanceLastProcessed(ctx context.Context, serverID string, ts time.Time) error {
	return s.update(ctx, serverID, domain.SourceDeathLog, func(c *domain.Cursor) error {
		if ts.After(c.LastProcessed) {
			c.LastProcessed = ts.UTC()
		}
		return nil
	})
}

// loadRegistry fills the registry from the backend. Caller holds e.mu.
func (s *Store) loadRegistry(ctx context.Context, e *registryEntry, serverID string) error {
	if e.loaded {
		return nil
	}
	files, err := s.backend.LoadProcessedFiles(ctx, serverID)
	if err != nil {
		return fmt.Errorf("loading processed files for %s: %w", serverID, err)
	}
	floor, err := s.backend.LoadProcessedFloor(ctx, serverID)
	if err != nil {
		return fmt.Errorf("loading processed floor for %s: %w", serverID, err)
	}
	e.floor = floor
	e.files = make(map[string]struct{}, len(files))
	for _, f := range files {
		e.files[f] = struct{}{}
	}
	e.loaded = true
	return nil
}

// IsProcessed reports whether filename was already fully ingested. Names
// at or below the newest pruned name stay processed after they leave the
// registry, so old files still on disk are never read again.
func (s *Store) IsProcessed(ctx context.Context, serverID, filename string) (bool, error) {
	e := s.registryEntry(serverID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.loadRegistry(ctx, e, serverID); err != nil {
		return false, err
	}
	return e.covers(filename), nil
}

// MarkProcessed adds filename to the registry and prunes it when it grows
// past MaxProcessedFiles
func (s *Store) MarkProcessed(ctx context.Context, serverID, filename string) error {
	e := s.registryEntry(serverID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.loadRegistry(ctx, e, serverID); err != nil {
		return err
	}
	if e.covers(filename) {
		return nil
	}
	if err := s.backend.AddProcessedFile(ctx, serverID, filename); err != nil {
		return fmt.Errorf("marking %s processed: %w", filename, err)
	}
	e.files[filename] = struct{}{}
	return s.pruneLocked(ctx, e, serverID)
}

// PruneProcessedFiles trims the registry to the KeepProcessedFiles most
// recent names when it holds more than MaxProcessedFiles. The newest
// dropped name becomes the floor.
func (s *Store) PruneProcessedFiles(ctx context.Context, serverID string) error {
	e := s.registryEntry(serverID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.loadRegistry(ctx, e, serverID); err != nil {
		return err
	}
	return s.pruneLocked(ctx, e, serverID)
}

func (s *Store) pruneLocked(ctx context.Context, e *registryEntry, serverID string) error {
	if len(e.files) <= MaxProcessedFiles {
		return nil
	}
	keep := MostRecent(e.files, KeepProcessedFiles)
	kept := make(map[string]struct{}, len(keep))
	for _, f := range keep {
		kept[f] = struct{}{}
	}
	floor := e.floor
	for f := range e.files {
		if _, ok := kept[f]; !ok && f > floor {
			floor = f
		}
	}
	if err := s.backend.KeepProcessedFiles(ctx, serverID, keep, floor); err != nil {
		return fmt.Errorf("pruning processed files for %s: %w", serverID, err)
	}
	e.files = kept
	e.floor = floor
	return nil
}

// ProcessedFiles returns the registry in chronological (filename) order
func (s *Store) ProcessedFiles(ctx context.Context, serverID string) ([]string, error) {
	e := s.registryEntry(serverID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.loadRegistry(ctx, e, serverID); err != nil {
		return nil, err
	}
	files := make([]string, 0, len(e.files))
	for f := range e.files {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

// Forget drops cached state of a deregistered server
func (s *Store) Forget(serverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.cursors {
		if key.serverID == serverID {
			delete(s.cursors, key)
		}
	}
	delete(s.registries, serverID)
}

// MostRecent returns the n lexically greatest names in ascending order.
// Death log names embed their timestamp, so lexical order is chronological.
func MostRecent(files map[string]struct{}, n int) []string {
	names := make([]string, 0, len(files))
	for f := range files {
		names = append(names, f)
	}
	sort.Strings(names)
	if len(names) > n {
		names = names[len(names)-n:]
	}
	return names
}
