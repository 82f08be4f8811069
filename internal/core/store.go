// Copyright 2024 The BranchFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store is the on-disk/in-memory state for a single branch: its delta
// directory and its tombstone set. One Store exists per branch known to a
// Manager, including main. Writes and unlinks made through a view on main
// land in main's own files directory and tombstone set, and Commit never
// merges those into the base.
type Store struct {
	name      string
	parent    string // "" when hasParent is false
	hasParent bool

	root           string // <storage>/branches/<name>
	filesDir       string // root/files
	tombstonesPath string // root/tombstones

	mu         sync.RWMutex
	tombstones map[string]struct{}
	log        *os.File
}

// newStore creates the on-disk directory pair for a fresh branch and
// returns a Store with an empty tombstone set.
func newStore(storageRoot, name, parent string, hasParent bool) (*Store, error) {
	root := filepath.Join(storageRoot, "branches", name)
	filesDir := filepath.Join(root, "files")
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return nil, fmt.Errorf("branchfs: create delta dir for %q: %w", name, err)
	}

	tombstonesPath := filepath.Join(root, "tombstones")
	log, err := os.OpenFile(tombstonesPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("branchfs: create tombstone log for %q: %w", name, err)
	}

	s := &Store{
		name:           name,
		parent:         parent,
		hasParent:      hasParent,
		root:           root,
		filesDir:       filesDir,
		tombstonesPath: tombstonesPath,
		tombstones:     make(map[string]struct{}),
		log:            log,
	}
	return s, nil
}

// loadStore recovers an existing branch directory from disk, replaying its
// tombstone log. Empty lines are ignored; duplicate lines are tolerated
// (the in-memory set naturally dedupes them).
func loadStore(storageRoot, name, parent string, hasParent bool) (*Store, error) {
	s, err := newStore(storageRoot, name, parent, hasParent)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(s.tombstonesPath)
	if err != nil {
		return nil, fmt.Errorf("branchfs: reopen tombstone log for %q: %w", name, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.tombstones[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("branchfs: scan tombstone log for %q: %w", name, err)
	}
	return s, nil
}

// IsDeleted reports whether rel carries a tombstone in this branch.
func (s *Store) IsDeleted(rel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tombstones[rel]
	return ok
}

// AddTombstone records rel as deleted. Idempotent: a path already tombstoned
// does not touch the log again. The log entry is written and flushed before
// the in-memory set is updated, so a failed write never lies about
// durability.
func (s *Store) AddTombstone(rel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tombstones[rel]; ok {
		return nil
	}
	if _, err := fmt.Fprintln(s.log, rel); err != nil {
		return fmt.Errorf("branchfs: append tombstone for %q: %w", rel, err)
	}
	if err := s.log.Sync(); err != nil {
		return fmt.Errorf("branchfs: flush tombstone log: %w", err)
	}
	s.tombstones[rel] = struct{}{}
	return nil
}

// RemoveTombstone drops rel from the in-memory set only; the log entry, if
// any, is left in place (see spec's open question on tombstone compaction).
func (s *Store) RemoveTombstone(rel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tombstones, rel)
}

// GetTombstones returns a snapshot of the current tombstone set.
func (s *Store) GetTombstones() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.tombstones))
	for p := range s.tombstones {
		out[p] = struct{}{}
	}
	return out
}

// DeltaPath returns the would-be delta file location for rel, whether or
// not it exists.
func (s *Store) DeltaPath(rel string) string {
	return filepath.Join(s.filesDir, strings.TrimPrefix(rel, "/"))
}

// HasDelta reports whether a delta file actually exists at rel.
func (s *Store) HasDelta(rel string) bool {
	_, err := os.Stat(s.DeltaPath(rel))
	return err == nil
}

// Destroy closes the tombstone log and removes the branch's entire on-disk
// directory. Removal is idempotent: calling it twice, or on a directory
// that's already partially gone, is not an error.
func (s *Store) Destroy() error {
	s.log.Close()
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("branchfs: remove branch directory %q: %w", s.root, err)
	}
	return nil
}

// walkFiles recursively visits every regular file under dir, invoking fn
// with the virtual-path-style prefix-joined relative path ("/" separated,
// leading slash) and the file's absolute location.
func walkFiles(dir, prefix string, fn func(rel, abs string) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		abs := filepath.Join(dir, e.Name())
		rel := prefix + "/" + e.Name()
		if e.IsDir() {
			if err := walkFiles(abs, rel, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(rel, abs); err != nil {
			return err
		}
	}
	return nil
}
