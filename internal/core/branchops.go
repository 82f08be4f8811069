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
	"os"
	"path/filepath"
)

// Single-file per-branch helpers used by the VFS layer. These take the
// branch-tree read lock (AddTombstone only while it looks the branch up,
// the rest for the duration of the call) and never hand a
// *Store back to the caller: branch records are owned by the manager, and
// a caller may not retain a reference past the call that produced it.

// EnsureCOW returns the delta path for rel in branch, copying the resolved
// storage file into place first if branch has no delta there yet.
func (m *Manager) EnsureCOW(branch, rel string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.branches[branch]
	if !ok {
		return "", ErrBranchNotFound
	}
	delta := s.DeltaPath(rel)

	if !s.HasDelta(rel) {
		if src, found, err := m.resolveLocked(branch, rel); err == nil && found {
			if info, statErr := os.Stat(src); statErr == nil && info.Mode().IsRegular() {
				if err := copyFile(src, delta); err != nil {
					return "", err
				}
			}
		}
	}
	if err := os.MkdirAll(filepath.Dir(delta), 0o755); err != nil {
		return "", err
	}
	return delta, nil
}

// AddTombstone records rel as deleted in branch and drops any existing
// delta for it, keeping the tombstone set and delta directory in sync.
func (m *Manager) AddTombstone(branch, rel string) error {
	m.mu.RLock()
	s, ok := m.branches[branch]
	m.mu.RUnlock()
	if !ok {
		return ErrBranchNotFound
	}

	if err := s.AddTombstone(rel); err != nil {
		return err
	}
	delta := s.DeltaPath(rel)
	if err := os.RemoveAll(delta); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DeltaPath returns the would-be delta location for rel in branch, without
// checking whether a delta exists there.
func (m *Manager) DeltaPath(branch, rel string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.branches[branch]
	if !ok {
		return "", ErrBranchNotFound
	}
	return s.DeltaPath(rel), nil
}

// HasDelta reports whether branch has a delta file at rel.
func (m *Manager) HasDelta(branch, rel string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.branches[branch]
	if !ok {
		return false, ErrBranchNotFound
	}
	return s.HasDelta(rel), nil
}

// ChildExists reports whether name is a direct child branch of parent.
func (m *Manager) ChildExists(parent, name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.branches[name]
	return ok && s.hasParent && s.parent == parent
}
