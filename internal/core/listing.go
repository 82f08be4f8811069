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
	"strings"
)

// ListUnion computes the directory-listing union for rel as seen through
// branch's resolution chain: at each node from branch toward main, direct
// children of rel found in that node's delta directory are added
// (first-seen wins, so the nearer branch's entries shadow an ancestor's),
// honoring tombstones recorded directly under rel at any node already
// walked. The base directory's direct children fill in anything still
// unseen. This generalizes the per-file chain walk of ResolvePath to a
// whole-directory listing.
func (m *Manager) ListUnion(branch, rel string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	deletions := make(map[string]struct{})

	cur := branch
	for {
		s, ok := m.branches[cur]
		if !ok {
			return nil, ErrBranchNotFound
		}

		for t := range s.GetTombstones() {
			dir, name := splitVirtualParent(t)
			if dir == rel {
				deletions[name] = struct{}{}
			}
		}

		addDirEntries(seen, deletions, s.DeltaPath(rel))

		if cur == mainBranch {
			break
		}
		if s.hasParent {
			cur = s.parent
		} else {
			cur = mainBranch
		}
	}

	baseDir := filepath.Join(m.basePath, filepath.FromSlash(rel))
	addDirEntries(seen, deletions, baseDir)

	return seen, nil
}

// addDirEntries lists dir's direct children and merges any not already in
// seen or deletions.
func addDirEntries(seen map[string]bool, deletions map[string]struct{}, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if _, done := seen[name]; done {
			continue
		}
		if _, del := deletions[name]; del {
			continue
		}
		seen[name] = e.IsDir()
	}
}

// splitVirtualParent splits a "/"-rooted virtual path into its parent
// directory (itself "/"-rooted, using "/" for the root) and its final
// segment name.
func splitVirtualParent(path string) (dir, name string) {
	idx := strings.LastIndexByte(path, '/')
	name = path[idx+1:]
	dir = path[:idx]
	if dir == "" {
		dir = "/"
	}
	return dir, name
}
