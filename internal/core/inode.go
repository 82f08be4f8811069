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
	"fmt"
	"strings"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/syncutil"
)

// RootInodeID is the fixed inode number of the mount root. It is never
// returned by InodeTable.GetOrCreate.
const RootInodeID = fuseops.RootInodeID

// Reserved inode ranges: the dense allocation in InodeTable
// starts at RootInodeID+1 and must never collide with these.
const (
	// RootCtlInodeID is the fixed inode of /.branchfs_ctl.
	RootCtlInodeID = fuseops.InodeID(^uint64(0) - 1)
	// branchCtlBase is the first (and highest) inode number handed out to
	// a branch's .branchfs_ctl file; allocation proceeds downward from
	// here so branch-ctl inodes never collide with the dense range even
	// after a mount outlives many branches.
	branchCtlBase = fuseops.InodeID(^uint64(0) - 1000000)
)

// Info is a single path/inode table record: (ino, path, is_dir).
type Info struct {
	Ino   fuseops.InodeID
	Path  string
	IsDir bool
}

// InodeTable is the bidirectional, dense-allocation path/inode table. It
// is independent of any particular branch: a mount owns
// exactly one, and it is entirely reset (Clear) whenever the mount's view
// switches branch.
//
// A single invariant-checked mutex guards both maps rather than a bare
// RWMutex, because they must never be observed out of sync with each other.
type InodeTable struct {
	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	nextIno   fuseops.InodeID
	pathToIno map[string]fuseops.InodeID
	inoToInfo map[fuseops.InodeID]Info
}

// NewInodeTable returns a table seeded with the root entry at RootInodeID.
func NewInodeTable() *InodeTable {
	t := &InodeTable{
		nextIno:   RootInodeID + 1,
		pathToIno: make(map[string]fuseops.InodeID),
		inoToInfo: make(map[fuseops.InodeID]Info),
	}
	t.pathToIno["/"] = RootInodeID
	t.inoToInfo[RootInodeID] = Info{Ino: RootInodeID, Path: "/", IsDir: true}
	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)
	return t
}

func (t *InodeTable) checkInvariants() {
	if len(t.pathToIno) != len(t.inoToInfo) {
		panic(fmt.Sprintf("inode table out of sync: %d paths, %d infos", len(t.pathToIno), len(t.inoToInfo)))
	}
	for path, ino := range t.pathToIno {
		info, ok := t.inoToInfo[ino]
		if !ok {
			panic(fmt.Sprintf("path %q maps to ino %d with no info record", path, ino))
		}
		if info.Path != path {
			panic(fmt.Sprintf("path %q maps to ino %d but info records path %q", path, ino, info.Path))
		}
		if ino >= t.nextIno && ino != RootInodeID {
			panic(fmt.Sprintf("ino %d is in the dense range but >= nextIno %d", ino, t.nextIno))
		}
	}
}

// GetOrCreate returns the inode number for path, allocating one if this is
// the first time path has been seen. Allocation is strictly monotonic:
// numbers are never reused, even after Remove.
func (t *InodeTable) GetOrCreate(path string, isDir bool) fuseops.InodeID {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ino, ok := t.pathToIno[path]; ok {
		return ino
	}

	ino := t.nextIno
	t.nextIno++
	t.pathToIno[path] = ino
	t.inoToInfo[ino] = Info{Ino: ino, Path: path, IsDir: isDir}
	return ino
}

// GetPath returns the virtual path registered for ino, if any.
func (t *InodeTable) GetPath(ino fuseops.InodeID) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.inoToInfo[ino]
	return info.Path, ok
}

// GetIno returns the inode registered for path, if any.
func (t *InodeTable) GetIno(path string) (fuseops.InodeID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ino, ok := t.pathToIno[path]
	return ino, ok
}

// GetInfo returns the full record for ino, if any.
func (t *InodeTable) GetInfo(ino fuseops.InodeID) (Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.inoToInfo[ino]
	return info, ok
}

// Remove drops path (and its inode) from both directions of the table.
func (t *InodeTable) Remove(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ino, ok := t.pathToIno[path]
	if !ok {
		return
	}
	delete(t.pathToIno, path)
	delete(t.inoToInfo, ino)
}

// ClearPrefix drops every entry whose path has the given prefix, such as
// the subtree of the inode table rooted at /@<branch>, without resetting
// the whole table.
func (t *InodeTable) ClearPrefix(prefix string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stale []string
	for path := range t.pathToIno {
		if strings.HasPrefix(path, prefix) {
			stale = append(stale, path)
		}
	}
	for _, path := range stale {
		ino := t.pathToIno[path]
		delete(t.pathToIno, path)
		delete(t.inoToInfo, ino)
	}
}

// Clear drops every entry and reinstates the root. next allocation continues
// from wherever it left off: inode numbers are never reused within a
// mount's lifetime, even across a full view reset.
func (t *InodeTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pathToIno = map[string]fuseops.InodeID{"/": RootInodeID}
	t.inoToInfo = map[fuseops.InodeID]Info{RootInodeID: {Ino: RootInodeID, Path: "/", IsDir: true}}
}
