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
	"sort"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// dirHandle buffers one readdir's worth of entries so that a kernel bridge
// that issues several ReadDirOp calls at increasing offsets (rather than
// one big one) gets a consistent listing.
type dirHandle struct {
	entries []fuseutil.Dirent
}

// buildDirHandle assembles the full entry list for (branch, rel), including
// "." and "..", the synthetic ctl file, and — only at a directory root —
// synthetic "@<name>" entries. The mount root (inodePrefix == "") lists
// every non-main branch; a branch-virtual root lists only that branch's
// direct children. inodePrefix is prepended to each child's virtual path
// before it's registered in the inode table.
func (fs *FileSystem) buildDirHandle(ino fuseops.InodeID, branch, rel string, inodePrefix string, isRoot bool) (*dirHandle, error) {
	dh := &dirHandle{}
	var offset fuseops.DirOffset

	appendEntry := func(name string, childIno fuseops.InodeID, isDir bool) {
		offset++
		typ := fuseutil.DT_File
		if isDir {
			typ = fuseutil.DT_Directory
		}
		dh.entries = append(dh.entries, fuseutil.Dirent{
			Offset: offset,
			Inode:  childIno,
			Name:   name,
			Type:   typ,
		})
	}

	appendEntry(".", ino, true)
	appendEntry("..", ino, true) // the kernel resolves ".." itself; the inode value is advisory.

	if isRoot {
		var childNames []string
		if inodePrefix == "" {
			// The mount root: its ctl file is the root ctl, and every
			// non-main branch appears flat, whatever the current branch is.
			appendEntry(CtlName, RootCtlInodeID, false)
			for _, b := range fs.manager.ListBranches() {
				if b.Name != mainBranch {
					childNames = append(childNames, b.Name)
				}
			}
		} else {
			appendEntry(CtlName, fs.ctlInoForBranch(branch), false)
			childNames = fs.manager.GetChildren(branch)
		}
		sort.Strings(childNames)
		for _, name := range childNames {
			childPath := inodePrefix + "/@" + name
			childIno := fs.inodes.GetOrCreate(childPath, true)
			appendEntry("@"+name, childIno, true)
		}
	}

	union, err := fs.manager.ListUnion(branch, rel)
	if err != nil {
		return nil, err
	}

	var names []string
	for name := range union {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		isDir := union[name]
		var childRel string
		if rel == "/" {
			childRel = "/" + name
		} else {
			childRel = rel + "/" + name
		}
		childPath := inodePrefix + childRel
		childIno := fs.inodes.GetOrCreate(childPath, isDir)
		appendEntry(name, childIno, isDir)
	}

	return dh, nil
}

// serveReadDir copies dh's buffered entries starting at offset into dst.
// An offset past the end is simply an empty read (EOF), and a full dst
// buffer ends the batch, not an error.
func serveReadDir(dh *dirHandle, dst []byte, offset fuseops.DirOffset) int {
	var written int
	for _, e := range dh.entries {
		if e.Offset <= offset {
			continue
		}
		n := fuseutil.WriteDirent(dst[written:], e)
		if n == 0 {
			break
		}
		written += n
	}
	return written
}
