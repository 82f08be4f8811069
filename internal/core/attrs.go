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
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"golang.org/x/sys/unix"
)

// statAttr builds real attributes for an existing storage path by calling
// unix.Stat directly, rather than trusting whatever os.FileInfo.Sys()
// happens to return, so uid/gid/nlink come straight from the kernel.
func statAttr(path string) (fuseops.InodeAttributes, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return fuseops.InodeAttributes{}, err
	}

	mode := os.FileMode(st.Mode & 0o7777)
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
		mode |= os.ModeDir
	case unix.S_IFLNK:
		mode |= os.ModeSymlink
	}

	return fuseops.InodeAttributes{
		Size:   uint64(st.Size),
		Nlink:  uint32(st.Nlink),
		Mode:   mode,
		Atime:  time.Unix(st.Atim.Sec, st.Atim.Nsec),
		Mtime:  time.Unix(st.Mtim.Sec, st.Mtim.Nsec),
		Ctime:  time.Unix(st.Ctim.Sec, st.Ctim.Nsec),
		Uid:    st.Uid,
		Gid:    st.Gid,
	}, nil
}

// syntheticDirAttr builds the attribute record for a directory that exists
// only in the virtual namespace (the root, or a /@<branch> entry): no
// backing inode on disk.
func (fs *FileSystem) syntheticDirAttr() fuseops.InodeAttributes {
	now := fs.clock.Now()
	return fuseops.InodeAttributes{
		Size:  0,
		Nlink: 2,
		Mode:  os.ModeDir | fs.dirMode,
		Atime: now,
		Mtime: now,
		Ctime: now,
		Uid:   fs.uid,
		Gid:   fs.gid,
	}
}

// ctlFileAttr builds the attribute record for a synthetic control file.
// Mode 0600: only the mount's owner may write commands.
func (fs *FileSystem) ctlFileAttr() fuseops.InodeAttributes {
	now := fs.clock.Now()
	return fuseops.InodeAttributes{
		Size:  0,
		Nlink: 1,
		Mode:  0o600,
		Atime: now,
		Mtime: now,
		Ctime: now,
		Uid:   fs.uid,
		Gid:   fs.gid,
	}
}

// applyCreateMode returns the mode a newly created file/dir should carry:
// the caller's requested mode, masked by the process umask.
func (fs *FileSystem) applyCreateMode(requested os.FileMode) os.FileMode {
	return requested &^ fs.umask
}
