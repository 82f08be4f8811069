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

// Package core implements the BranchFS overlay filesystem: the branch tree,
// chained copy-on-write path resolution, the commit/abort state machine,
// and the fuseutil.FileSystem that exposes all of it through the kernel.
package core

import (
	"os"
	"sync"
	"syscall"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"

	"github.com/multikernel/branchfs/internal/logger"
)

// cachedDescriptor is a one-slot, (ino, epoch)-keyed open-file cache: at
// most one live read descriptor and one live write descriptor per mount.
type cachedDescriptor struct {
	ino   fuseops.InodeID
	epoch uint64
	file  *os.File
}

func (d *cachedDescriptor) close() {
	if d != nil && d.file != nil {
		d.file.Close()
	}
}

// Config configures a FileSystem (a single mount's view onto a Manager).
type Config struct {
	Manager    *Manager
	Mountpoint string
	Branch     string // initial branch, usually "main"
	Clock      timeutil.Clock
	Logger     *logger.Logger
	Uid, Gid   uint32
	FileMode   os.FileMode // base permission bits for new regular files
	DirMode    os.FileMode // base permission bits for new directories
	Umask      os.FileMode
}

// FileSystem is the per-mount view: current branch, observed epoch, inode
// table, descriptor caches, and the branch-ctl inode assignment. It
// implements the fuseutil.FileSystem method set the kernel bridge drives;
// operations BranchFS has no use for (rename, xattrs, symlinks — see the
// non-goals) fall through to NotImplementedFileSystem's ENOSYS.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	manager    *Manager
	mountpoint string
	clock      timeutil.Clock
	logger     *logger.Logger

	uid, gid          uint32
	fileMode, dirMode os.FileMode
	umask             os.FileMode

	// mu guards every field below: the per-mount view state.
	mu           sync.Mutex
	branch       string
	viewEpoch    uint64
	inodes       *InodeTable
	readCache    *cachedDescriptor
	writeCache   *cachedDescriptor
	branchCtlIno map[string]fuseops.InodeID
	ctlInoBranch map[fuseops.InodeID]string
	nextCtlIno   fuseops.InodeID

	handleMu    sync.Mutex
	nextHandle  fuseops.HandleID
	fileHandles map[fuseops.HandleID]*os.File
	dirHandles  map[fuseops.HandleID]*dirHandle
}

// New constructs a FileSystem fronting cfg.Manager, starting on cfg.Branch.
func New(cfg Config) *FileSystem {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Branch == "" {
		cfg.Branch = mainBranch
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0o644
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0o755
	}

	return &FileSystem{
		manager:      cfg.Manager,
		mountpoint:   cfg.Mountpoint,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		uid:          cfg.Uid,
		gid:          cfg.Gid,
		fileMode:     cfg.FileMode,
		dirMode:      cfg.DirMode,
		umask:        cfg.Umask,
		branch:       cfg.Branch,
		viewEpoch:    cfg.Manager.GetEpoch(),
		inodes:       NewInodeTable(),
		branchCtlIno: make(map[string]fuseops.InodeID),
		ctlInoBranch: make(map[fuseops.InodeID]string),
		nextCtlIno:   branchCtlBase,
		fileHandles:  make(map[fuseops.HandleID]*os.File),
		dirHandles:   make(map[fuseops.HandleID]*dirHandle),
	}
}

// currentBranch returns the branch the view is presently on.
func (fs *FileSystem) currentBranch() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.branch
}

// isStale reports whether the view's observed epoch or branch membership
// has diverged from the manager's.
func (fs *FileSystem) isStale() bool {
	fs.mu.Lock()
	branch, epoch := fs.branch, fs.viewEpoch
	fs.mu.Unlock()

	return epoch != fs.manager.GetEpoch() || !fs.manager.IsBranchValid(branch)
}

// switchToBranch moves the view onto a new branch: it takes the manager's
// current epoch, drops the inode table (clearing every path the old branch
// had materialized), and closes any cached descriptors. This is the only
// way a Stale view re-enters Fresh.
func (fs *FileSystem) switchToBranch(branch string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.branch = branch
	fs.viewEpoch = fs.manager.GetEpoch()
	fs.inodes.Clear()
	fs.readCache.close()
	fs.writeCache.close()
	fs.readCache = nil
	fs.writeCache = nil
}

// ctlInoForBranch returns the (possibly newly assigned) reserved inode
// number for branch's .branchfs_ctl file.
func (fs *FileSystem) ctlInoForBranch(branch string) fuseops.InodeID {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if ino, ok := fs.branchCtlIno[branch]; ok {
		return ino
	}
	ino := fs.nextCtlIno
	fs.nextCtlIno--
	fs.branchCtlIno[branch] = ino
	fs.ctlInoBranch[ino] = branch
	return ino
}

// branchForCtlIno reverses ctlInoForBranch.
func (fs *FileSystem) branchForCtlIno(ino fuseops.InodeID) (string, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	name, ok := fs.ctlInoBranch[ino]
	return name, ok
}

// invalidateReadCache drops the read descriptor for ino, if cached.
func (fs *FileSystem) invalidateReadCache(ino fuseops.InodeID) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readCache != nil && fs.readCache.ino == ino {
		fs.readCache.close()
		fs.readCache = nil
	}
}

// invalidateBothCaches drops both descriptors for ino (used on a size-
// changing setattr).
func (fs *FileSystem) invalidateBothCaches(ino fuseops.InodeID) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readCache != nil && fs.readCache.ino == ino {
		fs.readCache.close()
		fs.readCache = nil
	}
	if fs.writeCache != nil && fs.writeCache.ino == ino {
		fs.writeCache.close()
		fs.writeCache = nil
	}
}

func newHandleID(fs *FileSystem) fuseops.HandleID {
	fs.handleMu.Lock()
	defer fs.handleMu.Unlock()
	fs.nextHandle++
	return fs.nextHandle
}

// statRel returns whether rel exists through branch's chain and, if so,
// whether it is a directory, without opening it.
func (fs *FileSystem) statRel(branch, rel string) (storagePath string, isDir bool, exists bool, err error) {
	path, ok, rerr := fs.manager.ResolvePath(branch, rel)
	if rerr != nil {
		return "", false, false, rerr
	}
	if !ok {
		return "", false, false, nil
	}
	info, serr := os.Stat(path)
	if serr != nil {
		if os.IsNotExist(serr) {
			return "", false, false, nil
		}
		return "", false, false, serr
	}
	return path, info.IsDir(), true, nil
}

// mapStorageErr turns an os-layer error into a VFS errno; anything not
// already an errno becomes EIO.
func mapStorageErr(err error) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return syscall.ENOENT
	}
	if os.IsPermission(err) {
		return syscall.EPERM
	}
	if errno, ok := err.(syscall.Errno); ok {
		return errno
	}
	return syscall.EIO
}
