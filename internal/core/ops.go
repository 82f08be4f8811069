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
	"context"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/jacobsa/fuse/fuseops"
)

// resolveParent classifies a parent inode's virtual path into the branch
// and branch-relative directory it names, for use by operations that need
// to build a child path (lookup, create, mkdir, unlink, rmdir).
func (fs *FileSystem) resolveParent(parent fuseops.InodeID) (branch, rel string, err error) {
	if parent == RootInodeID {
		return fs.currentBranch(), "/", nil
	}
	path, ok := fs.inodes.GetPath(parent)
	if !ok {
		return "", "", syscall.ENOENT
	}
	pc := Classify(path)
	switch pc.Kind {
	case KindBranchDir:
		return pc.Branch, "/", nil
	case KindBranchPath:
		return pc.Branch, pc.Rel, nil
	case KindRootPath:
		return fs.currentBranch(), pc.Rel, nil
	default:
		return "", "", syscall.ENOTDIR
	}
}

func joinRel(rel, name string) string {
	if rel == "/" {
		return "/" + name
	}
	return rel + "/" + name
}

// StatFS answers with all-zero statistics: BranchFS has no meaningful
// block accounting of its own, the backing storage does.
func (fs *FileSystem) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	return nil
}

// LookUpInode resolves one name under a parent directory.
func (fs *FileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	parentPath, ok := fs.inodes.GetPath(op.Parent)
	if !ok {
		return syscall.ENOENT
	}

	var childVirtual string
	if parentPath == "/" {
		childVirtual = "/" + op.Name
	} else {
		childVirtual = parentPath + "/" + op.Name
	}

	pc := Classify(childVirtual)
	switch pc.Kind {
	case KindRootCtl:
		op.Entry.Child = RootCtlInodeID
		op.Entry.Attributes = fs.ctlFileAttr()
		return nil

	case KindBranchDir:
		// main is never reachable as /@main, and inside a branch dir only
		// direct children may be addressed as @name.
		if pc.Branch == mainBranch || !fs.manager.IsBranchValid(pc.Branch) {
			return syscall.ENOENT
		}
		if parentCtx := Classify(parentPath); parentCtx.Kind == KindBranchDir {
			if !fs.manager.ChildExists(parentCtx.Branch, pc.Branch) {
				return syscall.ENOENT
			}
		}
		op.Entry.Child = fs.inodes.GetOrCreate(childVirtual, true)
		op.Entry.Attributes = fs.syntheticDirAttr()
		return nil

	case KindBranchCtl:
		if !fs.manager.IsBranchValid(pc.Branch) {
			return syscall.ENOENT
		}
		op.Entry.Child = fs.ctlInoForBranch(pc.Branch)
		op.Entry.Attributes = fs.ctlFileAttr()
		return nil

	case KindBranchPath, KindRootPath:
		if fs.isStale() {
			return syscall.ESTALE
		}
		branch := pc.Branch
		if pc.Kind == KindRootPath {
			branch = fs.currentBranch()
		}
		storagePath, isDir, exists, err := fs.statRel(branch, pc.Rel)
		if err != nil {
			return mapStorageErr(err)
		}
		if !exists {
			return syscall.ENOENT
		}
		attrs, err := statAttr(storagePath)
		if err != nil {
			return mapStorageErr(err)
		}
		op.Entry.Child = fs.inodes.GetOrCreate(childVirtual, isDir)
		op.Entry.Attributes = attrs
		return nil

	default:
		return syscall.ENOENT
	}
}

// GetInodeAttributes answers synthetically for reserved inodes and with
// real storage attributes for everything else.
func (fs *FileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	switch op.Inode {
	case RootInodeID:
		// The root is backed by the current branch's view of "/" when that
		// resolves; a missing or unreadable base still answers synthetically.
		if path, _, exists, err := fs.statRel(fs.currentBranch(), "/"); err == nil && exists {
			if attrs, aerr := statAttr(path); aerr == nil {
				op.Attributes = attrs
				return nil
			}
		}
		op.Attributes = fs.syntheticDirAttr()
		return nil
	case RootCtlInodeID:
		op.Attributes = fs.ctlFileAttr()
		return nil
	}

	if branch, ok := fs.branchForCtlIno(op.Inode); ok {
		if !fs.manager.IsBranchValid(branch) {
			return syscall.ENOENT
		}
		op.Attributes = fs.ctlFileAttr()
		return nil
	}

	path, ok := fs.inodes.GetPath(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	pc := Classify(path)
	if pc.Kind == KindBranchDir {
		if !fs.manager.IsBranchValid(pc.Branch) {
			return syscall.ENOENT
		}
		op.Attributes = fs.syntheticDirAttr()
		return nil
	}

	if fs.isStale() {
		return syscall.ESTALE
	}
	branch := pc.Branch
	if pc.Kind == KindRootPath {
		branch = fs.currentBranch()
	}
	storagePath, _, exists, err := fs.statRel(branch, pc.Rel)
	if err != nil {
		return mapStorageErr(err)
	}
	if !exists {
		return syscall.ENOENT
	}
	attrs, err := statAttr(storagePath)
	if err != nil {
		return mapStorageErr(err)
	}
	op.Attributes = attrs
	return nil
}

// SetInodeAttributes applies truncation, chmod, and utimens. Each of them
// forces a copy-on-write first so the change lands in the owning branch's
// delta, never in the base.
func (fs *FileSystem) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	if op.Inode == RootInodeID {
		op.Attributes = fs.syntheticDirAttr()
		return nil
	}
	if op.Inode == RootCtlInodeID {
		op.Attributes = fs.ctlFileAttr()
		return nil
	}
	if _, ok := fs.branchForCtlIno(op.Inode); ok {
		op.Attributes = fs.ctlFileAttr()
		return nil
	}

	path, ok := fs.inodes.GetPath(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	pc := Classify(path)
	if pc.Kind == KindBranchDir {
		op.Attributes = fs.syntheticDirAttr()
		return nil
	}
	if fs.isStale() {
		return syscall.ESTALE
	}

	branch := pc.Branch
	if pc.Kind == KindRootPath {
		branch = fs.currentBranch()
	}

	delta, err := fs.manager.EnsureCOW(branch, pc.Rel)
	if err != nil {
		return mapStorageErr(err)
	}

	if op.Size != nil {
		if err := os.Truncate(delta, int64(*op.Size)); err != nil {
			return mapStorageErr(err)
		}
		fs.invalidateBothCaches(op.Inode)
	}
	if op.Mode != nil {
		if err := os.Chmod(delta, *op.Mode); err != nil {
			return mapStorageErr(err)
		}
	}
	if op.Atime != nil || op.Mtime != nil {
		atime, mtime := fs.clock.Now(), fs.clock.Now()
		if op.Atime != nil {
			atime = *op.Atime
		}
		if op.Mtime != nil {
			mtime = *op.Mtime
		}
		if err := os.Chtimes(delta, atime, mtime); err != nil {
			return mapStorageErr(err)
		}
	}

	attrs, err := statAttr(delta)
	if err != nil {
		return mapStorageErr(err)
	}
	op.Attributes = attrs
	return nil
}

// ForgetInode drops the kernel's reference-count hint. The inode table has
// no per-entry lookup count: entries live until a branch switch clears the
// whole view, so there is nothing to do here beyond acknowledging the call.
func (fs *FileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	return nil
}

// MkDir creates a directory in the owning branch's delta tree.
func (fs *FileSystem) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	if fs.isStale() {
		return syscall.ESTALE
	}
	if op.Name == CtlName || strings.HasPrefix(op.Name, "@") {
		return syscall.EPERM
	}

	branch, rel, err := fs.resolveParent(op.Parent)
	if err != nil {
		return err
	}
	childRel := joinRel(rel, op.Name)

	delta, err := fs.manager.EnsureCOW(branch, childRel)
	if err != nil {
		return mapStorageErr(err)
	}
	if err := os.Mkdir(delta, fs.applyCreateMode(op.Mode)); err != nil {
		return mapStorageErr(err)
	}

	attrs, err := statAttr(delta)
	if err != nil {
		return mapStorageErr(err)
	}

	childVirtual := fullVirtualPath(branch, fs.currentBranch(), childRel)
	op.Entry.Child = fs.inodes.GetOrCreate(childVirtual, true)
	op.Entry.Attributes = attrs
	return nil
}

// CreateFile creates an empty file in the owning branch's delta tree and
// hands back an open handle for it. If the view goes stale
// between the on-disk creation and the reply, the newly created file is
// removed and ESTALE is returned instead.
func (fs *FileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	if fs.isStale() {
		return syscall.ESTALE
	}
	if op.Name == CtlName || strings.HasPrefix(op.Name, "@") {
		return syscall.EPERM
	}

	branch, rel, err := fs.resolveParent(op.Parent)
	if err != nil {
		return err
	}
	childRel := joinRel(rel, op.Name)

	delta, err := fs.manager.EnsureCOW(branch, childRel)
	if err != nil {
		return mapStorageErr(err)
	}
	f, err := os.OpenFile(delta, os.O_CREATE|os.O_EXCL|os.O_RDWR, fs.applyCreateMode(op.Mode))
	if err != nil {
		return mapStorageErr(err)
	}

	if fs.isStale() {
		f.Close()
		os.Remove(delta)
		return syscall.ESTALE
	}

	attrs, err := statAttr(delta)
	if err != nil {
		f.Close()
		return mapStorageErr(err)
	}

	handle := newHandleID(fs)
	fs.handleMu.Lock()
	fs.fileHandles[handle] = f
	fs.handleMu.Unlock()

	childVirtual := fullVirtualPath(branch, fs.currentBranch(), childRel)
	op.Handle = handle
	op.Entry.Child = fs.inodes.GetOrCreate(childVirtual, false)
	op.Entry.Attributes = attrs
	return nil
}

// fullVirtualPath prefixes rel with "/@branch" unless branch is the mount's
// current branch, in which case rel is already the correct root-relative
// virtual path (regular root children are addressed without a branch
// prefix).
func fullVirtualPath(branch, currentBranch, rel string) string {
	if branch == currentBranch {
		return rel
	}
	return "/@" + branch + rel
}

// RmDir is an alias for Unlink: directory removal is recorded the same
// way, as a tombstone.
func (fs *FileSystem) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	return fs.unlinkCommon(op.Parent, op.Name)
}

// Unlink records a tombstone for the path in the owning branch and drops
// any delta it may have had.
func (fs *FileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	return fs.unlinkCommon(op.Parent, op.Name)
}

func (fs *FileSystem) unlinkCommon(parent fuseops.InodeID, name string) error {
	if fs.isStale() {
		return syscall.ESTALE
	}
	if name == CtlName || strings.HasPrefix(name, "@") {
		return syscall.EPERM
	}

	branch, rel, err := fs.resolveParent(parent)
	if err != nil {
		return err
	}
	childRel := joinRel(rel, name)

	if err := fs.manager.AddTombstone(branch, childRel); err != nil {
		return toErrno(err)
	}
	fs.inodes.Remove(fullVirtualPath(branch, fs.currentBranch(), childRel))
	return nil
}

// OpenDir implements open for directories: it rejects a stale view (except
// for the root) and hands back a zero-state handle; the inode itself is
// checked, and the listing assembled, lazily in ReadDir.
func (fs *FileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	if fs.isStale() && op.Inode != RootInodeID {
		return syscall.ESTALE
	}
	op.Handle = newHandleID(fs)
	return nil
}

// ReadDir serves directory listings from the handle's buffered entry list,
// building it on the first call (or on a rewind to offset zero).
func (fs *FileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.handleMu.Lock()
	dh, buffered := fs.dirHandles[op.Handle]
	fs.handleMu.Unlock()

	if op.Offset == 0 || !buffered {
		var branch, rel, prefix string
		isRoot := true

		if op.Inode == RootInodeID {
			branch, rel, prefix = fs.currentBranch(), "/", ""
		} else {
			path, ok := fs.inodes.GetPath(op.Inode)
			if !ok {
				return syscall.ENOENT
			}
			pc := Classify(path)
			switch pc.Kind {
			case KindBranchDir:
				branch, rel, prefix = pc.Branch, "/", "/@"+pc.Branch
			case KindBranchPath:
				branch, rel, prefix, isRoot = pc.Branch, pc.Rel, "/@"+pc.Branch, false
			default:
				return syscall.ENOTDIR
			}
		}

		if fs.isStale() {
			return syscall.ESTALE
		}

		built, err := fs.buildDirHandle(op.Inode, branch, rel, prefix, isRoot)
		if err != nil {
			return mapStorageErr(err)
		}
		dh = built

		fs.handleMu.Lock()
		fs.dirHandles[op.Handle] = dh
		fs.handleMu.Unlock()
	}

	op.BytesRead = serveReadDir(dh, op.Dst, op.Offset)
	return nil
}

// ReleaseDirHandle frees a directory handle's buffered listing.
func (fs *FileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	fs.handleMu.Lock()
	delete(fs.dirHandles, op.Handle)
	fs.handleMu.Unlock()
	return nil
}

// OpenFile validates the inode resolves
// to a real storage file (or is a synthetic openable), registers it with
// the manager's opened-inode set for targeted invalidation, and returns a
// handle with no associated state of its own (descriptor caching happens
// at read/write time, not here).
func (fs *FileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	if op.Inode == RootCtlInodeID {
		op.Handle = newHandleID(fs)
		return nil
	}
	if branch, ok := fs.branchForCtlIno(op.Inode); ok {
		if !fs.manager.IsBranchValid(branch) {
			return syscall.ENOENT
		}
		op.Handle = newHandleID(fs)
		return nil
	}

	if fs.isStale() {
		return syscall.ESTALE
	}
	path, ok := fs.inodes.GetPath(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	pc := Classify(path)
	if pc.Kind == KindBranchDir || pc.Kind == KindRoot {
		return syscall.EISDIR
	}
	branch := pc.Branch
	if pc.Kind == KindRootPath {
		branch = fs.currentBranch()
	}
	_, isDir, exists, err := fs.statRel(branch, pc.Rel)
	if err != nil {
		return mapStorageErr(err)
	}
	if !exists {
		return syscall.ENOENT
	}
	if isDir {
		return syscall.EISDIR
	}

	fs.manager.RegisterOpenedInode(branch, op.Inode)
	op.Handle = newHandleID(fs)
	return nil
}

// ReadFile reads from the storage file the inode resolves to, through the
// one-slot read-descriptor cache.
func (fs *FileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	if op.Inode == RootCtlInodeID {
		op.BytesRead = 0
		return nil
	}
	if _, ok := fs.branchForCtlIno(op.Inode); ok {
		op.BytesRead = 0
		return nil
	}

	if fs.isStale() {
		return syscall.ESTALE
	}
	path, ok := fs.inodes.GetPath(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	pc := Classify(path)
	if pc.Kind == KindBranchDir || pc.Kind == KindRoot {
		return syscall.EISDIR
	}
	branch := pc.Branch
	if pc.Kind == KindRootPath {
		branch = fs.currentBranch()
	}

	epoch := fs.manager.GetEpoch()
	f, err := fs.readDescriptor(op.Inode, epoch, branch, pc.Rel)
	if err != nil {
		return mapStorageErr(err)
	}

	n, err := f.ReadAt(op.Dst, op.Offset)
	op.BytesRead = n
	if err != nil && err != io.EOF {
		return mapStorageErr(err)
	}

	// The view may have expired while the read was in flight; a root-path
	// read must not hand back bytes from a base that has since moved on.
	if pc.Kind == KindRootPath && fs.isStale() {
		return syscall.ESTALE
	}
	return nil
}

// readDescriptor returns the cached read *os.File for ino if its epoch
// still matches, else resolves, opens, and caches a new one.
func (fs *FileSystem) readDescriptor(ino fuseops.InodeID, epoch uint64, branch, rel string) (*os.File, error) {
	fs.mu.Lock()
	if fs.readCache != nil && fs.readCache.ino == ino && fs.readCache.epoch == epoch {
		f := fs.readCache.file
		fs.mu.Unlock()
		return f, nil
	}
	fs.mu.Unlock()

	storagePath, ok, err := fs.manager.ResolvePath(branch, rel)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, syscall.ENOENT
	}
	f, err := os.Open(storagePath)
	if err != nil {
		return nil, err
	}

	fs.mu.Lock()
	fs.readCache.close()
	fs.readCache = &cachedDescriptor{ino: ino, epoch: epoch, file: f}
	fs.mu.Unlock()
	return f, nil
}

// WriteFile routes ctl-inode writes to the control protocol; a regular
// write lands in the owning branch's delta, copying the resolved storage
// file into place first if this branch had no delta yet.
func (fs *FileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	if op.Inode == RootCtlInodeID {
		_, err := fs.handleCtlWrite(fs.currentBranch(), true, op.Data)
		return err
	}
	if branch, ok := fs.branchForCtlIno(op.Inode); ok {
		_, err := fs.handleCtlWrite(branch, false, op.Data)
		return err
	}

	if fs.isStale() {
		return syscall.ESTALE
	}
	path, ok := fs.inodes.GetPath(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	pc := Classify(path)
	if pc.Kind == KindBranchDir || pc.Kind == KindRoot {
		return syscall.EISDIR
	}
	branch := pc.Branch
	if pc.Kind == KindRootPath {
		branch = fs.currentBranch()
	}

	fs.invalidateReadCache(op.Inode)

	delta, err := fs.manager.EnsureCOW(branch, pc.Rel)
	if err != nil {
		return mapStorageErr(err)
	}

	epoch := fs.manager.GetEpoch()
	f, err := fs.writeDescriptor(op.Inode, epoch, delta)
	if err != nil {
		return mapStorageErr(err)
	}

	if _, err := f.WriteAt(op.Data, op.Offset); err != nil {
		return mapStorageErr(err)
	}
	return nil
}

func (fs *FileSystem) writeDescriptor(ino fuseops.InodeID, epoch uint64, delta string) (*os.File, error) {
	fs.mu.Lock()
	if fs.writeCache != nil && fs.writeCache.ino == ino && fs.writeCache.epoch == epoch {
		f := fs.writeCache.file
		fs.mu.Unlock()
		return f, nil
	}
	fs.mu.Unlock()

	f, err := os.OpenFile(delta, os.O_RDWR|os.O_CREATE, fs.fileMode)
	if err != nil {
		return nil, err
	}

	fs.mu.Lock()
	fs.writeCache.close()
	fs.writeCache = &cachedDescriptor{ino: ino, epoch: epoch, file: f}
	fs.mu.Unlock()
	return f, nil
}

// SyncFile flushes the cached write descriptor, if this inode has one.
func (fs *FileSystem) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	fs.mu.Lock()
	wc := fs.writeCache
	fs.mu.Unlock()
	if wc != nil && wc.ino == op.Inode && wc.file != nil {
		return mapStorageErr(wc.file.Sync())
	}
	return nil
}

// FlushFile behaves like a no-op: BranchFS keeps no buffered writes beyond
// the OS page cache, so there's nothing additional to flush.
func (fs *FileSystem) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}

// ReleaseFileHandle closes the descriptor CreateFile associated with the
// handle, if any. Handles minted by OpenFile carry no state of their own;
// descriptor lifetime for read/write is governed by the (ino, epoch)
// caches, not by the handle the kernel hands back.
func (fs *FileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	fs.handleMu.Lock()
	if f, ok := fs.fileHandles[op.Handle]; ok {
		f.Close()
		delete(fs.fileHandles, op.Handle)
	}
	fs.handleMu.Unlock()
	return nil
}

// Destroy closes whatever descriptors the view still caches; the kernel
// sends it once, at unmount.
func (fs *FileSystem) Destroy() {
	fs.mu.Lock()
	fs.readCache.close()
	fs.writeCache.close()
	fs.readCache = nil
	fs.writeCache = nil
	fs.mu.Unlock()

	fs.handleMu.Lock()
	for _, f := range fs.fileHandles {
		f.Close()
	}
	fs.fileHandles = make(map[fuseops.HandleID]*os.File)
	fs.handleMu.Unlock()
}
