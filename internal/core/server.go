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
	"fmt"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
)

// Mounted bundles what Mount hands back: the live kernel mount, and the
// notifier the Manager now drives for this (branch, mountpoint) pair, so
// the daemon can unregister and unmount cleanly.
type Mounted struct {
	FS         *fuse.MountedFileSystem
	Notifier   *fuse.Notifier
	Mountpoint string
	Branch     string
}

// Mount brings up the FUSE server for fsImpl and registers its notifier
// with the manager so that commit/abort invalidation reaches this mount.
func Mount(mountpoint string, fsImpl *FileSystem) (*Mounted, error) {
	notifier := fuse.NewNotifier()
	server := fuse.NewServerWithNotifier(notifier, fuseutil.NewFileSystemServer(fsImpl))

	cfg := &fuse.MountConfig{
		FSName:  "branchfs",
		Subtype: "branchfs",
	}

	mfs, err := fuse.Mount(mountpoint, server, cfg)
	if err != nil {
		return nil, fmt.Errorf("branchfs: mount %s: %w", mountpoint, err)
	}

	branch := fsImpl.currentBranch()
	fsImpl.manager.RegisterNotifier(branch, mountpoint, notifier)

	return &Mounted{FS: mfs, Notifier: notifier, Mountpoint: mountpoint, Branch: branch}, nil
}

// Unmount unregisters the notifier and asks the kernel to tear the mount
// down, blocking until the serve loop drains. Discarding a never-committed
// branch (AbortSingle) is the daemon's call to make, not this one's: the
// daemon knows which branch the view ended up on.
func (m *Mounted) Unmount(ctx context.Context, mgr *Manager) error {
	mgr.UnregisterNotifier(m.Branch, m.Mountpoint)
	if err := fuse.Unmount(m.Mountpoint); err != nil {
		return fmt.Errorf("branchfs: unmount %s: %w", m.Mountpoint, err)
	}
	return m.FS.Join(ctx)
}
