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

import "github.com/jacobsa/fuse/fuseops"

// RegisterNotifier associates a kernel notifier handle with (branch,
// mountpoint). Call on mount activation.
func (m *Manager) RegisterNotifier(branch, mountpoint string, n Notifier) {
	m.notifMu.Lock()
	defer m.notifMu.Unlock()
	m.notifiers[notifierKey{branch, mountpoint}] = n
}

// UnregisterNotifier drops the handle registered for (branch, mountpoint).
// Call on mount teardown.
func (m *Manager) UnregisterNotifier(branch, mountpoint string) {
	m.notifMu.Lock()
	defer m.notifMu.Unlock()
	delete(m.notifiers, notifierKey{branch, mountpoint})
}

// RegisterOpenedInode records that ino has been opened while the mount's
// view was on branch, so a subsequent invalidation of that branch also
// targets the specific inode the kernel may have cached.
func (m *Manager) RegisterOpenedInode(branch string, ino fuseops.InodeID) {
	m.notifMu.Lock()
	defer m.notifMu.Unlock()
	set, ok := m.openedInodes[branch]
	if !ok {
		set = make(map[fuseops.InodeID]struct{})
		m.openedInodes[branch] = set
	}
	set[ino] = struct{}{}
}

// invalidateAllMounts invalidates the root inode and every opened inode on
// every registered (branch, mountpoint), used after a commit since a commit
// changes the global base and every mount must drop its caches.
func (m *Manager) invalidateAllMounts() {
	m.notifMu.Lock()
	defer m.notifMu.Unlock()

	for key, n := range m.notifiers {
		m.invalidateOneLocked(key, n)
	}
}

// invalidateBranches invalidates only the notifiers whose branch is in
// names, used after an abort since only the discarded sub-forest is
// affected.
func (m *Manager) invalidateBranches(names []string) {
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}

	m.notifMu.Lock()
	defer m.notifMu.Unlock()

	for key, n := range m.notifiers {
		if _, ok := wanted[key.branch]; !ok {
			continue
		}
		m.invalidateOneLocked(key, n)
	}
}

// invalidateOneLocked invalidates the root inode and every inode opened
// under key.branch. Called with notifMu held; invalidation errors are
// logged and swallowed, never returned, since a stale kernel cache does
// not compromise correctness (the view will observe staleness on the next
// attribute fetch).
func (m *Manager) invalidateOneLocked(key notifierKey, n Notifier) {
	if err := n.InvalidateInode(RootInodeID, 0, 0); err != nil {
		m.logger.Debug("invalidate: root inode", "branch", key.branch, "mountpoint", key.mountpoint, "error", err)
	}
	for ino := range m.openedInodes[key.branch] {
		if err := n.InvalidateInode(ino, 0, 0); err != nil {
			m.logger.Debug("invalidate: inode", "branch", key.branch, "ino", ino, "error", err)
		}
	}
	m.logger.Info("invalidated mount", "branch", key.branch, "mountpoint", key.mountpoint)
}
