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
	"sync"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingNotifier is a fake Notifier that records every invalidated inode,
// used in place of a real kernel connection.
type recordingNotifier struct {
	mu          sync.Mutex
	invalidated []fuseops.InodeID
}

func (r *recordingNotifier) InvalidateInode(ino fuseops.InodeID, offset, size int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, ino)
	return nil
}

func (r *recordingNotifier) seen(ino fuseops.InodeID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.invalidated {
		if i == ino {
			return true
		}
	}
	return false
}

func TestCommitInvalidatesEveryRegisteredMount(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.CreateBranch("feature", "main"))

	mainNotifier := &recordingNotifier{}
	featureNotifier := &recordingNotifier{}
	m.RegisterNotifier("main", "/mnt/a", mainNotifier)
	m.RegisterNotifier("feature", "/mnt/b", featureNotifier)

	_, err := m.Commit("feature")
	require.NoError(t, err)

	assert.True(t, mainNotifier.seen(RootInodeID), "a commit changes the base, every mount must be invalidated")
	assert.True(t, featureNotifier.seen(RootInodeID))
}

func TestAbortInvalidatesOnlyDiscardedBranches(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.CreateBranch("a", "main"))
	require.NoError(t, m.CreateBranch("b", "main"))

	aNotifier := &recordingNotifier{}
	bNotifier := &recordingNotifier{}
	m.RegisterNotifier("a", "/mnt/a", aNotifier)
	m.RegisterNotifier("b", "/mnt/b", bNotifier)

	_, err := m.Abort("a")
	require.NoError(t, err)

	assert.True(t, aNotifier.seen(RootInodeID))
	assert.False(t, bNotifier.seen(RootInodeID), "abort of a must not disturb b's mount")
}

func TestUnregisterNotifierStopsFutureInvalidation(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.CreateBranch("a", "main"))

	n := &recordingNotifier{}
	m.RegisterNotifier("a", "/mnt/a", n)
	m.UnregisterNotifier("a", "/mnt/a")

	_, err := m.Abort("a")
	require.NoError(t, err)

	assert.False(t, n.seen(RootInodeID))
}
