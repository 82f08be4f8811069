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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	base := t.TempDir()
	storage := t.TempDir()
	m, err := NewManager(ManagerConfig{StoragePath: storage, BasePath: base})
	require.NoError(t, err)
	return m, base
}

func TestNewManagerStartsOnMainOnly(t *testing.T) {
	m, _ := newTestManager(t)

	assert.True(t, m.IsBranchValid("main"))
	assert.False(t, m.IsBranchValid("feature"))
	assert.Equal(t, uint64(0), m.GetEpoch())
}

func TestCreateBranchRejectsBadNames(t *testing.T) {
	m, _ := newTestManager(t)

	cases := []string{"", ".", "..", "has/slash", "@leading", string(make([]byte, 256))}
	for _, name := range cases {
		err := m.CreateBranch(name, "main")
		assert.ErrorIsf(t, err, ErrInvalidBranchName, "name %q", name)
	}
}

func TestCreateBranchRequiresExistingParent(t *testing.T) {
	m, _ := newTestManager(t)

	err := m.CreateBranch("feature", "no-such-parent")
	assert.ErrorIs(t, err, ErrParentNotFound)
}

func TestCreateBranchRejectsDuplicate(t *testing.T) {
	m, _ := newTestManager(t)

	require.NoError(t, m.CreateBranch("feature", "main"))
	err := m.CreateBranch("feature", "main")
	assert.ErrorIs(t, err, ErrBranchExists)
}

func TestCreateBranchBuildsAChain(t *testing.T) {
	m, _ := newTestManager(t)

	require.NoError(t, m.CreateBranch("a", "main"))
	require.NoError(t, m.CreateBranch("b", "a"))
	require.NoError(t, m.CreateBranch("c", "b"))

	assert.ElementsMatch(t, []string{"a"}, m.GetChildren("main"))
	assert.ElementsMatch(t, []string{"b"}, m.GetChildren("a"))
	assert.ElementsMatch(t, []string{"c"}, m.GetChildren("b"))
}

func TestResolvePathFallsBackToBase(t *testing.T) {
	m, base := newTestManager(t)

	require.NoError(t, os.WriteFile(filepath.Join(base, "file.txt"), []byte("base"), 0o644))

	path, ok, err := m.ResolvePath("main", "/file.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(base, "file.txt"), path)
}

func TestResolvePathHonorsTombstoneOverBase(t *testing.T) {
	m, base := newTestManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(base, "file.txt"), []byte("base"), 0o644))

	require.NoError(t, m.CreateBranch("feature", "main"))
	store := m.branches["feature"]
	require.NoError(t, store.AddTombstone("/file.txt"))

	_, ok, err := m.ResolvePath("feature", "/file.txt")
	require.NoError(t, err)
	assert.False(t, ok, "tombstoned path must resolve as absent even though the base still has it")
}

func TestResolvePathPrefersNearerDelta(t *testing.T) {
	m, base := newTestManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(base, "file.txt"), []byte("base"), 0o644))

	require.NoError(t, m.CreateBranch("a", "main"))
	require.NoError(t, m.CreateBranch("b", "a"))

	aStore := m.branches["a"]
	require.NoError(t, os.MkdirAll(aStore.filesDir, 0o755))
	require.NoError(t, os.WriteFile(aStore.DeltaPath("/file.txt"), []byte("from-a"), 0o644))

	path, ok, err := m.ResolvePath("b", "/file.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, aStore.DeltaPath("/file.txt"), path)
}

func TestCommitMaterializesChainIntoBaseAndResetsTree(t *testing.T) {
	m, base := newTestManager(t)

	require.NoError(t, m.CreateBranch("feature", "main"))
	store := m.branches["feature"]
	require.NoError(t, os.MkdirAll(store.filesDir, 0o755))
	require.NoError(t, os.WriteFile(store.DeltaPath("/new.txt"), []byte("hello"), 0o644))

	epochBefore := m.GetEpoch()
	parent, err := m.Commit("feature")
	require.NoError(t, err)
	assert.Equal(t, "main", parent)
	assert.Equal(t, epochBefore+1, m.GetEpoch())

	contents, err := os.ReadFile(filepath.Join(base, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(contents))

	assert.False(t, m.IsBranchValid("feature"))
	assert.True(t, m.IsBranchValid("main"))
}

func TestCommitRejectsMain(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Commit("main")
	assert.ErrorIs(t, err, ErrCannotOperateOnMain)
}

func TestAbortDiscardsChainWithoutTouchingBaseOrEpoch(t *testing.T) {
	m, base := newTestManager(t)

	require.NoError(t, m.CreateBranch("feature", "main"))
	store := m.branches["feature"]
	require.NoError(t, os.MkdirAll(store.filesDir, 0o755))
	require.NoError(t, os.WriteFile(store.DeltaPath("/scratch.txt"), []byte("discard-me"), 0o644))

	epochBefore := m.GetEpoch()
	parent, err := m.Abort("feature")
	require.NoError(t, err)
	assert.Equal(t, "main", parent)
	assert.Equal(t, epochBefore, m.GetEpoch(), "abort must not bump the epoch")

	assert.False(t, m.IsBranchValid("feature"))
	_, err = os.Stat(filepath.Join(base, "scratch.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestAbortDiscardsEntireDescendantChain(t *testing.T) {
	m, _ := newTestManager(t)

	require.NoError(t, m.CreateBranch("a", "main"))
	require.NoError(t, m.CreateBranch("b", "a"))
	require.NoError(t, m.CreateBranch("c", "b"))

	parent, err := m.Abort("b")
	require.NoError(t, err)
	assert.Equal(t, "a", parent)

	assert.False(t, m.IsBranchValid("b"))
	assert.False(t, m.IsBranchValid("c"))
	assert.False(t, m.IsBranchValid("a"), "abort discards the whole chain toward main")
}

func TestAbortSingleIsNoopOnMainAndOnMissingBranch(t *testing.T) {
	m, _ := newTestManager(t)

	assert.NoError(t, m.AbortSingle("main"))
	assert.NoError(t, m.AbortSingle("never-existed"))
}
