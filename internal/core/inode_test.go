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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInodeTableSeedsRoot(t *testing.T) {
	tbl := NewInodeTable()

	ino, ok := tbl.GetIno("/")
	require.True(t, ok)
	assert.Equal(t, RootInodeID, ino)
}

func TestInodeTableGetOrCreateIsIdempotent(t *testing.T) {
	tbl := NewInodeTable()

	first := tbl.GetOrCreate("/foo", false)
	second := tbl.GetOrCreate("/foo", false)
	assert.Equal(t, first, second)

	path, ok := tbl.GetPath(first)
	require.True(t, ok)
	assert.Equal(t, "/foo", path)
}

func TestInodeTableAllocationIsMonotonicAcrossRemove(t *testing.T) {
	tbl := NewInodeTable()

	a := tbl.GetOrCreate("/a", false)
	tbl.Remove("/a")
	b := tbl.GetOrCreate("/b", false)

	assert.Greater(t, b, a, "inode numbers must never be reused within a mount's lifetime")
}

func TestInodeTableClearPrefixDropsOnlyMatchingPaths(t *testing.T) {
	tbl := NewInodeTable()

	keep := tbl.GetOrCreate("/@main/file", false)
	drop := tbl.GetOrCreate("/@feature/file", false)

	tbl.ClearPrefix("/@feature")

	_, ok := tbl.GetInfo(drop)
	assert.False(t, ok)
	_, ok = tbl.GetInfo(keep)
	assert.True(t, ok)
}

func TestInodeTableClearResetsToRootOnly(t *testing.T) {
	tbl := NewInodeTable()
	tbl.GetOrCreate("/a", false)
	tbl.GetOrCreate("/b", true)

	tbl.Clear()

	_, ok := tbl.GetIno("/a")
	assert.False(t, ok)
	ino, ok := tbl.GetIno("/")
	require.True(t, ok)
	assert.Equal(t, RootInodeID, ino)
}
