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

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/require"
)

// writeDeltaFile creates an empty file at branch's delta location for rel,
// creating parent directories as needed.
func writeDeltaFile(t *testing.T, m *Manager, branch, rel string) {
	t.Helper()
	path := m.branches[branch].DeltaPath(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func writeBaseFile(t *testing.T, base, rel string) {
	t.Helper()
	path := filepath.Join(base, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

// assertSameListing fails with a readable diff rather than a raw map dump
// when got and want disagree.
func assertSameListing(t *testing.T, want, got map[string]bool) {
	t.Helper()
	if diff := pretty.Compare(want, got); diff != "" {
		t.Fatalf("directory listing mismatch (-want +got):\n%s", diff)
	}
}

func TestListUnionMergesBaseAndBranchDeltas(t *testing.T) {
	m, base := newTestManager(t)
	writeBaseFile(t, base, "/a.txt")
	writeBaseFile(t, base, "/b.txt")

	require.NoError(t, m.CreateBranch("feature", "main"))
	writeDeltaFile(t, m, "feature", "/c.txt")

	got, err := m.ListUnion("feature", "/")
	require.NoError(t, err)
	assertSameListing(t, map[string]bool{"a.txt": false, "b.txt": false, "c.txt": false}, got)
}

func TestListUnionChildShadowsParentEntry(t *testing.T) {
	m, base := newTestManager(t)
	writeBaseFile(t, base, "/shared.txt")

	require.NoError(t, m.CreateBranch("feature", "main"))
	writeDeltaFile(t, m, "feature", "/shared.txt") // shadows base, same name

	got, err := m.ListUnion("feature", "/")
	require.NoError(t, err)
	assertSameListing(t, map[string]bool{"shared.txt": false}, got)
}

func TestListUnionHonorsTombstone(t *testing.T) {
	m, base := newTestManager(t)
	writeBaseFile(t, base, "/gone.txt")
	writeBaseFile(t, base, "/stays.txt")

	require.NoError(t, m.CreateBranch("feature", "main"))
	require.NoError(t, m.branches["feature"].AddTombstone("/gone.txt"))

	got, err := m.ListUnion("feature", "/")
	require.NoError(t, err)
	assertSameListing(t, map[string]bool{"stays.txt": false}, got)
}

func TestListUnionWalksGrandparentChain(t *testing.T) {
	m, base := newTestManager(t)
	writeBaseFile(t, base, "/root.txt")

	require.NoError(t, m.CreateBranch("parent", "main"))
	writeDeltaFile(t, m, "parent", "/parent.txt")

	require.NoError(t, m.CreateBranch("child", "parent"))
	writeDeltaFile(t, m, "child", "/child.txt")

	got, err := m.ListUnion("child", "/")
	require.NoError(t, err)
	assertSameListing(t, map[string]bool{
		"root.txt":   false,
		"parent.txt": false,
		"child.txt":  false,
	}, got)
}
