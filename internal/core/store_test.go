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

func TestStoreAddTombstoneIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := newStore(dir, "feature", "main", true)
	require.NoError(t, err)

	require.NoError(t, s.AddTombstone("/a.txt"))
	require.NoError(t, s.AddTombstone("/a.txt"))

	assert.True(t, s.IsDeleted("/a.txt"))

	raw, err := os.ReadFile(filepath.Join(dir, "branches", "feature", "tombstones"))
	require.NoError(t, err)
	assert.Equal(t, "/a.txt\n", string(raw), "a duplicate AddTombstone must not append another log line")
}

func TestLoadStoreReplaysTombstoneLog(t *testing.T) {
	dir := t.TempDir()
	s, err := newStore(dir, "feature", "main", true)
	require.NoError(t, err)
	require.NoError(t, s.AddTombstone("/a.txt"))
	require.NoError(t, s.AddTombstone("/b.txt"))

	// Simulates a daemon restart against the same on-disk branch directory:
	// a fresh Store is built from the log s already wrote.
	loaded, err := loadStore(dir, "feature", "main", true)
	require.NoError(t, err)
	assert.True(t, loaded.IsDeleted("/a.txt"))
	assert.True(t, loaded.IsDeleted("/b.txt"))
	assert.False(t, loaded.IsDeleted("/c.txt"))
}

func TestStoreHasDeltaReflectsDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := newStore(dir, "feature", "main", true)
	require.NoError(t, err)

	assert.False(t, s.HasDelta("/new.txt"))

	require.NoError(t, os.MkdirAll(s.filesDir, 0o755))
	require.NoError(t, os.WriteFile(s.DeltaPath("/new.txt"), []byte("x"), 0o644))

	assert.True(t, s.HasDelta("/new.txt"))
}

func TestStoreDestroyIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := newStore(dir, "feature", "main", true)
	require.NoError(t, err)

	assert.NoError(t, s.Destroy())
	assert.NoError(t, s.Destroy())
}
