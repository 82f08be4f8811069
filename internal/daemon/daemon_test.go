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

package daemon

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multikernel/branchfs/internal/core"
)

func decodeResponseData(resp Response, out any) error {
	return json.Unmarshal(resp.Data, out)
}

func TestMountHashIsDeterministicAndPathSensitive(t *testing.T) {
	a := mountHash("/mnt/one")
	b := mountHash("/mnt/one")
	c := mountHash("/mnt/two")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

func TestNewWritesBasePathAndCleansOrphanedMounts(t *testing.T) {
	storage := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(storage, "mounts", "stale"), 0o755))

	d, err := New(Config{BasePath: "/srv/base", StoragePath: storage})
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(storage, "base_path"))
	require.NoError(t, err)
	assert.Equal(t, "/srv/base", string(raw))

	_, err = os.Stat(filepath.Join(storage, "mounts", "stale"))
	assert.True(t, os.IsNotExist(err), "New must clean up orphaned per-mount storage left by an unclean shutdown")

	assert.Equal(t, 0, d.MountCount())
}

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	d, err := New(Config{BasePath: t.TempDir(), StoragePath: t.TempDir()})
	require.NoError(t, err)
	return d
}

// registerFakeMount inserts a mountEntry directly, bypassing handleMount
// (which requires a real kernel FUSE connection neither available nor
// desirable in a unit test), so the daemon's protocol dispatch can be
// exercised on its own.
func registerFakeMount(t *testing.T, d *Daemon, mountpoint, branch string) {
	t.Helper()
	mgr, err := core.NewManager(core.ManagerConfig{StoragePath: t.TempDir(), BasePath: t.TempDir()})
	require.NoError(t, err)

	d.mu.Lock()
	d.mounts[mountpoint] = &mountEntry{
		id:            "test-id",
		mountpoint:    mountpoint,
		mountStorage:  t.TempDir(),
		manager:       mgr,
		currentBranch: branch,
	}
	d.mu.Unlock()
}

func TestHandleCreateAgainstRegisteredMount(t *testing.T) {
	d := newTestDaemon(t)
	registerFakeMount(t, d, "/mnt/a", "main")

	resp := d.handleRequest(&Request{Cmd: CmdCreate, Mountpoint: "/mnt/a", Name: "feature", Parent: "main"})
	assert.True(t, resp.Ok)

	resp = d.handleRequest(&Request{Cmd: CmdCreate, Mountpoint: "/mnt/a", Name: "feature", Parent: "main"})
	assert.False(t, resp.Ok, "creating the same branch twice must fail")
}

func TestHandleCreateUnknownMount(t *testing.T) {
	d := newTestDaemon(t)
	resp := d.handleRequest(&Request{Cmd: CmdCreate, Mountpoint: "/no/such/mount", Name: "x", Parent: "main"})
	assert.False(t, resp.Ok)
}

func TestHandleListAllMountsAndSingleMountBranchTree(t *testing.T) {
	d := newTestDaemon(t)
	registerFakeMount(t, d, "/mnt/a", "main")
	registerFakeMount(t, d, "/mnt/b", "feature")

	resp := d.handleRequest(&Request{Cmd: CmdList})
	require.True(t, resp.Ok)
	var mounts []MountInfo
	require.NoError(t, decodeResponseData(resp, &mounts))
	assert.Len(t, mounts, 2)

	resp = d.handleRequest(&Request{Cmd: CmdList, Mountpoint: "/mnt/a"})
	require.True(t, resp.Ok)
	var branches []BranchInfo
	require.NoError(t, decodeResponseData(resp, &branches))
	require.Len(t, branches, 1)
	assert.Equal(t, "main", branches[0].Name)
}

func TestHandleUnmountUnknownMount(t *testing.T) {
	d := newTestDaemon(t)
	resp := d.handleRequest(&Request{Cmd: CmdUnmount, Mountpoint: "/not/mounted"})
	assert.False(t, resp.Ok)
}

func TestHandleUnknownCommand(t *testing.T) {
	d := newTestDaemon(t)
	resp := d.handleRequest(&Request{Cmd: "bogus"})
	assert.False(t, resp.Ok)
}

func TestUnmountingLastMountShutsTheDaemonDown(t *testing.T) {
	d := newTestDaemon(t)
	registerFakeMount(t, d, "/mnt/only", "main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return IsRunning(d.SocketPath()) }, time.Second, 10*time.Millisecond)

	resp, err := SendRequest(d.SocketPath(), Request{Cmd: CmdUnmount, Mountpoint: "/mnt/only"})
	require.NoError(t, err)
	assert.True(t, resp.Ok)

	select {
	case runErr := <-done:
		assert.NoError(t, runErr)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the last mount was removed")
	}
}

func TestRunServesShutdownOverTheSocket(t *testing.T) {
	d := newTestDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return IsRunning(d.SocketPath()) }, time.Second, 10*time.Millisecond)

	resp, err := SendRequest(d.SocketPath(), Request{Cmd: CmdShutdown})
	require.NoError(t, err)
	assert.True(t, resp.Ok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after a shutdown request closed the listener")
	}
}
