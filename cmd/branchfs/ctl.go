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

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/multikernel/branchfs/internal/daemon"
)

// unmarshalData decodes resp.Data into out.
func unmarshalData(resp daemon.Response, out any) error {
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("branchfs: decode response data: %w", err)
	}
	return nil
}

// ctlPath is the well-known control file path within a mount, matching
// internal/core's handling of a write to the mount root's .branchfs_ctl.
func ctlPath(mountpoint string) string {
	return filepath.Join(mountpoint, ".branchfs_ctl")
}

// writeCtl writes cmd to mountpoint's control file, producing the same
// side effect a raw `echo cmd > mountpoint/.branchfs_ctl` would.
func writeCtl(mountpoint, cmd string) error {
	f, err := os.OpenFile(ctlPath(mountpoint), os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("branchfs: open control file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("branchfs: write control file: %w", err)
	}
	return nil
}

// currentBranchOf asks the daemon which branch mountpoint is presently on,
// by listing every active mount and matching by path; the daemon is the
// only place that bookkeeping lives.
func currentBranchOf(mountpoint string) (string, error) {
	resp, err := daemon.SendRequest(socketPath(), daemon.Request{Cmd: daemon.CmdList})
	if err != nil {
		return "", err
	}
	if !resp.Ok {
		return "", fmt.Errorf("branchfs: list mounts failed: %s", resp.Error)
	}

	var mounts []daemon.MountInfo
	if err := unmarshalData(resp, &mounts); err != nil {
		return "", err
	}
	for _, m := range mounts {
		if m.Mountpoint == mountpoint {
			return m.CurrentBranch, nil
		}
	}
	return "", fmt.Errorf("branchfs: %s is not a known mount", mountpoint)
}

// parentOf asks the daemon for mountpoint's branch tree and returns the
// direct parent of branch.
func parentOf(mountpoint, branch string) (string, error) {
	resp, err := daemon.SendRequest(socketPath(), daemon.Request{Cmd: daemon.CmdList, Mountpoint: mountpoint})
	if err != nil {
		return "", err
	}
	if !resp.Ok {
		return "", fmt.Errorf("branchfs: list branches failed: %s", resp.Error)
	}

	var branches []daemon.BranchInfo
	if err := unmarshalData(resp, &branches); err != nil {
		return "", err
	}
	for _, b := range branches {
		if b.Name == branch {
			if !b.HasParent {
				return "", fmt.Errorf("branchfs: %s has no parent", branch)
			}
			return b.Parent, nil
		}
	}
	return "", fmt.Errorf("branchfs: branch %s not found on %s", branch, mountpoint)
}

// notifySwitch tells the daemon mountpoint's view is now on branch, so it
// re-homes the kernel invalidation notifier.
func notifySwitch(mountpoint, branch string) error {
	resp, err := daemon.SendRequest(socketPath(), daemon.Request{
		Cmd:        daemon.CmdNotifySwitch,
		Mountpoint: mountpoint,
		Branch:     branch,
	})
	if err != nil {
		return err
	}
	if !resp.Ok {
		return fmt.Errorf("branchfs: notify_switch failed: %s", resp.Error)
	}
	return nil
}
