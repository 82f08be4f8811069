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
	"strings"
	"syscall"
)

// Ioctl command numbers, equivalent to writing "commit" / "abort" to the
// control file.
const (
	IoctlCommit = 0x4201
	IoctlAbort  = 0x4202
)

const switchPrefix = "switch:"

// handleCtlWrite parses and executes an ASCII command written to a control
// file (root or per-branch), and reports how many bytes were "written" (the
// full command, on success) plus the errno to return on failure. target is
// the branch the command operates on: the mount's current branch for the
// root ctl file, or the named branch for a /@<branch>/.branchfs_ctl write.
// switch is a root-ctl-only verb; anywhere else it is just a malformed
// command.
func (fs *FileSystem) handleCtlWrite(target string, isRootCtl bool, data []byte) (int, error) {
	cmd := strings.TrimSpace(string(data))
	lower := strings.ToLower(cmd)

	if strings.HasPrefix(lower, switchPrefix) {
		if !isRootCtl {
			return 0, syscall.EINVAL
		}
		newBranch := strings.TrimSpace(cmd[len(switchPrefix):])
		if newBranch == "" {
			return 0, syscall.EINVAL
		}
		if !fs.manager.IsBranchValid(newBranch) {
			return 0, syscall.ENOENT
		}
		fs.switchToBranch(newBranch)
		return len(data), nil
	}

	var parent string
	var err error
	switch lower {
	case "commit":
		parent, err = fs.manager.Commit(target)
	case "abort":
		parent, err = fs.manager.Abort(target)
	default:
		return 0, syscall.EINVAL
	}
	if err != nil {
		fs.logger.Warn("control command failed", "target", target, "cmd", lower, "error", err)
		return 0, toErrno(err)
	}

	fs.switchToBranch(parent)
	return len(data), nil
}

// handleIoctl executes the commit/abort ioctl command numbers against the
// mount's current branch, equivalent to a root-ctl write.
func (fs *FileSystem) handleIoctl(code uint32) error {
	var err error
	switch code {
	case IoctlCommit:
		var parent string
		parent, err = fs.manager.Commit(fs.currentBranch())
		if err == nil {
			fs.switchToBranch(parent)
		}
	case IoctlAbort:
		var parent string
		parent, err = fs.manager.Abort(fs.currentBranch())
		if err == nil {
			fs.switchToBranch(parent)
		}
	default:
		return syscall.ENOTTY
	}
	if err != nil {
		return toErrno(err)
	}
	return nil
}
