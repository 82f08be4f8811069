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
	"errors"
	"syscall"
)

// Validation and structural errors returned by the branch manager. These are
// distinct from the syscall.Errno values returned by FileSystem methods: a
// Manager has no notion of "the VFS bridge", so it reports errors in its own
// vocabulary and leaves the errno mapping (see toErrno) to callers that sit
// above it.
var (
	ErrCannotOperateOnMain = errors.New("branchfs: operation not permitted on main")
	ErrBranchNotFound      = errors.New("branchfs: branch not found")
	ErrBranchExists        = errors.New("branchfs: branch already exists")
	ErrInvalidBranchName   = errors.New("branchfs: invalid branch name")
	ErrParentNotFound      = errors.New("branchfs: parent branch not found")
	ErrMountNotFound       = errors.New("branchfs: mount not found")
)

// toErrno maps a Manager-level error to an errno: an invalid name or an
// operation on main becomes EINVAL, an existing branch name EEXIST, "not
// found" is ENOENT, and anything else is treated as a storage failure (EIO).
func toErrno(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrBranchNotFound), errors.Is(err, ErrParentNotFound):
		return syscall.ENOENT
	case errors.Is(err, ErrBranchExists):
		return syscall.EEXIST
	case errors.Is(err, ErrInvalidBranchName), errors.Is(err, ErrCannotOperateOnMain):
		return syscall.EINVAL
	default:
		return syscall.EIO
	}
}
