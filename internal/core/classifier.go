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

import "strings"

// CtlName is the basename of the synthetic control file, valid at the mount
// root and at the root of every branch-virtual directory.
const CtlName = ".branchfs_ctl"

// PathKind enumerates the six categories a virtual path classifies into.
type PathKind int

const (
	KindRoot PathKind = iota
	KindRootCtl
	KindBranchDir
	KindBranchCtl
	KindBranchPath
	KindRootPath
)

// PathContext is the result of classifying a virtual path: which kind it
// is, and (for the branch-scoped kinds) which branch and relative path.
type PathContext struct {
	Kind   PathKind
	Branch string // set for KindBranchDir, KindBranchCtl, KindBranchPath
	Rel    string // set for KindBranchPath (branch-relative) and KindRootPath
}

// Classify maps a virtual path to its category.
// Nested "/@child" sequences are followed by recursion, so "/@a/@b/x" is
// equivalent to "/@b/x".
func Classify(path string) PathContext {
	if path == "/" {
		return PathContext{Kind: KindRoot}
	}
	if path == "/"+CtlName {
		return PathContext{Kind: KindRootCtl}
	}
	if !strings.HasPrefix(path, "/@") {
		return PathContext{Kind: KindRootPath, Rel: path}
	}

	rest := path[2:] // drop "/@"
	idx := strings.IndexByte(rest, '/')
	var name, tail string
	if idx < 0 {
		name, tail = rest, ""
	} else {
		name, tail = rest[:idx], rest[idx:]
	}

	switch {
	case tail == "":
		return PathContext{Kind: KindBranchDir, Branch: name}
	case tail == "/"+CtlName:
		return PathContext{Kind: KindBranchCtl, Branch: name}
	case strings.HasPrefix(tail, "/@"):
		inner := Classify(tail)
		return inner
	default:
		return PathContext{Kind: KindBranchPath, Branch: name, Rel: tail}
	}
}
