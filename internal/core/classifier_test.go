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
)

func TestClassify(t *testing.T) {
	cases := []struct {
		path string
		want PathContext
	}{
		{"/", PathContext{Kind: KindRoot}},
		{"/.branchfs_ctl", PathContext{Kind: KindRootCtl}},
		{"/file.txt", PathContext{Kind: KindRootPath, Rel: "/file.txt"}},
		{"/@feature", PathContext{Kind: KindBranchDir, Branch: "feature"}},
		{"/@feature/.branchfs_ctl", PathContext{Kind: KindBranchCtl, Branch: "feature"}},
		{"/@feature/dir/file.txt", PathContext{Kind: KindBranchPath, Branch: "feature", Rel: "/dir/file.txt"}},
		{"/@a/@b", PathContext{Kind: KindBranchDir, Branch: "b"}},
		{"/@a/@b/file.txt", PathContext{Kind: KindBranchPath, Branch: "b", Rel: "/file.txt"}},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.path), "path %q", c.path)
	}
}
