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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/timeutil"

	"github.com/multikernel/branchfs/internal/logger"
)

// mainBranch is the name of the distinguished root of the branch tree. It
// can never be created, committed, or aborted.
const mainBranch = "main"

// BranchDescriptor is the public, read-only view of a branch tree node
// returned by ListBranches.
type BranchDescriptor struct {
	Name      string
	Parent    string
	HasParent bool
}

type notifierKey struct {
	branch     string
	mountpoint string
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// StoragePath is the root directory under which branches/<name>/ live.
	StoragePath string
	// BasePath is the immutable directory tree branches overlay.
	BasePath string
	// Clock is consulted for anything the manager itself time-stamps. Tests
	// inject a simulated clock; production uses timeutil.RealClock().
	Clock timeutil.Clock
	// Logger receives invalidation-error and lifecycle log lines. May be nil,
	// in which case a no-op logger is used.
	Logger *logger.Logger
}

// Manager is the branch tree: the set of branches known to a mount's
// daemon process, the path-resolution walk, and the commit/abort state
// transitions. The daemon constructs one Manager per mountpoint, though
// nothing here prevents reuse by multiple FileSystem views of the same
// branch set.
//
// The branch tree needs genuine concurrent readers (resolve/lookup/readdir
// all take the read side while commit/abort/create_branch take the write
// side), so it is guarded by a sync.RWMutex with an explicit
// checkInvariants call on the CreateBranch, Commit and Abort unlocks
// (AbortSingle, which may leave children without a parent, skips it).
type Manager struct {
	storagePath string
	basePath    string
	clock       timeutil.Clock
	logger      *logger.Logger

	mu       sync.RWMutex
	branches map[string]*Store
	epoch    uint64

	notifMu      sync.Mutex
	notifiers    map[notifierKey]Notifier
	openedInodes map[string]map[fuseops.InodeID]struct{}
}

// Notifier is the subset of *fuse.Notifier the manager needs. Abstracted so
// tests can inject a recording fake instead of a real kernel connection.
type Notifier interface {
	InvalidateInode(ino fuseops.InodeID, offset, size int64) error
}

// NewManager constructs a Manager rooted at cfg.StoragePath, recreating the
// main branch if this is a fresh mount.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}

	m := &Manager{
		storagePath:  cfg.StoragePath,
		basePath:     cfg.BasePath,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		branches:     make(map[string]*Store),
		notifiers:    make(map[notifierKey]Notifier),
		openedInodes: make(map[string]map[fuseops.InodeID]struct{}),
	}

	if err := m.loadOrInit(); err != nil {
		return nil, err
	}
	return m, nil
}

// loadOrInit rehydrates any branch directories already present under
// storagePath/branches (a daemon restart against the same storage), or
// creates a fresh main if none exist.
func (m *Manager) loadOrInit() error {
	branchesDir := filepath.Join(m.storagePath, "branches")
	entries, err := os.ReadDir(branchesDir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("branchfs: scan branch directory: %w", err)
	}

	if len(entries) == 0 {
		main, err := newStore(m.storagePath, mainBranch, "", false)
		if err != nil {
			return err
		}
		m.branches[mainBranch] = main
		return nil
	}

	// Parent linkage is kept in memory only, so a restart against
	// populated storage loses inter-branch parent edges. Only main, which has none, survives
	// faithfully; everything else is dropped and its directory reclaimed,
	// the same way the daemon treats any other orphaned mount storage.
	for _, e := range entries {
		if e.Name() == mainBranch {
			continue
		}
		_ = os.RemoveAll(filepath.Join(branchesDir, e.Name()))
	}
	main, err := loadStore(m.storagePath, mainBranch, "", false)
	if err != nil {
		main, err = newStore(m.storagePath, mainBranch, "", false)
		if err != nil {
			return err
		}
	}
	m.branches[mainBranch] = main
	return nil
}

func (m *Manager) checkInvariants() {
	if _, ok := m.branches[mainBranch]; !ok {
		panic("branchfs: branch set missing main")
	}
	for name, s := range m.branches {
		if name == mainBranch {
			continue
		}
		if !s.hasParent {
			panic(fmt.Sprintf("branchfs: non-main branch %q has no parent", name))
		}
		if _, ok := m.branches[s.parent]; !ok {
			panic(fmt.Sprintf("branchfs: branch %q names missing parent %q", name, s.parent))
		}
	}
}

// ValidateBranchName rejects names that are empty, ".", "..", longer than
// 255 bytes, contain '/' or NUL, or start with '@'.
func ValidateBranchName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidBranchName
	}
	if len(name) > 255 {
		return ErrInvalidBranchName
	}
	if name[0] == '@' {
		return ErrInvalidBranchName
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == 0 {
			return ErrInvalidBranchName
		}
	}
	return nil
}

// CreateBranch adds a new branch named name with the given parent, which
// must already exist.
func (m *Manager) CreateBranch(name, parent string) error {
	if err := ValidateBranchName(name); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.branches[name]; exists {
		return ErrBranchExists
	}
	if _, ok := m.branches[parent]; !ok {
		return ErrParentNotFound
	}

	s, err := newStore(m.storagePath, name, parent, true)
	if err != nil {
		return err
	}
	m.branches[name] = s
	m.checkInvariants()
	return nil
}

// IsBranchValid reports whether name is currently a member of the branch
// set (main always is).
func (m *Manager) IsBranchValid(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.branches[name]
	return ok
}

// GetEpoch returns the manager's current epoch.
func (m *Manager) GetEpoch() uint64 {
	return atomic.LoadUint64(&m.epoch)
}

// ListBranches returns a snapshot of every branch currently in the tree.
func (m *Manager) ListBranches() []BranchDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]BranchDescriptor, 0, len(m.branches))
	for name, s := range m.branches {
		out = append(out, BranchDescriptor{Name: name, Parent: s.parent, HasParent: s.hasParent})
	}
	return out
}

// GetChildren lists the immediate children of parent.
func (m *Manager) GetChildren(parent string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var children []string
	for name, s := range m.branches {
		if s.hasParent && s.parent == parent {
			children = append(children, name)
		}
	}
	return children
}

// parentOf returns the direct parent name of branch, treating main as its
// own implicit parent boundary (a direct child of main reports "main").
// Callers hold m.mu in some mode.
func (m *Manager) parentOf(branch string) (string, error) {
	s, ok := m.branches[branch]
	if !ok {
		return "", ErrBranchNotFound
	}
	if !s.hasParent {
		return "", ErrCannotOperateOnMain
	}
	return s.parent, nil
}

// chainFrom walks branch up through (but not including) main, returning the
// names in child-first order. Callers hold m.mu in some mode.
func (m *Manager) chainFrom(branch string) ([]string, error) {
	var chain []string
	cur := branch
	for cur != mainBranch {
		s, ok := m.branches[cur]
		if !ok {
			return nil, ErrBranchNotFound
		}
		chain = append(chain, cur)
		if s.hasParent {
			cur = s.parent
		} else {
			cur = mainBranch
		}
	}
	return chain, nil
}

// ResolvePath walks from branch toward main, honoring tombstones and
// deltas, and falls back to the base directory. It reports (path, true) if
// the virtual path resolves to something, or ("", false) if it resolves to
// "absent".
func (m *Manager) ResolvePath(branch, rel string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resolveLocked(branch, rel)
}

func (m *Manager) resolveLocked(branch, rel string) (string, bool, error) {
	cur := branch
	for {
		s, ok := m.branches[cur]
		if !ok {
			return "", false, ErrBranchNotFound
		}
		if s.IsDeleted(rel) {
			return "", false, nil
		}
		if s.HasDelta(rel) {
			return s.DeltaPath(rel), true, nil
		}
		if cur == mainBranch {
			break
		}
		if s.hasParent {
			cur = s.parent
		} else {
			cur = mainBranch
		}
	}

	basePath := filepath.Join(m.basePath, filepath.FromSlash(rel))
	if _, err := os.Stat(basePath); err == nil {
		return basePath, true, nil
	}
	return "", false, nil
}

// Commit materializes branch's chain (up through but not including main)
// into the base and resets the branch set to a fresh main. It returns the
// parent of branch (the view's switch target).
func (m *Manager) Commit(branch string) (string, error) {
	if branch == mainBranch {
		return "", ErrCannotOperateOnMain
	}

	m.mu.Lock()

	parent, err := m.parentOf(branch)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}

	chain, err := m.chainFrom(branch)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}

	deletions := make(map[string]struct{})
	seen := make(map[string]struct{})
	type change struct{ rel, abs string }
	var changes []change

	for _, name := range chain {
		s := m.branches[name]
		for rel := range s.GetTombstones() {
			deletions[rel] = struct{}{}
		}
		err := walkFiles(s.filesDir, "", func(rel, abs string) error {
			if _, dup := seen[rel]; dup {
				return nil
			}
			if _, deleted := deletions[rel]; deleted {
				return nil
			}
			seen[rel] = struct{}{}
			changes = append(changes, change{rel: rel, abs: abs})
			return nil
		})
		if err != nil {
			m.mu.Unlock()
			return "", fmt.Errorf("branchfs: walk deltas for %q: %w", name, err)
		}
	}

	for rel := range deletions {
		target := filepath.Join(m.basePath, filepath.FromSlash(rel))
		if err := os.RemoveAll(target); err != nil {
			m.mu.Unlock()
			return "", fmt.Errorf("branchfs: apply deletion %q: %w", rel, err)
		}
	}
	for _, c := range changes {
		target := filepath.Join(m.basePath, filepath.FromSlash(c.rel))
		if err := copyFile(c.abs, target); err != nil {
			m.mu.Unlock()
			return "", fmt.Errorf("branchfs: materialize %q: %w", c.rel, err)
		}
	}

	for name, s := range m.branches {
		if name == mainBranch {
			continue
		}
		if err := s.Destroy(); err != nil {
			m.logger.Warn("commit: failed to remove discarded branch directory", "branch", name, "error", err)
		}
	}
	fresh, err := newStore(m.storagePath, mainBranch, "", false)
	if err != nil {
		m.mu.Unlock()
		return "", fmt.Errorf("branchfs: recreate main: %w", err)
	}
	m.branches = map[string]*Store{mainBranch: fresh}
	atomic.AddUint64(&m.epoch, 1)
	m.checkInvariants()

	m.mu.Unlock()

	// Invalidation runs after the lock is released: notifier callbacks may
	// re-enter operations that need it.
	m.invalidateAllMounts()

	return parent, nil
}

// Abort discards branch, every ancestor in its chain toward main (excluding
// main itself), and every branch descended from those, without touching the
// base or the epoch.
func (m *Manager) Abort(branch string) (string, error) {
	if branch == mainBranch {
		return "", ErrCannotOperateOnMain
	}

	m.mu.Lock()

	parent, err := m.parentOf(branch)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}

	chain, err := m.chainFrom(branch)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}

	// Children of a discarded branch would be left naming a missing parent,
	// so every branch below the chain is discarded with it.
	removed := make(map[string]struct{}, len(chain))
	for _, name := range chain {
		removed[name] = struct{}{}
	}
	for grew := true; grew; {
		grew = false
		for name, s := range m.branches {
			if _, gone := removed[name]; gone || !s.hasParent {
				continue
			}
			if _, parentGone := removed[s.parent]; parentGone {
				removed[name] = struct{}{}
				chain = append(chain, name)
				grew = true
			}
		}
	}

	for _, name := range chain {
		s := m.branches[name]
		if err := s.Destroy(); err != nil {
			m.logger.Warn("abort: failed to remove branch directory", "branch", name, "error", err)
		}
		delete(m.branches, name)
	}
	m.checkInvariants()

	m.mu.Unlock()

	m.invalidateBranches(chain)
	return parent, nil
}

// AbortSingle removes exactly one branch, with no effect on its children
// (if any exist, they're left referencing a now-absent parent, which is
// the same situation any concurrent read of an in-flight abort chain can
// produce; the staleness protocol is what protects readers, not tree
// shape). No-op if branch is main or already absent. Used when a mount is
// torn down for a non-main branch.
func (m *Manager) AbortSingle(branch string) error {
	if branch == mainBranch {
		return nil
	}

	m.mu.Lock()
	s, ok := m.branches[branch]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if err := s.Destroy(); err != nil {
		m.logger.Warn("abort_single: failed to remove branch directory", "branch", branch, "error", err)
	}
	delete(m.branches, branch)
	m.mu.Unlock()

	m.invalidateBranches([]string{branch})
	return nil
}

// BasePath returns the immutable base directory this manager overlays.
func (m *Manager) BasePath() string {
	return m.basePath
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
