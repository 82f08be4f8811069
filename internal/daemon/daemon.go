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
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/multikernel/branchfs/internal/core"
	"github.com/multikernel/branchfs/internal/logger"
)

// mountEntry is the daemon's bookkeeping for one active mount: the
// filesystem objects backing it plus the daemon's own idea of which branch
// it is currently on (kept in sync by NotifySwitch).
type mountEntry struct {
	id            string
	mountpoint    string
	mountStorage  string
	manager       *core.Manager
	fs            *core.FileSystem
	mounted       *core.Mounted
	currentBranch string
}

// Config configures a Daemon.
type Config struct {
	BasePath    string
	StoragePath string
	Logger      *logger.Logger

	// FileMode/DirMode/Uid/Gid are applied to every mount's FileSystem, per
	// internal/config.Config.FileSystem.
	FileMode os.FileMode
	DirMode  os.FileMode
	Uid, Gid uint32
}

// Daemon is the long-lived process that owns one core.Manager and
// core.FileSystem per active mount and serves the line-delimited JSON
// control protocol over a Unix domain socket.
type Daemon struct {
	cfg        Config
	socketPath string
	logger     *logger.Logger

	mu       sync.Mutex
	mounts   map[string]*mountEntry // keyed by mountpoint
	listener net.Listener
}

// mountHash returns a deterministic, filesystem-safe name for mountpoint's
// per-mount storage directory.
func mountHash(mountpoint string) string {
	sum := sha256.Sum256([]byte(mountpoint))
	return hex.EncodeToString(sum[:])[:16]
}

// New constructs a Daemon rooted at cfg.StoragePath, cleaning up any
// orphaned mount storage directories left behind by a daemon that died
// uncleanly.
func New(cfg Config) (*Daemon, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		return nil, fmt.Errorf("branchfs: create storage dir: %w", err)
	}

	mountsDir := filepath.Join(cfg.StoragePath, "mounts")
	if err := os.RemoveAll(mountsDir); err != nil {
		cfg.Logger.Warn("daemon: failed to clean up orphaned mounts directory", "error", err)
	}

	baseFile := filepath.Join(cfg.StoragePath, "base_path")
	if err := os.WriteFile(baseFile, []byte(cfg.BasePath), 0o644); err != nil {
		return nil, fmt.Errorf("branchfs: write base_path: %w", err)
	}

	return &Daemon{
		cfg:        cfg,
		socketPath: filepath.Join(cfg.StoragePath, "daemon.sock"),
		logger:     cfg.Logger,
		mounts:     make(map[string]*mountEntry),
	}, nil
}

// SocketPath returns the Unix domain socket this daemon listens (or will
// listen) on.
func (d *Daemon) SocketPath() string {
	return d.socketPath
}

// Run binds the control socket and serves requests until ctx is canceled,
// a Shutdown request arrives, or the last active mount is unmounted.
func (d *Daemon) Run(ctx context.Context) error {
	if err := os.RemoveAll(d.socketPath); err != nil {
		return fmt.Errorf("branchfs: remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", d.socketPath)
	if err != nil {
		return fmt.Errorf("branchfs: listen on %s: %w", d.socketPath, err)
	}
	d.mu.Lock()
	d.listener = listener
	d.mu.Unlock()
	d.logger.Info("daemon listening", "socket", d.socketPath)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				// A Shutdown request closed the listener out from under us.
				return nil
			}
			d.logger.Error("daemon: accept error", "error", err)
			return err
		}
		go d.handleConn(conn)
	}
}

func (d *Daemon) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			d.writeResponse(conn, Failure(fmt.Sprintf("invalid request: %v", err)))
			continue
		}

		resp := d.handleRequest(&req)
		d.writeResponse(conn, resp)

		if req.Cmd == CmdShutdown {
			d.closeListener()
			return
		}
	}
}

// closeListener stops Run's accept loop. Safe to call more than once, and
// before Run has bound the socket (a no-op then).
func (d *Daemon) closeListener() {
	d.mu.Lock()
	l := d.listener
	d.mu.Unlock()
	if l != nil {
		l.Close()
	}
}

func (d *Daemon) writeResponse(conn net.Conn, resp Response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		d.logger.Error("daemon: marshal response", "error", err)
		return
	}
	raw = append(raw, '\n')
	if _, err := conn.Write(raw); err != nil {
		d.logger.Debug("daemon: write response", "error", err)
	}
}

func (d *Daemon) handleRequest(req *Request) Response {
	switch req.Cmd {
	case CmdMount:
		return d.handleMount(req)
	case CmdUnmount:
		return d.handleUnmount(req)
	case CmdCreate:
		return d.handleCreate(req)
	case CmdNotifySwitch:
		return d.handleNotifySwitch(req)
	case CmdList:
		return d.handleList(req)
	case CmdShutdown:
		d.logger.Info("shutdown requested")
		return Success()
	default:
		return Failure(fmt.Sprintf("unknown command %q", req.Cmd))
	}
}

func (d *Daemon) handleMount(req *Request) Response {
	if err := os.MkdirAll(req.Mountpoint, 0o755); err != nil {
		return Failure(fmt.Sprintf("create mountpoint: %v", err))
	}

	mountStorage := filepath.Join(d.cfg.StoragePath, "mounts", mountHash(req.Mountpoint))
	if err := os.MkdirAll(mountStorage, 0o755); err != nil {
		return Failure(fmt.Sprintf("create mount storage: %v", err))
	}

	mgrLogger := d.logger.With("mountpoint", req.Mountpoint)
	manager, err := core.NewManager(core.ManagerConfig{
		StoragePath: mountStorage,
		BasePath:    d.cfg.BasePath,
		Logger:      mgrLogger,
	})
	if err != nil {
		return Failure(fmt.Sprintf("create manager: %v", err))
	}

	branch := req.Branch
	if branch == "" {
		branch = "main"
	}

	umask := os.FileMode(unix.Umask(0))
	unix.Umask(int(umask))

	fsImpl := core.New(core.Config{
		Manager:    manager,
		Mountpoint: req.Mountpoint,
		Branch:     branch,
		Logger:     mgrLogger,
		Uid:        d.cfg.Uid,
		Gid:        d.cfg.Gid,
		FileMode:   d.cfg.FileMode,
		DirMode:    d.cfg.DirMode,
		Umask:      umask,
	})

	mounted, err := core.Mount(req.Mountpoint, fsImpl)
	if err != nil {
		return Failure(fmt.Sprintf("mount: %v", err))
	}

	entry := &mountEntry{
		id:            uuid.NewString(),
		mountpoint:    req.Mountpoint,
		mountStorage:  mountStorage,
		manager:       manager,
		fs:            fsImpl,
		mounted:       mounted,
		currentBranch: branch,
	}

	d.mu.Lock()
	d.mounts[req.Mountpoint] = entry
	d.mu.Unlock()

	d.logger.Info("mounted", "id", entry.id, "branch", branch, "mountpoint", req.Mountpoint)
	return Success()
}

func (d *Daemon) handleUnmount(req *Request) Response {
	d.mu.Lock()
	entry, ok := d.mounts[req.Mountpoint]
	if ok {
		delete(d.mounts, req.Mountpoint)
	}
	remaining := len(d.mounts)
	d.mu.Unlock()

	if !ok {
		return Failure(fmt.Sprintf("mount not found: %s", req.Mountpoint))
	}

	// A mount left on a non-main branch is discarded on teardown.
	if entry.currentBranch != "main" {
		if err := entry.manager.AbortSingle(entry.currentBranch); err != nil {
			d.logger.Warn("unmount: abort_single failed", "branch", entry.currentBranch, "error", err)
		}
	}

	if entry.mounted != nil {
		if err := entry.mounted.Unmount(context.Background(), entry.manager); err != nil {
			d.logger.Warn("unmount: kernel unmount failed", "mountpoint", req.Mountpoint, "error", err)
		}
	}

	if err := os.RemoveAll(entry.mountStorage); err != nil {
		d.logger.Warn("unmount: failed to clean up mount storage", "path", entry.mountStorage, "error", err)
	} else {
		d.logger.Info("unmounted, cleaned up mount storage", "mountpoint", req.Mountpoint)
	}

	// Removing the last mount shuts the daemon down: closing the listener
	// breaks Run's accept loop the same way a Shutdown request does.
	// Already-accepted connections are unaffected, so the reply to this
	// request still reaches the client.
	if remaining == 0 {
		d.logger.Info("all mounts removed, shutting down")
		d.closeListener()
	}
	return Success()
}

func (d *Daemon) handleCreate(req *Request) Response {
	entry, ok := d.lookup(req.Mountpoint)
	if !ok {
		return Failure(fmt.Sprintf("mount not found: %s", req.Mountpoint))
	}
	if err := entry.manager.CreateBranch(req.Name, req.Parent); err != nil {
		return Failure(err.Error())
	}
	return Success()
}

// handleNotifySwitch keeps the daemon's record of a mount's current branch
// in sync with a commit/abort/switch performed directly against the
// mount's control file, and re-homes the kernel notifier onto the new
// branch name: unregister under the old branch, update the record,
// register under the new one.
func (d *Daemon) handleNotifySwitch(req *Request) Response {
	d.mu.Lock()
	entry, ok := d.mounts[req.Mountpoint]
	if !ok {
		d.mu.Unlock()
		return Failure(fmt.Sprintf("mount not found: %s", req.Mountpoint))
	}

	old := entry.currentBranch
	entry.manager.UnregisterNotifier(old, entry.mountpoint)
	entry.currentBranch = req.Branch
	entry.manager.RegisterNotifier(req.Branch, entry.mountpoint, entry.mounted.Notifier)
	d.mu.Unlock()

	d.logger.Info("mount switched branch", "mountpoint", req.Mountpoint, "from", old, "to", req.Branch)
	return Success()
}

// handleList answers two shapes of query: with no mountpoint, it lists every
// active mount (id, mountpoint, current branch); with a mountpoint, it lists
// that mount's branch tree. The CLI uses the first to learn a mount's
// current branch before a commit/abort (neither carries a branch argument of
// their own), and the second to resolve that branch's parent.
func (d *Daemon) handleList(req *Request) Response {
	if req.Mountpoint == "" {
		d.mu.Lock()
		out := make([]MountInfo, 0, len(d.mounts))
		for _, e := range d.mounts {
			out = append(out, MountInfo{ID: e.id, Mountpoint: e.mountpoint, CurrentBranch: e.currentBranch})
		}
		d.mu.Unlock()

		resp, err := SuccessWithData(out)
		if err != nil {
			return Failure(err.Error())
		}
		return resp
	}

	entry, ok := d.lookup(req.Mountpoint)
	if !ok {
		return Failure(fmt.Sprintf("mount not found: %s", req.Mountpoint))
	}

	descs := entry.manager.ListBranches()
	out := make([]BranchInfo, 0, len(descs))
	for _, b := range descs {
		out = append(out, BranchInfo{Name: b.Name, Parent: b.Parent, HasParent: b.HasParent})
	}

	resp, err := SuccessWithData(out)
	if err != nil {
		return Failure(err.Error())
	}
	return resp
}

func (d *Daemon) lookup(mountpoint string) (*mountEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.mounts[mountpoint]
	return e, ok
}

// MountCount returns the number of mounts currently registered.
func (d *Daemon) MountCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mounts)
}
