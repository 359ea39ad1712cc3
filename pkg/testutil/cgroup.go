// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package testutil

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ebpf-bandwidth/agent/pkg/ratelimit"
	"golang.org/x/sys/unix"
)

// CgroupRoot is where the unified cgroup hierarchy is mounted.
const CgroupRoot = "/sys/fs/cgroup"

// procsMu serializes moves of the test process between cgroups
var procsMu sync.Mutex

// TestCgroup is a throwaway cgroup v2 directory.
type TestCgroup struct {
	// Path is the cgroup directory
	Path string
	// ID is the cgroup id reported by bpf_skb_cgroup_id
	ID uint64
}

// NewTestCgroup creates a cgroup named name directly below CgroupRoot.
func NewTestCgroup(name string) (*TestCgroup, error) {
	path := filepath.Join(CgroupRoot, name)
	if err := os.Mkdir(path, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("failed to create cgroup %s: %w", path, err)
	}

	id, err := CgroupID(path)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	return &TestCgroup{Path: path, ID: id}, nil
}

// CgroupID returns the id of the cgroup at path. On cgroup v2 the id is
// the inode number of the directory.
func CgroupID(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, fmt.Errorf("failed to stat cgroup %s: %w", path, err)
	}
	return st.Ino, nil
}

// Run moves the test process into the cgroup, calls fn and moves the
// process back. Sockets created by fn stay charged to the cgroup.
func (cg *TestCgroup) Run(fn func() error) error {
	procsMu.Lock()
	defer procsMu.Unlock()

	original, err := currentCgroup()
	if err != nil {
		return err
	}

	if err := moveSelf(cg.Path); err != nil {
		return err
	}

	execErr := fn()

	if err := moveSelf(original); err != nil {
		if execErr != nil {
			return fmt.Errorf("function error: %v, cgroup restore error: %w", execErr, err)
		}
		return err
	}
	return execErr
}

// Lookup returns the rate state of the cgroup in store.
func (cg *TestCgroup) Lookup(store ratelimit.Snapshotter) (ratelimit.RateState, bool, error) {
	return store.Get(cg.ID)
}

// Cleanup removes the cgroup. It fails while processes are still inside.
func (cg *TestCgroup) Cleanup() error {
	if err := os.Remove(cg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cgroup %s: %w", cg.Path, err)
	}
	return nil
}

func moveSelf(path string) error {
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(filepath.Join(path, "cgroup.procs"), []byte(pid), 0o644); err != nil {
		return fmt.Errorf("failed to move process into %s: %w", path, err)
	}
	return nil
}

// currentCgroup reads the unified hierarchy entry of /proc/self/cgroup
func currentCgroup() (string, error) {
	f, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if rel, ok := strings.CutPrefix(scanner.Text(), "0::"); ok {
			return filepath.Join(CgroupRoot, rel), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("process is not on a cgroup v2 hierarchy")
}

// IsCgroup2 reports whether path is on a cgroup v2 mount.
func IsCgroup2(path string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return false
	}
	return st.Type == unix.CGROUP2_SUPER_MAGIC
}
