// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package testutil provides utilities for end-to-end testing of the
// bandwidth limiter. It includes throwaway cgroups, isolated network
// namespaces and bulk traffic generation.
package testutil

import (
	"fmt"
	"os"
	"runtime"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

// Sandbox is an isolated network namespace with only loopback up.
// Traffic inside it never leaves the host and is not disturbed by
// other tests.
type Sandbox struct {
	NS netns.NsHandle

	// Original namespace (for cleanup)
	OriginalNS netns.NsHandle
}

// NewSandbox creates the namespace and brings loopback up.
func NewSandbox() (*Sandbox, error) {
	// Lock the OS thread to ensure network namespace operations work correctly
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	originalNS, err := netns.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to get original namespace: %w", err)
	}

	sb := &Sandbox{OriginalNS: originalNS}

	ns, err := netns.New()
	if err != nil {
		sb.Cleanup()
		return nil, fmt.Errorf("failed to create namespace: %w", err)
	}
	sb.NS = ns

	// netns.New switched this thread, configure before returning
	if err := setLoopbackUp(); err != nil {
		_ = netns.Set(originalNS)
		sb.Cleanup()
		return nil, err
	}

	if err := netns.Set(originalNS); err != nil {
		sb.Cleanup()
		return nil, fmt.Errorf("failed to return to original namespace: %w", err)
	}

	return sb, nil
}

func setLoopbackUp() error {
	lo, err := netlink.LinkByName("lo")
	if err != nil {
		return fmt.Errorf("failed to get loopback: %w", err)
	}
	if err := netlink.LinkSetUp(lo); err != nil {
		return fmt.Errorf("failed to bring up loopback: %w", err)
	}

	addrs, err := netlink.AddrList(lo, netlink.FAMILY_V4)
	if err != nil {
		return fmt.Errorf("failed to list loopback addresses: %w", err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("loopback has no IPv4 address")
	}
	return nil
}

// Run executes fn inside the sandbox namespace.
func (sb *Sandbox) Run(fn func() error) error {
	return RunInNamespace(sb.NS, fn)
}

// Cleanup closes the namespace handles.
// It should be called with defer after creating the sandbox.
func (sb *Sandbox) Cleanup() {
	if sb.NS != 0 {
		_ = sb.NS.Close()
	}
	if sb.OriginalNS != 0 {
		_ = sb.OriginalNS.Close()
	}
}

// RunInNamespace executes fn on a locked thread switched to ns.
func RunInNamespace(ns netns.NsHandle, fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	originalNS, err := netns.Get()
	if err != nil {
		return fmt.Errorf("failed to get original namespace: %w", err)
	}
	defer originalNS.Close()

	if err := netns.Set(ns); err != nil {
		return fmt.Errorf("failed to enter namespace: %w", err)
	}

	execErr := fn()

	if err := netns.Set(originalNS); err != nil {
		if execErr != nil {
			return fmt.Errorf("function error: %v, namespace restore error: %w", execErr, err)
		}
		return fmt.Errorf("failed to restore namespace: %w", err)
	}

	return execErr
}

// IsRoot checks if the current process has root privileges.
// E2E tests require root to create namespaces and cgroups and to load eBPF programs.
func IsRoot() bool {
	return os.Geteuid() == 0
}

// HasCapability checks if the process has a specific capability.
func HasCapability(cap int) bool {
	var header unix.CapUserHeader
	var data [2]unix.CapUserData

	header.Version = unix.LINUX_CAPABILITY_VERSION_3
	header.Pid = 0 // Current process

	if err := unix.Capget(&header, &data[0]); err != nil {
		return false
	}

	// Check if capability is in effective set
	capMask := uint32(1 << uint(cap%32))
	return (data[cap/32].Effective & capMask) != 0
}

// CheckE2ERequirements checks if the environment supports E2E testing.
// Returns an error message if requirements are not met, empty string otherwise.
func CheckE2ERequirements() string {
	if !IsRoot() {
		if !HasCapability(unix.CAP_NET_ADMIN) {
			return "E2E tests require root privileges or CAP_NET_ADMIN capability"
		}
		if !HasCapability(unix.CAP_BPF) && !HasCapability(unix.CAP_SYS_ADMIN) {
			return "E2E tests require CAP_BPF or CAP_SYS_ADMIN capability for eBPF operations"
		}
	}

	if !IsCgroup2(CgroupRoot) {
		return fmt.Sprintf("%s is not a cgroup v2 mount", CgroupRoot)
	}

	sb, err := NewSandbox()
	if err != nil {
		return fmt.Sprintf("Network namespaces not supported: %v", err)
	}
	sb.Cleanup()

	return ""
}
