// Package cgroup establishes the cgroup v2 hierarchy the orchestrator runs
// under and pins worker goroutines' backing OS threads to individual CPUs
// so per-task CPU accounting is meaningful.
package cgroup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

const mandatoryControllers = "+cpu +cpuset +memory +io +pids"

// DefaultCgroupRoot is the standard cgroup v2 mount point.
const DefaultCgroupRoot = "/sys/fs/cgroup"

// ErrNotUnifiedHierarchy is returned when the host is not running the
// cgroup v2 unified hierarchy.
var ErrNotUnifiedHierarchy = errors.New("cgroup: host is not running the cgroup v2 unified hierarchy")

// CheckUnifiedHierarchy fails fast on hosts still running cgroup v1 (or a
// hybrid hierarchy), which the Go runtime and this package never support.
func CheckUnifiedHierarchy() error {
	if _, err := os.Stat(filepath.Join(DefaultCgroupRoot, "cgroup.controllers")); err != nil {
		return ErrNotUnifiedHierarchy
	}

	content, err := os.ReadFile("/proc/thread-self/cgroup")
	if err != nil {
		return fmt.Errorf("cgroup: reading /proc/thread-self/cgroup: %w", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "0::") {
		return ErrNotUnifiedHierarchy
	}
	return nil
}

// SelfCgroupPath resolves the calling thread's own cgroup directory from
// /proc/thread-self/cgroup, rejecting blank, malformed, or deleted entries.
func SelfCgroupPath() (string, error) {
	content, err := os.ReadFile("/proc/thread-self/cgroup")
	if err != nil {
		return "", fmt.Errorf("cgroup: reading /proc/thread-self/cgroup: %w", err)
	}
	line := strings.TrimSpace(string(content))

	if line == "" {
		return "", fmt.Errorf("cgroup: unexpected blank /proc/thread-self/cgroup content")
	}
	if !strings.HasPrefix(line, "0::") {
		return "", fmt.Errorf("cgroup: unexpected /proc/thread-self/cgroup content: %s", line)
	}
	if strings.HasSuffix(line, "(deleted)") {
		return "", fmt.Errorf("cgroup: cgroup is deleted: %s", line)
	}
	if line == "0::/" {
		return DefaultCgroupRoot, nil
	}

	rel := strings.TrimPrefix(line, "0::/")
	return filepath.Join(DefaultCgroupRoot, rel), nil
}

// Binder owns the process's cgroup root and drives the thread-pinning
// barrier protocol.
type Binder struct {
	Root          string
	MainScopePath string
	ContainerPath string
}

// NewBinder resolves the process's cgroup root (creating main.scope and
// container.slice under it and moving the current process into
// main.scope) and enables the mandatory controller set at every level.
func NewBinder(root string, reaperPresent bool) (*Binder, error) {
	b := &Binder{
		Root:          root,
		MainScopePath: filepath.Join(root, "main.scope"),
		ContainerPath: filepath.Join(root, "container.slice"),
	}

	if err := os.MkdirAll(b.MainScopePath, 0o755); err != nil {
		return nil, fmt.Errorf("cgroup: creating main.scope: %w", err)
	}
	if err := os.MkdirAll(b.ContainerPath, 0o755); err != nil {
		return nil, fmt.Errorf("cgroup: creating container.slice: %w", err)
	}

	pid := os.Getpid()
	if err := writeCgroupFile(filepath.Join(b.MainScopePath, "cgroup.procs"), strconv.Itoa(pid)); err != nil {
		return nil, err
	}
	if reaperPresent {
		if err := writeCgroupFile(filepath.Join(b.MainScopePath, "cgroup.procs"), "1"); err != nil {
			return nil, err
		}
	}

	if err := writeCgroupFile(filepath.Join(root, "cgroup.subtree_control"), mandatoryControllers); err != nil {
		return nil, err
	}
	if err := writeCgroupFile(filepath.Join(b.MainScopePath, "cgroup.subtree_control"), "+cpuset"); err != nil {
		return nil, err
	}
	if err := writeCgroupFile(filepath.Join(b.ContainerPath, "cgroup.subtree_control"), mandatoryControllers); err != nil {
		return nil, err
	}

	return b, nil
}

// Bind spawns workerThreads goroutines pinned to distinct OS threads via
// runtime.LockOSThread, parks them on an entry barrier until every thread
// has reported in under main.scope/cgroup.threads, reads back the bound
// CPU set, writes per-thread cgroup directories, and releases the exit
// barrier. It returns the CPU indices assigned, in the same order as
// cgroup.threads reported the tids.
func (b *Binder) Bind(workerThreads int, reaperPresent bool) ([]int, error) {
	var entry, exit sync.WaitGroup
	entry.Add(workerThreads)
	exit.Add(1)

	for i := 0; i < workerThreads; i++ {
		go func() {
			runtime.LockOSThread()
			entry.Done()
			exit.Wait()
		}()
	}

	entry.Wait()

	cpus, err := b.bindThreads(reaperPresent)
	if err != nil {
		exit.Done()
		return nil, err
	}

	exit.Done()
	return cpus, nil
}

func (b *Binder) bindThreads(reaperPresent bool) ([]int, error) {
	cpus, err := parseCpusetRange(filepath.Join(b.MainScopePath, "cpuset.cpus.effective"))
	if err != nil {
		return nil, err
	}
	if len(cpus) == 0 {
		return nil, fmt.Errorf("cgroup: empty cpuset.cpus.effective")
	}

	tids, err := parseThreadIDs(filepath.Join(b.MainScopePath, "cgroup.threads"), reaperPresent)
	if err != nil {
		return nil, err
	}
	if len(tids) == 0 {
		return nil, fmt.Errorf("cgroup: no pids found in cgroup.threads")
	}
	if len(cpus) < len(tids) {
		return nil, fmt.Errorf("cgroup: insufficient available cpus, available: %d, want: %d", len(cpus), len(tids))
	}

	assigned := make([]int, 0, len(tids))
	for i, tid := range tids {
		cpu := cpus[i]
		threadPath := filepath.Join(b.MainScopePath, fmt.Sprintf("thread-%d", tid))
		if err := os.MkdirAll(threadPath, 0o755); err != nil {
			return nil, fmt.Errorf("cgroup: creating %s: %w", threadPath, err)
		}
		if err := writeCgroupFile(filepath.Join(threadPath, "cgroup.type"), "threaded"); err != nil {
			return nil, err
		}
		if err := writeCgroupFile(filepath.Join(threadPath, "cgroup.threads"), strconv.Itoa(tid)); err != nil {
			return nil, err
		}
		if err := writeCgroupFile(filepath.Join(threadPath, "cpuset.cpus"), strconv.Itoa(cpu)); err != nil {
			return nil, err
		}
		assigned = append(assigned, cpu)
	}

	return assigned, nil
}

// parseCpusetRange parses the comma-separated singleton/"a-b" range syntax
// used by cpuset.cpus and cpuset.cpus.effective.
func parseCpusetRange(path string) ([]int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cgroup: reading %s: %w", path, err)
	}
	trimmed := strings.TrimSpace(string(content))
	if trimmed == "" {
		return nil, nil
	}

	var cpus []int
	for _, item := range strings.Split(trimmed, ",") {
		if from, to, ok := strings.Cut(item, "-"); ok {
			fromN, err := strconv.Atoi(from)
			if err != nil {
				return nil, fmt.Errorf("cgroup: unexpected cpuset range item %q: %w", item, err)
			}
			toN, err := strconv.Atoi(to)
			if err != nil {
				return nil, fmt.Errorf("cgroup: unexpected cpuset range item %q: %w", item, err)
			}
			for c := fromN; c <= toN; c++ {
				cpus = append(cpus, c)
			}
			continue
		}
		n, err := strconv.Atoi(item)
		if err != nil {
			return nil, fmt.Errorf("cgroup: unexpected cpuset item %q: %w", item, err)
		}
		cpus = append(cpus, n)
	}
	return cpus, nil
}

func parseThreadIDs(path string, reaperPresent bool) ([]int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cgroup: reading %s: %w", path, err)
	}

	var tids []int
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if reaperPresent && line == "1" {
			continue
		}
		n, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("cgroup: parsing thread id %q: %w", line, err)
		}
		tids = append(tids, n)
	}
	return tids, nil
}

func writeCgroupFile(path, value string) error {
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return fmt.Errorf("cgroup: writing %s: %w", path, err)
	}
	return nil
}
