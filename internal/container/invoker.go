package container

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/swarmguard/judgeorch/internal/runner"
	"github.com/swarmguard/judgeorch/internal/submission"
)

// Invoker runs the sandbox helper binary, pinning each invocation to the
// CPU its runner slot was actually bound to by the cgroup binder.
type Invoker struct {
	helperPath string
	pool       *runner.Pool

	// assignedCPUs is the cgroup binder's per-thread CPU assignment, in
	// the same slot order runner.Pool hands slots out in: assignedCPUs[i]
	// is the real CPU the i-th pinned OS thread landed on. It is read
	// only, so no lock is needed once the Invoker is constructed.
	assignedCPUs []int
}

// NewInvoker constructs an Invoker that shells out to helperPath.
// assignedCPUs must be the cgroup.Binder.Bind result for the same
// runner pool, in slot order; a nil or short slice falls back to using
// the slot index itself as the CPU number.
func NewInvoker(helperPath string, pool *runner.Pool, assignedCPUs []int) *Invoker {
	return &Invoker{helperPath: helperPath, pool: pool, assignedCPUs: assignedCPUs}
}

// Build translates a run-container config into a HelperInvocation
// descriptor, resolving mounts and fd redirections against
// submissionRoot.
func Build(cfg *submission.RunContainerConfig, bundleDir, submissionRoot string) (HelperInvocation, error) {
	cwd := cfg.Cwd
	if cwd == "" {
		cwd = "/"
	}

	command := cfg.Command
	if len(command) == 1 {
		split, err := SplitCommand(command[0])
		if err == nil && len(split) > 1 {
			command = split
		}
	}

	mounts := make([]MountSpec, 0, len(cfg.Files))
	for _, entry := range cfg.Files {
		m, err := ParseMount(entry, submissionRoot)
		if err != nil {
			return HelperInvocation{}, err
		}
		mounts = append(mounts, m)
	}

	env := make([]string, 0, len(cfg.Environment))
	for k, v := range cfg.Environment {
		env = append(env, k+"="+v)
	}

	inv := HelperInvocation{
		Rootfs:  filepath.Join(bundleDir, "rootfs"),
		Cwd:     cwd,
		Command: command,
		Mounts:  mounts,
		Env:     env,
		Limits: Limits{
			TimeMS:       orDefault(cfg.TimeLimitMS, defaultTimeMS),
			CgroupMemory: orDefault(cfg.MemoryLimitMiB, defaultMemoryMiB) * 1024 * 1024,
			PidsLimit:    orDefaultInt(cfg.ProcessLimit, defaultPidsLimit),
			RlimitCore:   0,
			RlimitNofile: defaultRlimitNofile,
			RlimitFsize:  defaultRlimitFsizeMiB * 1024 * 1024,
		},
	}
	return inv, nil
}

func orDefault(v, def int64) int64 {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// Invoke resolves the invocation's pinned CPU for the current runner
// slot, JSON-encodes the descriptor to the helper's stdin, and decodes
// its stdout as a ContainerExecutionReport. A cancel watcher goroutine
// races ctx.Done() and sends SIGTERM to the helper's process group on
// cancellation.
func (inv *Invoker) Invoke(ctx context.Context, invocation HelperInvocation) (*submission.ContainerExecutionReport, error) {
	return runner.RunBlockingSlotted(ctx, inv.pool, func(slot int) (*submission.ContainerExecutionReport, error) {
		invocation.Limits.CpusetCpus = inv.cpuForSlot(slot)
		return inv.invokeOnce(ctx, invocation)
	})
}

// cpuForSlot returns the CPU the cgroup binder assigned to the runner
// thread with index slot (slot itself when the binder assigned fewer
// CPUs). The goroutine running the invocation is not locked to that OS
// thread; the CPU reaches the sandbox only through Limits.CpusetCpus.
func (inv *Invoker) cpuForSlot(slot int) int {
	if slot < len(inv.assignedCPUs) {
		return inv.assignedCPUs[slot]
	}
	return slot
}

func (inv *Invoker) invokeOnce(ctx context.Context, invocation HelperInvocation) (*submission.ContainerExecutionReport, error) {
	payload, err := json.Marshal(invocation)
	if err != nil {
		return nil, fmt.Errorf("container: encoding invocation: %w", err)
	}

	cmd := exec.Command(inv.helperPath)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stdout
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("container: starting helper: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		<-done
		return nil, fmt.Errorf("container: invocation cancelled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("container: helper exited abnormally: %w: %s", err, stdout.String())
		}
	}

	var report submission.ContainerExecutionReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		return nil, fmt.Errorf("container: decoding helper output: %w", err)
	}
	return &report, nil
}

// CleanupMounts best-effort removes each given directory tree (the
// run-judge actions pass their per-invocation mount directory), logging
// but never failing the caller on error.
func CleanupMounts(dirs ...string) {
	for _, d := range dirs {
		if err := os.RemoveAll(d); err != nil {
			slog.Warn("container: cleanup failed", "dir", d, "error", err)
		}
	}
}
