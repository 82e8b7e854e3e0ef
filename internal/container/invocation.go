// Package container drives the sandbox helper binary: it translates a
// run-container action config into a HelperInvocation descriptor, pins it
// to the CPU bound to the calling runner slot, and invokes the helper
// over a JSON stdin/stdout protocol.
package container

import (
	"fmt"
	"strings"
)

// HelperInvocation is the JSON descriptor sent to the sandbox helper's
// stdin.
type HelperInvocation struct {
	Rootfs  string   `json:"rootfs"`
	Cwd     string   `json:"cwd"`
	Command []string `json:"command"`

	Stdin  string `json:"stdin,omitempty"`
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`

	Mounts []MountSpec `json:"mounts,omitempty"`
	Env    []string    `json:"env,omitempty"`

	Limits Limits `json:"limits"`
}

// MountSpec describes one bind mount resolved against the submission
// root: "item", "from:to", or "from:to:opt1,opt2".
type MountSpec struct {
	From    string   `json:"from"`
	To      string   `json:"to"`
	Options []string `json:"options,omitempty"`
}

// Limits lowers a run-container action's resource limits to the helper's
// wire format, filling in the spec's documented defaults.
type Limits struct {
	TimeMS       int64 `json:"time_ms"`
	CgroupMemory int64 `json:"cgroup_memory"`
	PidsLimit    int   `json:"pids_limit"`
	RlimitCore   int64 `json:"rlimit_core"`
	RlimitNofile int64 `json:"rlimit_nofile"`
	RlimitFsize  int64 `json:"rlimit_fsize"`
	CpusetCpus   int   `json:"cpuset_cpus"`
}

const (
	defaultTimeMS         = 10000
	defaultMemoryMiB      = 256
	defaultPidsLimit      = 32
	defaultRlimitNofile   = 64
	defaultRlimitFsizeMiB = 64
)

// ParseMount parses one mount entry resolved against submissionRoot.
func ParseMount(entry, submissionRoot string) (MountSpec, error) {
	parts := strings.SplitN(entry, ":", 3)
	switch len(parts) {
	case 1:
		return MountSpec{From: resolvePath(submissionRoot, parts[0]), To: parts[0]}, nil
	case 2:
		return MountSpec{From: resolvePath(submissionRoot, parts[0]), To: parts[1]}, nil
	case 3:
		opts := strings.Split(parts[2], ",")
		return MountSpec{From: resolvePath(submissionRoot, parts[0]), To: parts[1], Options: opts}, nil
	default:
		return MountSpec{}, fmt.Errorf("container: invalid mount entry %q", entry)
	}
}

func resolvePath(root, path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return root + "/" + path
}

// SplitCommand tokenizes a shell-style command string the same way the
// sandbox helper does, without invoking a shell: fields are
// whitespace-separated, with single or double quotes grouping a field
// that contains whitespace.
func SplitCommand(s string) ([]string, error) {
	var fields []string
	var current strings.Builder
	var inQuote rune
	inField := false

	flush := func() {
		if inField {
			fields = append(fields, current.String())
			current.Reset()
			inField = false
		}
	}

	for _, r := range s {
		switch {
		case inQuote != 0:
			if r == inQuote {
				inQuote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			inQuote = r
			inField = true
		case r == ' ' || r == '\t':
			flush()
		default:
			current.WriteRune(r)
			inField = true
		}
	}
	if inQuote != 0 {
		return nil, fmt.Errorf("container: unterminated quote in command %q", s)
	}
	flush()

	return fields, nil
}
