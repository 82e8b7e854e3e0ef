package submission

import (
	"encoding/json"
	"fmt"
)

// ActionKind is the fixed vocabulary of action executors.
type ActionKind string

const (
	ActionNoop         ActionKind = "noop"
	ActionAddFile      ActionKind = "add-file"
	ActionRunContainer ActionKind = "run-container"
	ActionCompile      ActionKind = "compile"
	ActionRun          ActionKind = "run"
)

// ActionConfig is the parsed configuration of one task's action, dispatched
// on Kind to exactly one populated concrete config.
type ActionConfig struct {
	Kind ActionKind

	Noop         *NoopConfig
	AddFile      *AddFileConfig
	RunContainer *RunContainerConfig
	Compile      *CompileConfig
	Run          *RunConfig
}

// NoopConfig is the no-op action's sole field: an arbitrary integer
// echoed back in its success report, useful for exercising the executor
// without a sandbox.
type NoopConfig struct {
	Test int `json:"test"`
}

// AddFileSourceKind discriminates where an add-file action's content comes from.
type AddFileSourceKind string

const (
	AddFileSourcePlain  AddFileSourceKind = "plain"
	AddFileSourceBase64 AddFileSourceKind = "base64"
	AddFileSourceLocal  AddFileSourceKind = "local"
	AddFileSourceHTTP   AddFileSourceKind = "http"
)

// AddFileConfig lists the files an add-file action writes into the
// submission root. Every item is handled concurrently and independently;
// one item's failure does not stop the others from completing.
type AddFileConfig struct {
	Files []AddFileItem
}

// AddFileItem is one file to materialize, discriminated on SourceKind.
type AddFileItem struct {
	Path       string            `json:"path"`
	SourceKind AddFileSourceKind `json:"-"`

	Plain  string `json:"-"`
	Base64 string `json:"-"`
	Local  string `json:"-"`
	URL    string `json:"-"`

	Mode int `json:"mode,omitempty"`
}

// String renders the item the way failure messages identify it: by path.
func (i AddFileItem) String() string {
	return i.Path
}

// RunContainerConfig is the shared shape embedded by compile and run
// actions: the sandboxed command, its image, and its resource limits.
// Files holds mount entries in the "item" / "from:to" / "from:to:opts"
// string form resolved by internal/container.ParseMount, not a map —
// a task may mount the same source at several destinations.
type RunContainerConfig struct {
	Image        string            `json:"image"`
	Command      []string          `json:"command"`
	Cwd          string            `json:"cwd,omitempty"`
	Environment  map[string]string `json:"environment,omitempty"`
	Files        []string          `json:"files,omitempty"`
	FullHostname bool              `json:"full_hostname,omitempty"`

	CPULimit       float64 `json:"cpu_limit,omitempty"`
	MemoryLimitMiB int64   `json:"memory_limit_mib,omitempty"`
	TimeLimitMS    int64   `json:"time_limit_ms,omitempty"`
	ProcessLimit   int     `json:"process_limit,omitempty"`
	StdoutLimitKiB int64   `json:"stdout_limit_kib,omitempty"`
	StderrLimitKiB int64   `json:"stderr_limit_kib,omitempty"`
}

// CacheConfig governs whether a compile action's mount-dir outputs are
// considered for the artifact cache.
type CacheConfig struct {
	Enabled           bool  `json:"enabled,omitempty"`
	MaxAllowedSizeMiB int64 `json:"max_allowed_size_mib,omitempty"`
}

// CompileConfig runs a container with Source files mounted read-only
// under the action's mount directory and Save files copied back out of
// it into submission_root afterward.
type CompileConfig struct {
	RunContainerConfig
	Source []string    `json:"source,omitempty"`
	Save   []string    `json:"save,omitempty"`
	Cache  CacheConfig `json:"cache,omitempty"`
}

// RunConfig runs a container with Executable files mounted exec-capable
// under the action's mount directory before running the command.
type RunConfig struct {
	RunContainerConfig
	Executable []string `json:"executable,omitempty"`
}

func decodeActionConfig(raw json.RawMessage) (*ActionConfig, error) {
	var head struct {
		Kind ActionKind `json:"kind"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decoding action: %w", err)
	}

	cfg := &ActionConfig{Kind: head.Kind}

	switch head.Kind {
	case ActionNoop:
		// no fields to decode

	case ActionAddFile:
		var body struct {
			Files []struct {
				Path   string `json:"path"`
				Plain  string `json:"plain"`
				Base64 string `json:"base64"`
				Local  string `json:"local"`
				URL    string `json:"url"`
				Mode   int    `json:"mode"`
			} `json:"files"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("decoding add-file action: %w", err)
		}
		if len(body.Files) == 0 {
			return nil, fmt.Errorf("add-file action must list at least one file")
		}
		items := make([]AddFileItem, 0, len(body.Files))
		for _, f := range body.Files {
			item := AddFileItem{Path: f.Path, Mode: f.Mode}
			switch {
			case f.Plain != "":
				item.SourceKind, item.Plain = AddFileSourcePlain, f.Plain
			case f.Base64 != "":
				item.SourceKind, item.Base64 = AddFileSourceBase64, f.Base64
			case f.Local != "":
				item.SourceKind, item.Local = AddFileSourceLocal, f.Local
			case f.URL != "":
				item.SourceKind, item.URL = AddFileSourceHTTP, f.URL
			default:
				return nil, fmt.Errorf("add-file action for %q must set one of plain, base64, local, url", f.Path)
			}
			items = append(items, item)
		}
		cfg.AddFile = &AddFileConfig{Files: items}

	case ActionRunContainer:
		var body RunContainerConfig
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("decoding run-container action: %w", err)
		}
		cfg.RunContainer = &body

	case ActionCompile:
		var body CompileConfig
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("decoding compile action: %w", err)
		}
		cfg.Compile = &body

	case ActionRun:
		var body RunConfig
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("decoding run action: %w", err)
		}
		cfg.Run = &body

	default:
		return nil, fmt.Errorf("unknown action kind: %q", head.Kind)
	}

	return cfg, nil
}
