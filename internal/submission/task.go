package submission

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TaskKind discriminates the three shapes a task entry can take.
type TaskKind int

const (
	TaskKindAction TaskKind = iota
	TaskKindSequence
	TaskKindParallel
)

// ReportDirectives controls which files get embedded/uploaded from a task
// and under what terminal condition.
type ReportDirectives struct {
	Embeds  []ReportEmbedConfig  `json:"embeds,omitempty"`
	Uploads []ReportUploadConfig `json:"uploads,omitempty"`
}

// ReportWhen selects when a report directive applies.
type ReportWhen string

const (
	ReportWhenSuccess ReportWhen = "success"
	ReportWhenFailure ReportWhen = "failure"
	ReportWhenAlways  ReportWhen = "always"
)

type ReportEmbedConfig struct {
	Path            string     `json:"path"`
	Field           string     `json:"field"`
	When            ReportWhen `json:"when,omitempty"`
	TruncateKiB     int        `json:"truncate_kib,omitempty"`
	IgnoreIfMissing bool       `json:"ignore_if_missing,omitempty"`
}

type ReportUploadMethod string

const (
	ReportUploadPost ReportUploadMethod = "POST"
	ReportUploadPut  ReportUploadMethod = "PUT"
)

type ReportUploadConfig struct {
	Path            string             `json:"path"`
	Target          string             `json:"target"`
	FormField       string             `json:"form_field"`
	Method          ReportUploadMethod `json:"method,omitempty"`
	When            ReportWhen         `json:"when,omitempty"`
	IgnoreIfMissing bool               `json:"ignore_if_missing,omitempty"`
}

// Task is the parsed (pre-resolution) representation of one task entry,
// named by its key in the enclosing sequence/parallel map (or a positional
// index string for an anonymous parallel list).
type Task struct {
	Name     string
	When     string
	Needs    string
	Tags     []string
	Progress bool
	Report   *ReportDirectives

	Kind     TaskKind
	Action   *ActionConfig
	Sequence OrderedSteps
	Parallel OrderedSteps
}

// OrderedSteps is a named, insertion-ordered sequence of tasks. It backs
// both the top-level `steps` map and any nested `steps`/named `parallel`
// map, preserving declaration order the way a Go map cannot.
type OrderedSteps []Task

// rawTaskEntry mirrors the wire shape of one task entry before dispatch.
type rawTaskEntry struct {
	When     string            `json:"when"`
	Needs    string            `json:"needs"`
	Tags     []string          `json:"tags"`
	Progress bool              `json:"progress"`
	Report   *ReportDirectives `json:"report"`
	Action   json.RawMessage   `json:"action"`
	Steps    json.RawMessage   `json:"steps"`
	Parallel json.RawMessage   `json:"parallel"`
}

// UnmarshalJSON preserves key order by walking the JSON token stream
// directly instead of decoding into a Go map.
func (s *OrderedSteps) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return fmt.Errorf("submission: expected a JSON object for steps, got %v", tok)
	}

	var out OrderedSteps
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("submission: expected string key, got %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("submission: decoding task %q: %w", name, err)
		}

		task, err := decodeTaskEntry(name, raw)
		if err != nil {
			return err
		}
		out = append(out, task)
	}

	*s = out
	return nil
}

// unmarshalParallel allows a `parallel` value to be either an anonymous JSON
// array (positionally named "0", "1", ...) or a named object.
func (s *OrderedSteps) unmarshalParallel(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		*s = nil
		return nil
	}
	if trimmed[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return err
		}
		out := make(OrderedSteps, 0, len(raws))
		for i, raw := range raws {
			name := fmt.Sprintf("%d", i)
			task, err := decodeTaskEntry(name, raw)
			if err != nil {
				return err
			}
			out = append(out, task)
		}
		*s = out
		return nil
	}
	return s.UnmarshalJSON(trimmed)
}

func decodeTaskEntry(name string, raw json.RawMessage) (Task, error) {
	var entry rawTaskEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Task{}, fmt.Errorf("submission: decoding task %q: %w", name, err)
	}

	task := Task{
		Name:     name,
		When:     entry.When,
		Needs:    entry.Needs,
		Tags:     entry.Tags,
		Progress: entry.Progress,
		Report:   entry.Report,
	}

	set := 0
	if len(entry.Action) > 0 {
		set++
	}
	if len(entry.Steps) > 0 {
		set++
	}
	if len(entry.Parallel) > 0 {
		set++
	}
	if set != 1 {
		return Task{}, fmt.Errorf("submission: task %q must set exactly one of action, steps, parallel", name)
	}

	switch {
	case len(entry.Action) > 0:
		action, err := decodeActionConfig(entry.Action)
		if err != nil {
			return Task{}, fmt.Errorf("submission: task %q: %w", name, err)
		}
		task.Kind = TaskKindAction
		task.Action = action
	case len(entry.Steps) > 0:
		var seq OrderedSteps
		if err := seq.UnmarshalJSON(entry.Steps); err != nil {
			return Task{}, err
		}
		task.Kind = TaskKindSequence
		task.Sequence = seq
	case len(entry.Parallel) > 0:
		var par OrderedSteps
		if err := par.unmarshalParallel(entry.Parallel); err != nil {
			return Task{}, err
		}
		task.Kind = TaskKindParallel
		task.Parallel = par
	}

	return task, nil
}
