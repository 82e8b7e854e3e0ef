// Package resolver turns a parsed submission document into an executable
// DAG of task nodes, wiring dependency (Schedule) and successor (Children)
// edges from each task's declaration order and explicit "needs" field.
package resolver

import (
	"fmt"

	"github.com/swarmguard/judgeorch/internal/submission"
)

// ErrEmptySteps is returned when a sequence (the document root or a
// nested "steps" block) has no entries.
var ErrEmptySteps = fmt.Errorf("resolver: steps must not be empty")

// Resolve turns a submission document into its executable root node.
func Resolve(doc *submission.Document) (*submission.RootTaskNode, error) {
	root, err := resolveSequence(doc.Steps)
	if err != nil {
		return nil, err
	}
	return &submission.RootTaskNode{Tasks: []*submission.TaskNode{root}}, nil
}

// resolveSequence resolves every entry of an ordered steps block and wires
// them into a chain: the first entry becomes the returned root; each
// subsequent entry depends on the preceding entry unless it names an
// explicit "needs" target, in which case it depends on that named sibling
// instead. A named target must be an earlier entry in the same block and
// must not name itself.
func resolveSequence(steps submission.OrderedSteps) (*submission.TaskNode, error) {
	if len(steps) == 0 {
		return nil, ErrEmptySteps
	}

	byName := make(map[string]*submission.TaskNode, len(steps))
	var root *submission.TaskNode
	var previous *submission.TaskNode

	for i, task := range steps {
		node, err := resolveTask(task)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			root = node
		}

		var dependsOn *submission.TaskNode
		if task.Needs != "" {
			if task.Needs == task.Name {
				return nil, fmt.Errorf("unknown task specified by the needs field: %s", task.Needs)
			}
			dep, ok := byName[task.Needs]
			if !ok {
				return nil, fmt.Errorf("unknown task specified by the needs field: %s", task.Needs)
			}
			dependsOn = dep
		} else if previous != nil {
			dependsOn = previous
		}

		if dependsOn != nil {
			node.Schedule = append(node.Schedule, dependsOn)
			dependsOn.Children = append(dependsOn.Children, node)
		}

		byName[task.Name] = node
		previous = node
	}

	return root, nil
}

// resolveTask dispatches a single task entry to a leaf action node or a
// schedule node built from its nested sequence/parallel members.
func resolveTask(task submission.Task) (*submission.TaskNode, error) {
	switch task.Kind {
	case submission.TaskKindAction:
		return &submission.TaskNode{
			ID:     task.Name,
			Kind:   submission.NodeKindAction,
			Action: task.Action,
			Config: &task,
		}, nil

	case submission.TaskKindSequence:
		inner, err := resolveSequence(task.Sequence)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", task.Name, err)
		}
		return &submission.TaskNode{
			ID:      task.Name,
			Kind:    submission.NodeKindSchedule,
			Members: []*submission.TaskNode{inner},
			Config:  &task,
		}, nil

	case submission.TaskKindParallel:
		if len(task.Parallel) == 0 {
			return nil, fmt.Errorf("task %q: %w", task.Name, ErrEmptySteps)
		}
		children := make([]*submission.TaskNode, 0, len(task.Parallel))
		for _, member := range task.Parallel {
			child, err := resolveTask(member)
			if err != nil {
				return nil, fmt.Errorf("task %q: %w", task.Name, err)
			}
			children = append(children, child)
		}
		return &submission.TaskNode{
			ID:      task.Name,
			Kind:    submission.NodeKindSchedule,
			Members: children,
			Config:  &task,
		}, nil

	default:
		return nil, fmt.Errorf("task %q: unknown task kind %d", task.Name, task.Kind)
	}
}
