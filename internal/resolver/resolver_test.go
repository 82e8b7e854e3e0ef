package resolver

import (
	"encoding/json"
	"testing"

	"github.com/swarmguard/judgeorch/internal/submission"
)

func parseDoc(t *testing.T, raw string) *submission.Document {
	t.Helper()
	var doc submission.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("unmarshal document: %v", err)
	}
	return &doc
}

func TestResolveEmptySteps(t *testing.T) {
	doc := parseDoc(t, `{"steps":{}}`)
	if _, err := Resolve(doc); err != ErrEmptySteps {
		t.Fatalf("Resolve() error = %v, want ErrEmptySteps", err)
	}
}

func TestResolveImplicitChain(t *testing.T) {
	doc := parseDoc(t, `{"steps":{
		"first":  {"action": {"kind": "noop"}},
		"second": {"action": {"kind": "noop"}},
		"third":  {"action": {"kind": "noop"}}
	}}`)

	root, err := Resolve(doc)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(root.Tasks) != 1 {
		t.Fatalf("expected one root task, got %d", len(root.Tasks))
	}
	first := root.Tasks[0]
	if first.ID != "first" {
		t.Fatalf("expected root node %q, got %q", "first", first.ID)
	}
	if len(first.Children) != 1 || first.Children[0].ID != "second" {
		t.Fatalf("expected first->second edge, got %+v", first.Children)
	}
	second := first.Children[0]
	if len(second.Children) != 1 || second.Children[0].ID != "third" {
		t.Fatalf("expected second->third edge, got %+v", second.Children)
	}
	third := second.Children[0]
	if len(third.Schedule) != 1 || third.Schedule[0].ID != "second" {
		t.Fatalf("expected third to depend on second, got %+v", third.Schedule)
	}
}

func TestResolveExplicitNeeds(t *testing.T) {
	doc := parseDoc(t, `{"steps":{
		"a": {"action": {"kind": "noop"}},
		"b": {"action": {"kind": "noop"}},
		"c": {"needs": "a", "action": {"kind": "noop"}}
	}}`)

	root, err := Resolve(doc)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	a := root.Tasks[0]
	if len(a.Children) != 2 {
		t.Fatalf("expected a to have 2 children (b via chain, c via needs), got %d", len(a.Children))
	}
}

func TestResolveUnknownNeeds(t *testing.T) {
	doc := parseDoc(t, `{"steps":{
		"a": {"action": {"kind": "noop"}},
		"b": {"needs": "nonexistent", "action": {"kind": "noop"}}
	}}`)

	if _, err := Resolve(doc); err == nil {
		t.Fatal("expected error for unknown needs target")
	}
}

func TestResolveSelfNeeds(t *testing.T) {
	doc := parseDoc(t, `{"steps":{
		"a": {"needs": "a", "action": {"kind": "noop"}}
	}}`)

	if _, err := Resolve(doc); err == nil {
		t.Fatal("expected error for self-referential needs")
	}
}

func TestResolveNestedSequence(t *testing.T) {
	doc := parseDoc(t, `{"steps":{
		"outer": {"steps": {
			"inner-a": {"action": {"kind": "noop"}},
			"inner-b": {"action": {"kind": "noop"}}
		}}
	}}`)

	root, err := Resolve(doc)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	outer := root.Tasks[0]
	if outer.Kind != submission.NodeKindSchedule {
		t.Fatalf("expected outer to be a schedule node")
	}
	if len(outer.Members) != 1 || outer.Members[0].ID != "inner-a" {
		t.Fatalf("expected outer's single member to be the inner sequence head, got %+v", outer.Members)
	}
	if len(outer.Children) != 0 {
		t.Fatalf("expected outer to have no successors, got %+v", outer.Children)
	}
}

func TestResolveParallel(t *testing.T) {
	doc := parseDoc(t, `{"steps":{
		"fan": {"parallel": [
			{"action": {"kind": "noop"}},
			{"action": {"kind": "noop"}}
		]}
	}}`)

	root, err := Resolve(doc)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	fan := root.Tasks[0]
	if len(fan.Members) != 2 {
		t.Fatalf("expected 2 parallel members, got %d", len(fan.Members))
	}
	if len(fan.Children) != 0 {
		t.Fatalf("expected fan to have no successors, got %+v", fan.Children)
	}
	for _, member := range fan.Members {
		if len(member.Schedule) != 0 {
			t.Fatalf("parallel members must not depend on one another, got schedule %+v", member.Schedule)
		}
	}
}
