package action

import (
	"context"
	"testing"

	"github.com/swarmguard/judgeorch/internal/submission"
)

func TestExecuteNoopEchoesTest(t *testing.T) {
	e := testExecutor()
	cfg := &submission.ActionConfig{Kind: submission.ActionNoop, Noop: &submission.NoopConfig{Test: 42}}

	report, err := e.Execute(context.Background(), t.TempDir(), cfg)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !report.Success {
		t.Fatal("expected a successful report")
	}
	got, ok := report.Ext.(*noopReport)
	if !ok {
		t.Fatalf("Ext type = %T, want *noopReport", report.Ext)
	}
	if got.Test != 42 {
		t.Errorf("Test = %d, want 42", got.Test)
	}
}

func TestExecuteAddFileSuccess(t *testing.T) {
	e := testExecutor()
	dir := t.TempDir()
	cfg := &submission.ActionConfig{Kind: submission.ActionAddFile, AddFile: &submission.AddFileConfig{
		Files: []submission.AddFileItem{{Path: "a.txt", SourceKind: submission.AddFileSourcePlain, Plain: "x"}},
	}}

	report, err := e.Execute(context.Background(), dir, cfg)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !report.Success {
		t.Fatal("expected a successful report")
	}
}

func TestExecuteUnknownKind(t *testing.T) {
	e := testExecutor()
	cfg := &submission.ActionConfig{Kind: submission.ActionKind("bogus")}

	if _, err := e.Execute(context.Background(), t.TempDir(), cfg); err == nil {
		t.Fatal("expected an error for an unknown action kind")
	}
}
