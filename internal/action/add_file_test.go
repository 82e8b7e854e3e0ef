package action

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/swarmguard/judgeorch/internal/runner"
	"github.com/swarmguard/judgeorch/internal/submission"
)

func testExecutor() *Executor {
	return &Executor{Pool: runner.New(2, nil)}
}

func TestRunAddFilePlain(t *testing.T) {
	dir := t.TempDir()
	e := testExecutor()
	cfg := &submission.AddFileConfig{Files: []submission.AddFileItem{
		{Path: "inline.txt", SourceKind: submission.AddFileSourcePlain, Plain: "EXAMPLE 测试"},
	}}

	if err := e.runAddFile(context.Background(), dir, cfg); err != nil {
		t.Fatalf("runAddFile() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "inline.txt"))
	if err != nil {
		t.Fatalf("reading written file: %v", err)
	}
	if string(got) != "EXAMPLE 测试" {
		t.Errorf("content = %q", got)
	}
}

func TestRunAddFileBase64(t *testing.T) {
	dir := t.TempDir()
	e := testExecutor()
	cfg := &submission.AddFileConfig{Files: []submission.AddFileItem{
		{Path: "base64.txt", SourceKind: submission.AddFileSourceBase64, Base64: "5biM5YS/5pyA5Y+v54ix5LqG"},
	}}

	if err := e.runAddFile(context.Background(), dir, cfg); err != nil {
		t.Fatalf("runAddFile() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "base64.txt"))
	if err != nil {
		t.Fatalf("reading written file: %v", err)
	}
	if string(got) != "希儿最可爱了" {
		t.Errorf("content = %q", got)
	}
}

func TestRunAddFileLocalPath(t *testing.T) {
	dir := t.TempDir()
	e := testExecutor()

	source := filepath.Join(dir, "source.txt")
	const text = "希儿最可爱了test114514"
	if err := os.WriteFile(source, []byte(text), 0o644); err != nil {
		t.Fatalf("writing source file: %v", err)
	}

	cfg := &submission.AddFileConfig{Files: []submission.AddFileItem{
		{Path: "target.txt", SourceKind: submission.AddFileSourceLocal, Local: source},
	}}

	if err := e.runAddFile(context.Background(), dir, cfg); err != nil {
		t.Fatalf("runAddFile() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "target.txt"))
	if err != nil {
		t.Fatalf("reading written file: %v", err)
	}
	if string(got) != text {
		t.Errorf("content = %q", got)
	}
}

func TestRunAddFileCreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	e := testExecutor()
	cfg := &submission.AddFileConfig{Files: []submission.AddFileItem{
		{Path: "nested/dir/file.txt", SourceKind: submission.AddFileSourcePlain, Plain: "hi"},
	}}

	if err := e.runAddFile(context.Background(), dir, cfg); err != nil {
		t.Fatalf("runAddFile() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "nested/dir/file.txt")); err != nil {
		t.Fatalf("expected nested file to exist: %v", err)
	}
}

func TestRunAddFileAggregatesFailures(t *testing.T) {
	dir := t.TempDir()
	e := testExecutor()
	cfg := &submission.AddFileConfig{Files: []submission.AddFileItem{
		{Path: "ok.txt", SourceKind: submission.AddFileSourcePlain, Plain: "ok"},
		{Path: "missing.txt", SourceKind: submission.AddFileSourceLocal, Local: filepath.Join(dir, "does-not-exist")},
	}}

	err := e.runAddFile(context.Background(), dir, cfg)
	if err == nil {
		t.Fatal("expected an aggregated error")
	}
	if !strings.Contains(err.Error(), "missing.txt") {
		t.Errorf("error %q does not name the failing item", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "ok.txt")); statErr != nil {
		t.Errorf("sibling item should still have been written: %v", statErr)
	}
}
