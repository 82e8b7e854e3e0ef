package cgroup

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cgroupfile")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

func TestParseCpusetRangeSingletons(t *testing.T) {
	path := writeTemp(t, "0,2,4\n")
	got, err := parseCpusetRange(path)
	if err != nil {
		t.Fatalf("parseCpusetRange() error = %v", err)
	}
	want := []int{0, 2, 4}
	if len(got) != len(want) {
		t.Fatalf("parseCpusetRange() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("parseCpusetRange() = %v, want %v", got, want)
		}
	}
}

func TestParseCpusetRangeMixed(t *testing.T) {
	path := writeTemp(t, "0-2,5,7-8\n")
	got, err := parseCpusetRange(path)
	if err != nil {
		t.Fatalf("parseCpusetRange() error = %v", err)
	}
	want := []int{0, 1, 2, 5, 7, 8}
	if len(got) != len(want) {
		t.Fatalf("parseCpusetRange() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("parseCpusetRange() = %v, want %v", got, want)
		}
	}
}

func TestParseCpusetRangeMalformed(t *testing.T) {
	path := writeTemp(t, "not-a-number\n")
	if _, err := parseCpusetRange(path); err == nil {
		t.Fatal("expected error for malformed cpuset item")
	}
}

func TestParseThreadIDsExcludesReaper(t *testing.T) {
	path := writeTemp(t, "1\n42\n43\n")
	got, err := parseThreadIDs(path, true)
	if err != nil {
		t.Fatalf("parseThreadIDs() error = %v", err)
	}
	want := []int{42, 43}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("parseThreadIDs() = %v, want %v", got, want)
	}
}

func TestParseThreadIDsKeepsPID1WithoutReaper(t *testing.T) {
	path := writeTemp(t, "1\n42\n")
	got, err := parseThreadIDs(path, false)
	if err != nil {
		t.Fatalf("parseThreadIDs() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("parseThreadIDs() = %v, want 2 entries", got)
	}
}
