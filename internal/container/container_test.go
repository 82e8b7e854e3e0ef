package container

import (
	"reflect"
	"testing"

	"github.com/swarmguard/judgeorch/internal/submission"
)

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"echo hello", []string{"echo", "hello"}},
		{"echo 'hello world'", []string{"echo", "hello world"}},
		{`echo "a b" c`, []string{"echo", "a b", "c"}},
		{"  gcc  -O2  main.c  ", []string{"gcc", "-O2", "main.c"}},
	}
	for _, c := range cases {
		got, err := SplitCommand(c.in)
		if err != nil {
			t.Fatalf("SplitCommand(%q) error = %v", c.in, err)
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("SplitCommand(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestSplitCommandUnterminatedQuote(t *testing.T) {
	if _, err := SplitCommand(`echo "unterminated`); err == nil {
		t.Fatal("expected error for unterminated quote")
	}
}

func TestParseMount(t *testing.T) {
	cases := []struct {
		entry string
		want  MountSpec
	}{
		{"data.txt", MountSpec{From: "/root/data.txt", To: "data.txt"}},
		{"src:dst", MountSpec{From: "/root/src", To: "dst"}},
		{"src:dst:exec,ro", MountSpec{From: "/root/src", To: "dst", Options: []string{"exec", "ro"}}},
		{"/abs/src:dst", MountSpec{From: "/abs/src", To: "dst"}},
	}
	for _, c := range cases {
		got, err := ParseMount(c.entry, "/root")
		if err != nil {
			t.Fatalf("ParseMount(%q) error = %v", c.entry, err)
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("ParseMount(%q) = %+v, want %+v", c.entry, got, c.want)
		}
	}
}

func TestBuildAppliesDefaults(t *testing.T) {
	cfg := &submission.RunContainerConfig{Command: []string{"echo", "hi"}}
	inv, err := Build(cfg, "/images/alpine/latest/bundle", "/submissions/abc")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if inv.Rootfs != "/images/alpine/latest/bundle/rootfs" {
		t.Errorf("Rootfs = %q", inv.Rootfs)
	}
	if inv.Cwd != "/" {
		t.Errorf("Cwd = %q, want /", inv.Cwd)
	}
	if inv.Limits.TimeMS != defaultTimeMS {
		t.Errorf("TimeMS = %d, want %d", inv.Limits.TimeMS, defaultTimeMS)
	}
	if inv.Limits.CgroupMemory != defaultMemoryMiB*1024*1024 {
		t.Errorf("CgroupMemory = %d", inv.Limits.CgroupMemory)
	}
	if inv.Limits.PidsLimit != defaultPidsLimit {
		t.Errorf("PidsLimit = %d, want %d", inv.Limits.PidsLimit, defaultPidsLimit)
	}
}
