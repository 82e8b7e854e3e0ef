package image

import (
	"path/filepath"
	"testing"

	"github.com/swarmguard/judgeorch/internal/submission"
)

func TestEvictionKeyIsRelativeToManagerRoot(t *testing.T) {
	p := New(t.TempDir(), "skopeo", "umoci", 0, 0, nil)
	img := submission.OciImage{Registry: "docker.io", Name: "library/golang", Tag: "1.22"}

	key := p.EvictionKey(img)
	if filepath.IsAbs(key) {
		t.Fatalf("EvictionKey() = %q, want a relative path", key)
	}

	bundle := p.BundleDir(img)
	wantBundle := filepath.Join(p.rootDir, "images", key, "unpacked")
	if bundle != wantBundle {
		t.Fatalf("BundleDir() = %q, want %q (rootDir/images joined onto EvictionKey())", bundle, wantBundle)
	}
}
