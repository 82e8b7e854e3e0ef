package cache

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// PackSaves tars and gzips every path in saves (resolved relative to dir)
// into a single archive, suitable for storing in the artifact cache. No
// library in the dependency pack wraps tar packing, so this uses
// archive/tar and compress/gzip directly.
func PackSaves(dir string, saves []string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, rel := range saves {
		full := filepath.Join(dir, rel)
		info, err := os.Stat(full)
		if err != nil {
			return nil, fmt.Errorf("cache: stat %s: %w", full, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("cache: save item %s is a directory, expected a file", rel)
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return nil, fmt.Errorf("cache: building tar header for %s: %w", rel, err)
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("cache: writing tar header for %s: %w", rel, err)
		}

		f, err := os.Open(full)
		if err != nil {
			return nil, fmt.Errorf("cache: opening %s: %w", full, err)
		}
		_, copyErr := io.Copy(tw, f)
		f.Close()
		if copyErr != nil {
			return nil, fmt.Errorf("cache: writing %s into archive: %w", rel, copyErr)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("cache: closing tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("cache: closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// UnpackSaves extracts an archive produced by PackSaves into dir.
func UnpackSaves(dir string, archive []byte) error {
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return fmt.Errorf("cache: opening gzip reader: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("cache: reading tar entry: %w", err)
		}

		dest := filepath.Join(dir, hdr.Name)
		if rel, err := filepath.Rel(dir, dest); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("cache: tar entry %q escapes destination directory", hdr.Name)
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("cache: creating parent of %s: %w", dest, err)
		}
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
		if err != nil {
			return fmt.Errorf("cache: creating %s: %w", dest, err)
		}
		_, copyErr := io.Copy(f, tr)
		f.Close()
		if copyErr != nil {
			return fmt.Errorf("cache: writing %s: %w", dest, copyErr)
		}
	}
}
