package action

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/swarmguard/judgeorch/internal/runner"
	"github.com/swarmguard/judgeorch/internal/submission"
)

// runAddFile materializes every file item concurrently, aggregating
// per-item failures rather than stopping at the first one.
func (e *Executor) runAddFile(ctx context.Context, rootDir string, cfg *submission.AddFileConfig) error {
	var (
		mu     sync.Mutex
		failed []string
		wg     sync.WaitGroup
	)

	for _, item := range cfg.Files {
		item := item
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.writeAddFileItem(ctx, rootDir, item); err != nil {
				mu.Lock()
				failed = append(failed, fmt.Sprintf("%s: %+v", item, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(failed) > 0 {
		return fmt.Errorf("add-file: %d of %d files failed: %s", len(failed), len(cfg.Files), strings.Join(failed, "; "))
	}
	return nil
}

func (e *Executor) writeAddFileItem(ctx context.Context, rootDir string, item submission.AddFileItem) error {
	dest := filepath.Join(rootDir, item.Path)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	mode := os.FileMode(0o644)
	if item.Mode != 0 {
		mode = os.FileMode(item.Mode)
	}

	switch item.SourceKind {
	case submission.AddFileSourcePlain:
		return os.WriteFile(dest, []byte(item.Plain), mode)

	case submission.AddFileSourceBase64:
		decoded, err := runner.RunBlocking(ctx, e.Pool, func() ([]byte, error) {
			return base64.StdEncoding.DecodeString(item.Base64)
		})
		if err != nil {
			return fmt.Errorf("decoding base64: %w", err)
		}
		return os.WriteFile(dest, decoded, mode)

	case submission.AddFileSourceLocal:
		src, err := os.Open(item.Local)
		if err != nil {
			return fmt.Errorf("opening local source: %w", err)
		}
		defer src.Close()

		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
		if err != nil {
			return fmt.Errorf("creating destination: %w", err)
		}
		defer out.Close()

		if _, err := io.Copy(out, src); err != nil {
			return fmt.Errorf("copying local source: %w", err)
		}
		return nil

	case submission.AddFileSourceHTTP:
		return e.downloadAddFileItem(ctx, item, dest, mode)

	default:
		return fmt.Errorf("unknown add-file source kind %q", item.SourceKind)
	}
}

func (e *Executor) downloadAddFileItem(ctx context.Context, item submission.AddFileItem, dest string, mode os.FileMode) error {
	if e.HTTPCache != nil {
		if body, ok := e.HTTPCache.Get(item.URL); ok {
			return os.WriteFile(dest, body, mode)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.URL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	type result struct {
		body []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := e.HTTPClient.Do(req)
		if err != nil {
			done <- result{err: fmt.Errorf("downloading: %w", err)}
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			done <- result{err: fmt.Errorf("got a non-ok response: %s", resp.Status)}
			return
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			done <- result{err: fmt.Errorf("reading response body: %w", err)}
			return
		}
		done <- result{body: body}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-done:
		if r.err != nil {
			return r.err
		}
		if e.HTTPCache != nil {
			e.HTTPCache.Set(item.URL, r.body)
		}
		return os.WriteFile(dest, r.body, mode)
	}
}
