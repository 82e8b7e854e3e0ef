// Package report assembles a submission's final report: a serialized
// status tree, optional embedded file contents, and optional multipart
// uploads, after every task in the submission has reached a terminal
// state.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/swarmguard/judgeorch/internal/submission"
)

// Entry is one task's serialized status, mirroring the resolved tree
// shape (Schedule nodes carry their structural children, action nodes
// carry their terminal ActionReport).
type Entry struct {
	Name     string                   `json:"name"`
	Status   string                   `json:"status"`
	Action   *submission.ActionReport `json:"action,omitempty"`
	Children []Entry                  `json:"children,omitempty"`
}

// Result is the final report written back for a completed submission.
type Result struct {
	SubmissionID string            `json:"submission_id"`
	Tasks        []Entry           `json:"tasks"`
	Embeds       map[string]string `json:"embeds,omitempty"`
	ReportError  string            `json:"report_error,omitempty"`
}

// ReporterResponse is what an external Reporter contributes on top of
// the directives already attached to individual tasks in the document.
type ReporterResponse struct {
	Embeds  []submission.ReportEmbedConfig  `json:"embeds,omitempty"`
	Uploads []submission.ReportUploadConfig `json:"uploads,omitempty"`
}

// Reporter models the external reporter sandbox: given the assembled
// submission, it returns additional embed/upload directives to apply. A
// nil Reporter is valid and simply contributes nothing.
type Reporter interface {
	Report(ctx context.Context, sub *submission.Submission, tasks []Entry) (ReporterResponse, error)
}

// reporterInput is what a SubprocessReporter writes to the helper's
// stdin: just enough of the assembled submission for the helper to
// decide what to embed or upload.
type reporterInput struct {
	SubmissionID string  `json:"submission_id"`
	Tasks        []Entry `json:"tasks"`
}

// SubprocessReporter runs an external reporter binary, the same way
// internal/container and internal/image shell out to their own helpers:
// the submission's assembled task tree goes to the child's stdin as
// JSON, and a ReporterResponse comes back on its stdout. A cancelled ctx
// sends SIGTERM to the helper's process group and waits for it to exit
// before returning, rather than abandoning the child process.
type SubprocessReporter struct {
	path string
	args []string
}

// NewSubprocessReporter builds a SubprocessReporter that invokes path
// with args, grounded on a document's ReporterRef.
func NewSubprocessReporter(path string, args []string) *SubprocessReporter {
	return &SubprocessReporter{path: path, args: args}
}

func (r *SubprocessReporter) Report(ctx context.Context, sub *submission.Submission, tasks []Entry) (ReporterResponse, error) {
	payload, err := json.Marshal(reporterInput{SubmissionID: sub.ID, Tasks: tasks})
	if err != nil {
		return ReporterResponse{}, fmt.Errorf("report: encoding reporter input: %w", err)
	}

	cmd := exec.Command(r.path, r.args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return ReporterResponse{}, fmt.Errorf("report: starting reporter: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		<-done
		return ReporterResponse{}, fmt.Errorf("report: reporter cancelled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return ReporterResponse{}, fmt.Errorf("report: reporter exited abnormally: %w: %s", err, stderr.String())
		}
	}

	var resp ReporterResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return ReporterResponse{}, fmt.Errorf("report: decoding reporter output: %w", err)
	}
	return resp, nil
}

// BuildEntries walks root into its Entry tree, reading each node's
// current (terminal, by the time this is called) status.
func BuildEntries(root *submission.RootTaskNode) []Entry {
	entries := make([]Entry, 0, len(root.Tasks))
	for _, n := range root.Tasks {
		entries = append(entries, buildEntry(n))
	}
	return entries
}

func buildEntry(n *submission.TaskNode) Entry {
	status := n.Status()
	e := Entry{Name: n.ID, Status: status.Kind.String(), Action: status.Report}
	for _, member := range n.Members {
		e.Children = append(e.Children, buildEntry(member))
	}
	for _, child := range n.Children {
		e.Children = append(e.Children, buildEntry(child))
	}
	return e
}

// Assemble builds the final Result for sub: serializes the status tree,
// invokes reporter if configured, applies embeds and uploads, and
// surfaces any failure in ReportError without discarding the otherwise-
// complete status tree.
func Assemble(ctx context.Context, rootDir string, sub *submission.Submission, reporter Reporter, httpClient *http.Client) *Result {
	tasks := BuildEntries(sub.Root)
	result := &Result{SubmissionID: sub.ID, Tasks: tasks}

	embedDirectives, uploadDirectives := collectDirectives(sub.Root)

	if reporter != nil {
		resp, err := reporter.Report(ctx, sub, tasks)
		if err != nil {
			result.ReportError = fmt.Sprintf("reporter failed: %+v", err)
			return result
		}
		embedDirectives = append(embedDirectives, resp.Embeds...)
		uploadDirectives = append(uploadDirectives, resp.Uploads...)
	}

	if len(embedDirectives) > 0 {
		embeds, err := applyEmbeds(rootDir, embedDirectives)
		if err != nil {
			result.ReportError = joinErr(result.ReportError, err)
		}
		result.Embeds = embeds
	}

	if len(uploadDirectives) > 0 {
		if httpClient == nil {
			httpClient = http.DefaultClient
		}
		if err := applyUploads(ctx, httpClient, rootDir, uploadDirectives); err != nil {
			result.ReportError = joinErr(result.ReportError, err)
		}
	}

	return result
}

func joinErr(existing string, err error) string {
	if existing == "" {
		return err.Error()
	}
	return existing + "; " + err.Error()
}

// collectDirectives gathers every task's Report directives whose When
// condition is satisfied by that task's own terminal status.
func collectDirectives(root *submission.RootTaskNode) ([]submission.ReportEmbedConfig, []submission.ReportUploadConfig) {
	var embeds []submission.ReportEmbedConfig
	var uploads []submission.ReportUploadConfig
	for _, n := range root.Tasks {
		collectNode(n, &embeds, &uploads)
	}
	return embeds, uploads
}

func collectNode(n *submission.TaskNode, embeds *[]submission.ReportEmbedConfig, uploads *[]submission.ReportUploadConfig) {
	if n.Config != nil && n.Config.Report != nil {
		status := n.Status()
		for _, e := range n.Config.Report.Embeds {
			if whenSatisfied(e.When, status.Kind) {
				*embeds = append(*embeds, e)
			}
		}
		for _, u := range n.Config.Report.Uploads {
			if whenSatisfied(u.When, status.Kind) {
				*uploads = append(*uploads, u)
			}
		}
	}
	for _, member := range n.Members {
		collectNode(member, embeds, uploads)
	}
	for _, child := range n.Children {
		collectNode(child, embeds, uploads)
	}
}

func whenSatisfied(when submission.ReportWhen, status submission.TaskStatusKind) bool {
	switch when {
	case submission.ReportWhenAlways, "":
		return true
	case submission.ReportWhenSuccess:
		return status == submission.StatusSuccess
	case submission.ReportWhenFailure:
		return status == submission.StatusFailed
	default:
		return false
	}
}

func applyEmbeds(rootDir string, configs []submission.ReportEmbedConfig) (map[string]string, error) {
	out := make(map[string]string, len(configs))
	var failures []string

	for _, cfg := range configs {
		path := filepath.Join(rootDir, cfg.Path)
		content, err := readTruncated(path, cfg.TruncateKiB)
		if err != nil {
			if os.IsNotExist(err) && cfg.IgnoreIfMissing {
				continue
			}
			failures = append(failures, fmt.Sprintf("%s: %v", cfg.Path, err))
			continue
		}
		out[cfg.Field] = content
	}

	if len(failures) > 0 {
		return out, fmt.Errorf("embedding files: %s", strings.Join(failures, "; "))
	}
	return out, nil
}

func readTruncated(path string, truncateKiB int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	limit := truncateKiB * 1024
	if limit <= 0 {
		data, err := io.ReadAll(f)
		return string(data), err
	}

	buf := make([]byte, limit)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return string(buf[:n]), nil
}

func applyUploads(ctx context.Context, client *http.Client, rootDir string, configs []submission.ReportUploadConfig) error {
	var failures []string

	for _, cfg := range configs {
		if err := uploadOne(ctx, client, rootDir, cfg); err != nil {
			if os.IsNotExist(err) && cfg.IgnoreIfMissing {
				continue
			}
			failures = append(failures, fmt.Sprintf("%s: %v", cfg.Path, err))
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("uploading files: %s", strings.Join(failures, "; "))
	}
	return nil
}

func uploadOne(ctx context.Context, client *http.Client, rootDir string, cfg submission.ReportUploadConfig) error {
	path := filepath.Join(rootDir, cfg.Path)
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var body strings.Builder
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(cfg.FormField, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("building multipart form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("reading file into form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("closing multipart form: %w", err)
	}

	method := string(cfg.Method)
	if method == "" {
		method = string(submission.ReportUploadPost)
	}
	req, err := http.NewRequestWithContext(ctx, method, cfg.Target, strings.NewReader(body.String()))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("remote server returned a failed response: %s", text)
	}
	return nil
}
