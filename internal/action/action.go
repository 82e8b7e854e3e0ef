// Package action implements the fixed vocabulary of task action
// executors: noop, add-file, run-container, and the run-judge compile and
// run variants layered on top of it.
package action

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/swarmguard/judgeorch/internal/cache"
	"github.com/swarmguard/judgeorch/internal/container"
	"github.com/swarmguard/judgeorch/internal/eviction"
	"github.com/swarmguard/judgeorch/internal/image"
	"github.com/swarmguard/judgeorch/internal/runner"
	"github.com/swarmguard/judgeorch/internal/submission"
)

// Executor dispatches a resolved action config to its concrete handler,
// holding every dependency an action might need: the sandbox invoker, the
// image preparer, the artifact and HTTP caches, the CPU-bound runner
// pool, and (optionally) the image eviction manager that tracks which
// images are in active use.
type Executor struct {
	Invoker       *container.Invoker
	ImagePreparer *image.Preparer
	ImageEviction *eviction.Manager
	ArtifactCache *cache.ArtifactCache
	HTTPCache     *cache.HTTPCache
	Pool          *runner.Pool
	HTTPClient    *http.Client
	MountRoot     string
}

// NewExecutor constructs an Executor from its dependencies. httpClient may
// be nil, in which case a default client is used.
func NewExecutor(inv *container.Invoker, preparer *image.Preparer, imageEviction *eviction.Manager, artifactCache *cache.ArtifactCache, httpCache *cache.HTTPCache, pool *runner.Pool, httpClient *http.Client, mountRoot string) *Executor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Executor{
		Invoker:       inv,
		ImagePreparer: preparer,
		ImageEviction: imageEviction,
		ArtifactCache: artifactCache,
		HTTPCache:     httpCache,
		Pool:          pool,
		HTTPClient:    httpClient,
		MountRoot:     mountRoot,
	}
}

// Execute dispatches cfg to the handler for its Kind and produces an
// ActionReport. rootDir is the submission's working directory
// ("submission_root" in the spec's terms).
func (e *Executor) Execute(ctx context.Context, rootDir string, cfg *submission.ActionConfig) (*submission.ActionReport, error) {
	start := time.Now()
	report := &submission.ActionReport{RunAt: start}

	var err error
	switch cfg.Kind {
	case submission.ActionNoop:
		report.Ext, err = runNoop(cfg.Noop)

	case submission.ActionAddFile:
		err = e.runAddFile(ctx, rootDir, cfg.AddFile)

	case submission.ActionRunContainer:
		var cr *submission.ContainerExecutionReport
		cr, err = e.runContainer(ctx, rootDir, cfg.RunContainer)
		report.Ext = cr
		if err == nil && cr != nil {
			err = statusErr(cr)
		}

	case submission.ActionCompile:
		var cr *submission.ContainerExecutionReport
		cr, err = e.runCompile(ctx, rootDir, cfg.Compile)
		report.Ext = cr
		if err == nil && cr != nil {
			err = statusErr(cr)
		}

	case submission.ActionRun:
		var cr *submission.ContainerExecutionReport
		cr, err = e.runJudgeRun(ctx, rootDir, cfg.Run)
		report.Ext = cr
		if err == nil && cr != nil {
			err = statusErr(cr)
		}

	default:
		return nil, fmt.Errorf("action: unknown kind %q", cfg.Kind)
	}

	report.ElapsedMS = time.Since(start).Milliseconds()
	report.Success = err == nil
	return report, err
}

func statusErr(r *submission.ContainerExecutionReport) error {
	if r.Status != submission.ContainerStatusNormal {
		return fmt.Errorf("action: container exited with status %s", r.Status)
	}
	return nil
}

type noopReport struct {
	Test int `json:"test"`
}

func runNoop(cfg *submission.NoopConfig) (*noopReport, error) {
	if cfg == nil {
		return &noopReport{}, nil
	}
	return &noopReport{Test: cfg.Test}, nil
}
