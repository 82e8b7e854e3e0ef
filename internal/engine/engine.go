// Package engine centralizes the singleton lifetimes every submission
// shares: the cgroup-pinned runner pool, the image preparer and its
// eviction manager, the artifact and HTTP caches, the submission working
// directory eviction manager, the worker queue, the action executor, and
// the task executor built on top of all of them.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/swarmguard/judgeorch/internal/action"
	"github.com/swarmguard/judgeorch/internal/cache"
	"github.com/swarmguard/judgeorch/internal/cgroup"
	"github.com/swarmguard/judgeorch/internal/config"
	"github.com/swarmguard/judgeorch/internal/container"
	"github.com/swarmguard/judgeorch/internal/executor"
	"github.com/swarmguard/judgeorch/internal/eviction"
	"github.com/swarmguard/judgeorch/internal/image"
	"github.com/swarmguard/judgeorch/internal/queue"
	"github.com/swarmguard/judgeorch/internal/report"
	"github.com/swarmguard/judgeorch/internal/resolver"
	"github.com/swarmguard/judgeorch/internal/runner"
	"github.com/swarmguard/judgeorch/internal/submission"
)

// Engine owns every long-lived component and exposes the one operation
// an ingress handler needs: submitting a parsed document for execution.
type Engine struct {
	cfg *config.Config

	binder *cgroup.Binder
	pool   *runner.Pool

	store         *eviction.Store
	imageEviction *eviction.Manager
	subEviction   *eviction.Manager

	preparer      *image.Preparer
	artifactCache *cache.ArtifactCache
	httpCache     *cache.HTTPCache
	invoker       *container.Invoker

	actionExecutor *action.Executor
	taskExecutor   *executor.Executor

	queue      *queue.Queue
	mountRoot  string
	submitRoot string
}

// New wires every component from cfg. reaperPresent is handed to the
// cgroup binder: when set, PID 1 (a reaper process) is also moved into
// main.scope and its thread id is excluded from runner thread binding.
func New(ctx context.Context, cfg *config.Config, reaperPresent bool) (*Engine, error) {
	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: creating root dir: %w", err)
	}
	submitRoot := filepath.Join(cfg.TmpDir, "seele", "submissions")
	mountRoot := filepath.Join(cfg.RootDir, "temp")
	if err := os.MkdirAll(submitRoot, 0o755); err != nil {
		return nil, fmt.Errorf("engine: creating submission root: %w", err)
	}
	if err := os.MkdirAll(mountRoot, 0o755); err != nil {
		return nil, fmt.Errorf("engine: creating mount root: %w", err)
	}

	binder, err := cgroup.NewBinder(cgroup.DefaultCgroupRoot, reaperPresent)
	if err != nil {
		return nil, fmt.Errorf("engine: binding cgroup root: %w", err)
	}
	assignedCPUs, err := binder.Bind(cfg.RunnerThreads, reaperPresent)
	if err != nil {
		return nil, fmt.Errorf("engine: pinning runner threads: %w", err)
	}

	pool := runner.New(cfg.RunnerThreads, nil)

	store, err := eviction.OpenStore(filepath.Join(cfg.RootDir, "eviction.db"))
	if err != nil {
		return nil, fmt.Errorf("engine: opening eviction store: %w", err)
	}

	imageEviction, err := eviction.New(
		"images", filepath.Join(cfg.RootDir, "images"),
		time.Duration(cfg.ImageEvictionIntervalMinute)*time.Minute,
		time.Duration(cfg.ImageEvictionTTLMinute)*time.Minute,
		cfg.ImageEvictionCapacity, store,
	)
	if err != nil {
		return nil, fmt.Errorf("engine: constructing image eviction manager: %w", err)
	}

	subEviction, err := eviction.New(
		"submissions", submitRoot,
		time.Duration(cfg.SubmissionEvictionIntervalMinute)*time.Minute,
		time.Duration(cfg.SubmissionEvictionTTLMinute)*time.Minute,
		cfg.SubmissionEvictionCapacity, store,
	)
	if err != nil {
		return nil, fmt.Errorf("engine: constructing submission eviction manager: %w", err)
	}

	preparer := image.New(
		cfg.RootDir, cfg.SkopeoPath, cfg.UmociPath,
		time.Duration(cfg.PullImageTimeoutSeconds)*time.Second,
		time.Duration(cfg.UnpackImageTimeoutSeconds)*time.Second,
		pool,
	)

	artifactCache, err := cache.NewArtifactCache(cfg.ArtifactCacheSizeMiB, time.Duration(cfg.ArtifactCacheTTLHour)*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("engine: constructing artifact cache: %w", err)
	}
	httpCache, err := cache.NewHTTPCache(cfg.AddFileCacheSizeMiB, time.Duration(cfg.AddFileCacheTTLHour)*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("engine: constructing http cache: %w", err)
	}

	invoker := container.NewInvoker(cfg.RunjPath, pool, assignedCPUs)
	actionExecutor := action.NewExecutor(invoker, preparer, imageEviction, artifactCache, httpCache, pool, nil, mountRoot)
	taskExecutor := executor.New(nil, nil, cfg.StrictInvariants)

	e := &Engine{
		cfg:            cfg,
		binder:         binder,
		pool:           pool,
		store:          store,
		imageEviction:  imageEviction,
		subEviction:    subEviction,
		preparer:       preparer,
		artifactCache:  artifactCache,
		httpCache:      httpCache,
		invoker:        invoker,
		actionExecutor: actionExecutor,
		taskExecutor:   taskExecutor,
		mountRoot:      mountRoot,
		submitRoot:     submitRoot,
	}

	q := queue.New(4*cfg.RunnerThreads, e.dispatch)
	e.queue = q
	e.taskExecutor.Queue = q

	for _, ref := range cfg.PreloadImages {
		img := submission.ParseOciImage(ref)
		if err := preparer.Prepare(ctx, img); err != nil {
			slog.Warn("engine: preload failed", "image", ref, "error", err)
		}
	}

	return e, nil
}

// Run starts the queue dispatch loop and both eviction loops, blocking
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { e.queue.Run(gctx); return nil })
	g.Go(func() error { e.imageEviction.RunLoop(gctx); return nil })
	g.Go(func() error { e.subEviction.RunLoop(gctx); return nil })
	_ = g.Wait()
}

// Close releases resources that outlive a single ctx cancellation (the
// bbolt handle backing both eviction managers).
func (e *Engine) Close() error {
	return e.store.Close()
}

// dispatch is the queue's per-item handler: it runs the action executor
// and forwards the outcome through the item's reply channel.
func (e *Engine) dispatch(ctx context.Context, item queue.WorkItem) {
	r, err := e.actionExecutor.Execute(ctx, item.RootDir, item.Config)
	reply := queue.Reply{Err: err}
	if r != nil {
		reply.Report = *r
	}
	select {
	case item.Reply <- reply:
	default:
		slog.Warn("engine: dropping reply, receiver gone", "submission_id", item.SubmissionID)
	}
}

// Submit resolves doc into an executable tree, runs it to completion, and
// returns the assembled report. The submission's own working directory is
// pinned against eviction for the duration of the run.
func (e *Engine) Submit(ctx context.Context, doc *submission.Document, span trace.Span) (*report.Result, error) {
	if doc.ID == "" {
		doc.ID = submission.NewID()
	}

	root, err := resolver.Resolve(doc)
	if err != nil {
		return nil, fmt.Errorf("engine: resolving submission %s: %w", doc.ID, err)
	}

	rootDir := filepath.Join(e.submitRoot, doc.ID)
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: creating submission directory: %w", err)
	}

	e.subEviction.VisitEnter(doc.ID)
	defer e.subEviction.VisitLeave(doc.ID)

	sub := &submission.Submission{
		ID:               doc.ID,
		SubmittedAt:      time.Now(),
		TracingAttribute: doc.TracingAttribute,
		Root:             root,
		Reporter:         doc.Reporter,
	}

	if span != nil && sub.TracingAttribute != "" {
		span.SetAttributes(attribute.String("judgeorch.tracing_attribute", sub.TracingAttribute))
	}

	result := e.taskExecutor.Execute(ctx, rootDir, sub, nil)
	return result, nil
}
