// Package executor drives a resolved submission's task tree to
// completion: it runs action nodes through the worker queue, runs a
// schedule node's members concurrently and aggregates their status, and
// partitions each node's successors into continue/skip via the predicate
// engine once the node itself has terminated.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/swarmguard/judgeorch/internal/predicate"
	"github.com/swarmguard/judgeorch/internal/queue"
	"github.com/swarmguard/judgeorch/internal/report"
	"github.com/swarmguard/judgeorch/internal/submission"
)

// SignalKind discriminates a StatusSignal.
type SignalKind string

const (
	SignalProgress  SignalKind = "PROGRESS"
	SignalError     SignalKind = "ERROR"
	SignalCompleted SignalKind = "COMPLETED"
)

// StatusSignal is one progress notification emitted while a submission
// runs.
type StatusSignal struct {
	SubmissionID string
	TaskID       string
	Type         SignalKind
	Status       submission.TaskStatusKind
}

// Executor walks a resolved submission tree to completion.
type Executor struct {
	Queue            *queue.Queue
	Reporter         report.Reporter
	StrictInvariants bool
}

// New constructs an Executor. strictInvariants mirrors the original's
// debug-build assertion: a Skipped node surfacing as a schedule member
// is an invariant violation that panics when true, and degrades to a
// logged Failed status when false.
func New(q *queue.Queue, reporter report.Reporter, strictInvariants bool) *Executor {
	return &Executor{Queue: q, Reporter: reporter, StrictInvariants: strictInvariants}
}

// Execute runs every top-level task in sub.Root concurrently, waits for
// all of them to terminate, then assembles and returns the final report.
// statusCh may be nil; sends to it never block (a full or absent channel
// simply drops the signal, since only the newest unread signal per
// submission matters to a consumer).
func (e *Executor) Execute(ctx context.Context, rootDir string, sub *submission.Submission, statusCh chan<- StatusSignal) *report.Result {
	g, gctx := errgroup.WithContext(ctx)
	for _, n := range sub.Root.Tasks {
		n := n
		g.Go(func() error {
			e.runNode(gctx, rootDir, sub, n, statusCh)
			return nil
		})
	}
	_ = g.Wait()

	reporter := e.Reporter
	if sub.Reporter != nil {
		reporter = report.NewSubprocessReporter(sub.Reporter.Path, sub.Reporter.Args)
	}
	result := report.Assemble(ctx, rootDir, sub, reporter, nil)
	e.emit(statusCh, StatusSignal{SubmissionID: sub.ID, Type: SignalCompleted})
	return result
}

// runNode executes n (submitting it if it's an action, running its
// members and aggregating if it's a schedule), then partitions its
// children into continue/skip and recurses into the continue set.
func (e *Executor) runNode(ctx context.Context, rootDir string, sub *submission.Submission, n *submission.TaskNode, statusCh chan<- StatusSignal) {
	if !n.CompareAndSetRunning() {
		return
	}

	var status submission.TaskStatus
	switch n.Kind {
	case submission.NodeKindAction:
		status = e.runAction(ctx, rootDir, sub, n)
	case submission.NodeKindSchedule:
		status = e.runMembers(ctx, rootDir, sub, n, statusCh)
	default:
		status = submission.TaskStatus{Kind: submission.StatusFailed}
	}
	n.SetStatus(status)
	e.emit(statusCh, StatusSignal{SubmissionID: sub.ID, TaskID: n.ID, Type: SignalProgress, Status: status.Kind})

	continueChildren, skipChildren := partitionChildren(n.Children, status)
	for _, skip := range skipChildren {
		markSkipped(skip)
	}

	if len(continueChildren) == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, child := range continueChildren {
		child := child
		g.Go(func() error {
			e.runNode(gctx, rootDir, sub, child, statusCh)
			return nil
		})
	}
	_ = g.Wait()
}

// runAction submits n's action to the work queue and awaits its reply.
// A submit failure (e.g. ctx cancelled) or a closed/dropped reply
// channel both surface as a synthetic Failed status, never a panic.
func (e *Executor) runAction(ctx context.Context, rootDir string, sub *submission.Submission, n *submission.TaskNode) submission.TaskStatus {
	reply := make(chan queue.Reply, 1)
	item := queue.WorkItem{
		SubmissionID: sub.ID,
		RootDir:      rootDir,
		Config:       n.Action,
		Reply:        reply,
	}
	if err := e.Queue.Submit(ctx, item); err != nil {
		return failedStatus(err)
	}

	select {
	case r, ok := <-reply:
		if !ok {
			return failedStatus(fmt.Errorf("executor: reply channel closed for task %q", n.ID))
		}
		if r.Err != nil {
			return submission.TaskStatus{Kind: submission.StatusFailed, Report: &r.Report}
		}
		return submission.TaskStatus{Kind: submission.StatusSuccess, Report: &r.Report}
	case <-ctx.Done():
		return failedStatus(ctx.Err())
	}
}

func failedStatus(err error) submission.TaskStatus {
	return submission.TaskStatus{
		Kind: submission.StatusFailed,
		Report: &submission.ActionReport{
			Success: false,
			RunAt:   time.Time{},
			Ext:     err.Error(),
		},
	}
}

// runMembers runs n's Members concurrently and aggregates their
// terminal statuses into n's own status.
func (e *Executor) runMembers(ctx context.Context, rootDir string, sub *submission.Submission, n *submission.TaskNode, statusCh chan<- StatusSignal) submission.TaskStatus {
	g, gctx := errgroup.WithContext(ctx)
	for _, member := range n.Members {
		member := member
		g.Go(func() error {
			e.runNode(gctx, rootDir, sub, member, statusCh)
			return nil
		})
	}
	_ = g.Wait()

	return e.resolveParentStatus(n)
}

// resolveParentStatus aggregates a schedule node's own terminal status
// from the steps it governs. A parallel block's steps are exactly its
// Members; a sequence's single Members entry is only the chain's head,
// so its status has to be aggregated over every step actually declared
// in the sequence, not just the head's own status — found by walking
// the chain the resolver wired through Children. Any Failed step makes
// the parent Failed; any still-Pending step is an invariant violation,
// logged and treated as Pending; a Skipped step is itself an invariant
// violation (a schedule's own steps are never predicate-gated against
// each other), which panics when StrictInvariants is set and otherwise
// degrades to Failed.
func (e *Executor) resolveParentStatus(n *submission.TaskNode) submission.TaskStatus {
	steps := n.Members
	if n.Config != nil && n.Config.Kind == submission.TaskKindSequence && len(n.Members) == 1 {
		steps = flattenChain(n.Members[0])
	}

	sawPending := false
	for _, step := range steps {
		status := step.Status()
		switch status.Kind {
		case submission.StatusFailed:
			return submission.TaskStatus{Kind: submission.StatusFailed}
		case submission.StatusPending:
			sawPending = true
		case submission.StatusSkipped:
			msg := fmt.Sprintf("executor: schedule node %q has a skipped step %q; a schedule's own steps are never predicate-gated", n.ID, step.ID)
			if e.StrictInvariants {
				panic(msg)
			}
			slog.Error(msg)
			return submission.TaskStatus{Kind: submission.StatusFailed}
		}
	}
	if sawPending {
		slog.Error("executor: schedule node has a step still pending after its errgroup returned", "node", n.ID)
		return submission.TaskStatus{Kind: submission.StatusPending}
	}
	return submission.TaskStatus{Kind: submission.StatusSuccess}
}

// flattenChain returns head and every node transitively reachable from
// it via Children — the full set of steps a sequence's resolver chained
// together, mirroring the flat per-step status map the original
// implementation aggregates a sequence's status from.
func flattenChain(head *submission.TaskNode) []*submission.TaskNode {
	nodes := []*submission.TaskNode{head}
	for _, child := range head.Children {
		nodes = append(nodes, flattenChain(child)...)
	}
	return nodes
}

// partitionChildren splits children into those admitted to run and
// those to mark skipped, by evaluating each child's own "when" predicate
// against parentStatus.
func partitionChildren(children []*submission.TaskNode, parentStatus submission.TaskStatus) (continueChildren, skipChildren []*submission.TaskNode) {
	for _, child := range children {
		when := ""
		if child.Config != nil {
			when = child.Config.When
		}
		if predicate.Check(when, parentStatus) {
			continueChildren = append(continueChildren, child)
		} else {
			skipChildren = append(skipChildren, child)
		}
	}
	return continueChildren, skipChildren
}

// markSkipped marks n and every transitive descendant (both Members and
// Children) as Skipped, without evaluating any further predicates.
func markSkipped(n *submission.TaskNode) {
	n.SetStatus(submission.TaskStatus{Kind: submission.StatusSkipped})
	for _, member := range n.Members {
		markSkipped(member)
	}
	for _, child := range n.Children {
		markSkipped(child)
	}
}

func (e *Executor) emit(statusCh chan<- StatusSignal, sig StatusSignal) {
	if statusCh == nil {
		return
	}
	select {
	case statusCh <- sig:
	default:
	}
}
