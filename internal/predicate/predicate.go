// Package predicate evaluates a task's "when" condition against the
// terminal status of its parent. The vocabulary is intentionally closed:
// adding a templating or expression language here would let a submission
// document branch on arbitrary logic, which is out of scope.
package predicate

import (
	"log/slog"
	"sync"

	"github.com/swarmguard/judgeorch/internal/submission"
)

var (
	warnedMu sync.Mutex
	warned   = map[string]bool{}
)

// Check reports whether a child guarded by predicate should run, given its
// parent's terminal status. An empty predicate behaves like "previous.ok".
// Any value outside the closed vocabulary is treated as false (fail-closed)
// and logged once per distinct value, since a silently-false unknown
// predicate is easy to mistake for a different bug in a submission
// document.
func Check(predicate string, parentStatus submission.TaskStatus) bool {
	switch predicate {
	case "true":
		return true
	case "", "previous.ok":
		return parentStatus.Kind == submission.StatusSuccess
	default:
		warnOnce(predicate)
		return false
	}
}

func warnOnce(predicate string) {
	warnedMu.Lock()
	defer warnedMu.Unlock()
	if warned[predicate] {
		return
	}
	warned[predicate] = true
	slog.Warn("unknown predicate, treating as false", "predicate", predicate)
}
