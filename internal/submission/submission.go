package submission

import "time"

// Submission is one resolved, in-flight task document: its identity, the
// resolved task tree ready for execution, and the metadata the executor
// and report assembler both need but that isn't part of the tree itself.
type Submission struct {
	ID               string
	SubmittedAt      time.Time
	TracingAttribute string
	Root             *RootTaskNode

	// Reporter is the document-supplied external reporter to invoke once
	// every task has terminated, carried through unchanged from the
	// parsed Document. Nil means the submission configured none.
	Reporter *ReporterRef
}
