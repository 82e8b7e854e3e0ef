package submission

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is the top-level shape of a submitted task document: a single
// named collection of steps plus submission-wide metadata. ID and
// TracingAttribute are both optional on the wire; a blank ID is assigned
// one by the caller (see NewID).
type Document struct {
	ID               string       `json:"id,omitempty"`
	TracingAttribute string       `json:"tracing_attribute,omitempty"`
	Steps            OrderedSteps `json:"steps"`
	Reporter         *ReporterRef `json:"reporter,omitempty"`
}

// ReporterRef names an external reporter to invoke once every task has
// terminated. The executor runs Path with Args as a subprocess through
// report.SubprocessReporter; this only carries the document-supplied
// configuration.
type ReporterRef struct {
	Path string   `json:"path"`
	Args []string `json:"args,omitempty"`
}

// ParseDocument decodes a submission document, rejecting unknown top-level
// fields so a typo in a submitted document fails loudly instead of
// silently doing nothing.
func ParseDocument(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("submission: decoding document: %w", err)
	}
	return &doc, nil
}
