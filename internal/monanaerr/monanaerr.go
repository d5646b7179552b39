// Package monanaerr is the structured error type threaded through every
// layer of the pipeline, so the orchestrator can branch on error kind
// instead of string-matching messages.
package monanaerr

import "fmt"

// Kind categorizes an Error per the error-kinds taxonomy: only
// KindConfig and KindInputPath are fatal to the process.
type Kind string

const (
	KindConfig          Kind = "config"
	KindInputPath       Kind = "input_path"
	KindExtraction      Kind = "extraction"
	KindEXIF            Kind = "exif"
	KindRuleEval        Kind = "rule_eval"
	KindTemplateRef     Kind = "template_ref"
	KindAction          Kind = "action"
	KindLocationHistory Kind = "location_history"
)

// Error is monana's structured error: a kind, the operation being
// attempted, the affected path, and the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Op, e.Path)
}

// Unwrap allows errors.Is/errors.As to reach the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsFatal reports whether this error must terminate the process with a
// non-zero exit code (spec.md §6, §7): true only for configuration and
// input-path errors.
func (e *Error) IsFatal() bool {
	switch e.Kind {
	case KindConfig, KindInputPath:
		return true
	default:
		return false
	}
}

// New constructs an Error.
func New(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}
