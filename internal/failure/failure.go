// Package failure classifies saga errors so callers can decide between
// surfacing, falling back and logging.
package failure

import (
	"errors"
	"strings"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindUpstream   Kind = "upstream_unavailable"
	KindConflict   Kind = "conflict"
	KindIntegrity  Kind = "integrity"
	KindRateLimit  Kind = "rate_limited"
	KindInternal   Kind = "internal"
)

// Error is a classified error. Package-level *Error values act as sentinels
// and are matched with errors.Is.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func New(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Upstream marks err as a failure of an external system.
func Upstream(code string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindUpstream, Code: code, Err: err}
}

// KindOf reports the classification of err. Unclassified transient network
// errors count as upstream failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if IsTransient(err) {
		return KindUpstream
	}
	return KindInternal
}

// CodeOf returns the outermost failure code, or "internal_error".
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) && fe.Code != "" {
		return fe.Code
	}
	return "internal_error"
}

// Issue is a non-fatal problem recorded alongside a successful result.
type Issue struct {
	Step    string `json:"step"`
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IssueFrom converts err into an Issue for step.
func IssueFrom(step string, err error) Issue {
	issue := Issue{Step: step, Kind: KindOf(err), Code: CodeOf(err)}
	if err != nil {
		issue.Message = err.Error()
	}
	return issue
}

// Warning builds an integrity warning.
func Warning(step, code, message string) Issue {
	return Issue{Step: step, Kind: KindIntegrity, Code: code, Message: strings.TrimSpace(message)}
}
