package failure

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errSample = New(KindValidation, "invalid_amount")

func TestSentinelsMatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("initialize: %w", errSample)
	assert.ErrorIs(t, err, errSample)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, "invalid_amount", CodeOf(err))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindUpstream, KindOf(fmt.Errorf("dial: %w", syscall.ECONNREFUSED)))
	assert.Equal(t, KindUpstream, KindOf(Upstream("billing_unavailable", errors.New("x"))))
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"5xx", &StatusError{StatusCode: 503}, true},
		{"429", &StatusError{StatusCode: 429}, true},
		{"4xx", &StatusError{StatusCode: 400}, false},
		{"plain", errors.New("nope"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestIssueFrom(t *testing.T) {
	issue := IssueFrom("attach_item", fmt.Errorf("wrap: %w", errSample))
	assert.Equal(t, "attach_item", issue.Step)
	assert.Equal(t, KindValidation, issue.Kind)
	assert.Equal(t, "invalid_amount", issue.Code)
	assert.Contains(t, issue.Message, "invalid_amount")

	w := Warning("convert", "invoice_auto_paid", " reset failed ")
	assert.Equal(t, KindIntegrity, w.Kind)
	assert.Equal(t, "reset failed", w.Message)
}
