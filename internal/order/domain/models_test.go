package domain

import (
	"errors"
	"testing"

	"github.com/smallbiznis/orderbridge/internal/failure"
	"github.com/stretchr/testify/assert"
)

func TestCycleCode(t *testing.T) {
	cases := map[string]string{
		"monthly":      "m",
		"Quarterly":    "q",
		"semiannually": "s",
		"annually":     "a",
		"biennially":   "b",
		" triennially": "t",
		"":             "m",
	}
	for token, want := range cases {
		got, ok := CycleCode(token)
		assert.True(t, ok, token)
		assert.Equal(t, want, got, token)
	}

	_, ok := CycleCode("weekly")
	assert.False(t, ok)
}

func TestStepErrorUnwraps(t *testing.T) {
	err := &StepError{Step: "attach_items", Reached: StateDraftCreated, Err: ErrNoValidItems}
	assert.True(t, errors.Is(err, ErrNoValidItems))
	assert.Equal(t, failure.KindValidation, failure.KindOf(err))
	assert.Equal(t, "attach_items: no_valid_items", err.Error())
}
