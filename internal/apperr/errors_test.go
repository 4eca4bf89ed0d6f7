package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{Validation("sku", "is required"), CodeValidation},
		{fmt.Errorf("product A: %w", ErrNotFound), CodeNotFound},
		{fmt.Errorf("dup: %w", ErrConflict), CodeConflict},
		{fmt.Errorf("%w: %w", ErrDeductionDrift, ErrInsufficientStock), CodeDeductionDrift},
		{ErrInsufficientStock, CodeInsufficientStock},
		{fmt.Errorf("call: %w", ErrDependencyUnavailable), CodeDependencyUnavailable},
		{errors.New("boom"), CodeInternal},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Code(c.err), "%v", c.err)
	}
}

func TestFromCodeRoundTrip(t *testing.T) {
	for _, sentinel := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrInsufficientStock, ErrDependencyUnavailable, ErrDeductionDrift} {
		err := FromCode(Code(sentinel), "detail")
		assert.ErrorIs(t, err, sentinel)
		assert.Contains(t, err.Error(), "detail")
	}

	err := FromCode("something-else", "opaque")
	assert.EqualError(t, err, "opaque")
	assert.Equal(t, CodeInternal, Code(err))
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal(Validation("qty", "must be positive")))
	assert.True(t, Terminal(fmt.Errorf("x: %w", ErrInsufficientStock)))
	assert.False(t, Terminal(fmt.Errorf("x: %w", ErrDependencyUnavailable)))
	assert.False(t, Terminal(errors.New("boom")))
}
