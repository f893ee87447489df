package remote

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := NewError("syncMealPlan", "server returned 503", nil)
	assert.Equal(t, "remote syncMealPlan: server returned 503", err.Error())

	cause := errors.New("connection refused")
	err = NewError("loadMealPlan", "request failed", cause)
	assert.Equal(t, "remote loadMealPlan: request failed: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestWrappedUnauthenticated(t *testing.T) {
	err := fmt.Errorf("drain failed: %w", fmt.Errorf("loadMealPlan: %w", ErrUnauthenticated))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
