package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Is(t *testing.T) {
	t.Run("matches sentinel by code", func(t *testing.T) {
		err := NewDomainError("INSUFFICIENT_CREDITS", "need 5 lookup credits, have 2")

		assert.True(t, errors.Is(err, ErrInsufficientCredits))
		assert.False(t, errors.Is(err, ErrInvalidAmount))
	})

	t.Run("matches through wrapping", func(t *testing.T) {
		err := fmt.Errorf("consume: %w", ErrInvalidSignature)

		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("does not match plain errors", func(t *testing.T) {
		assert.False(t, errors.Is(errors.New("NOT_FOUND"), ErrNotFound))
	})

	t.Run("message is the error text", func(t *testing.T) {
		assert.Equal(t, "Resource not found", ErrNotFound.Error())
	})
}
