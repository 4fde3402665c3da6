package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlerRegistry(t *testing.T) {
	r := NewHandlerRegistry()
	typed := newTestHandler()
	multi := newTestHandler()
	wildcard := newTestHandler()

	r.Register(typed, "A")
	r.Register(multi, "A", "B")
	r.Register(wildcard)

	assert.Equal(t, 3, r.Len())
	assert.Len(t, r.HandlersFor("A"), 3)
	assert.Len(t, r.HandlersFor("B"), 2)
	assert.Len(t, r.HandlersFor("C"), 1)

	// wildcard handlers come last
	handlers := r.HandlersFor("A")
	assert.Same(t, wildcard, handlers[len(handlers)-1])

	r.Unregister(multi)
	assert.Equal(t, 2, r.Len())
	assert.Len(t, r.HandlersFor("B"), 1)

	r.Unregister(wildcard)
	assert.Empty(t, r.HandlersFor("B"))
	assert.Len(t, r.HandlersFor("A"), 1)
}
