package synchs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPromiseResolvesOnce(t *testing.T) {
	p := NewPromise()
	assert.False(t, p.Done())

	calls := 0
	p.Then(func(v interface{}) {
		calls++
		assert.Equal(t, 42, v)
	})
	p.Resolve(42)
	p.Resolve(43)

	assert.True(t, p.Done())
	assert.Equal(t, 1, calls)
	assert.Equal(t, 42, p.Value())
}

func TestPromiseLateContinuationRunsImmediately(t *testing.T) {
	p := NewPromise()
	p.Resolve("ready")

	ran := false
	p.Then(func(v interface{}) {
		ran = true
		assert.Equal(t, "ready", v)
	})
	assert.True(t, ran)
}

func TestResolvedPromise(t *testing.T) {
	p := ResolvedPromise(7)
	assert.True(t, p.Done())
	assert.Equal(t, 7, p.Value())
}
