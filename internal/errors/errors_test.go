package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderProducesEnhancedError(t *testing.T) {
	t.Parallel()

	base := NewStd("stream closed unexpectedly")
	err := New(base).
		Component("myaudio").
		Category(CategoryStream).
		Context("station_id", 42).
		Build()

	assert.Equal(t, "stream closed unexpectedly", err.Error())
	assert.Equal(t, "myaudio", err.GetComponent())
	assert.Equal(t, string(CategoryStream), err.GetCategory())
	assert.Equal(t, 42, err.GetContext()["station_id"])
	assert.False(t, err.GetTimestamp().IsZero())
	require.ErrorIs(t, err, base)
}

func TestBuildDefaultsToGenericCategory(t *testing.T) {
	t.Parallel()

	err := Newf("something %s happened", "odd").Build()
	assert.Equal(t, CategoryGeneric, err.Category)
	assert.Equal(t, ComponentUnknown, err.GetComponent())
}

func TestUnwrapChain(t *testing.T) {
	t.Parallel()

	sentinel := NewStd("boom")
	wrapped := fmt.Errorf("outer: %w", sentinel)
	err := New(wrapped).Category(CategoryDatabase).Build()

	assert.True(t, Is(err, sentinel))

	var ee *EnhancedError
	require.True(t, As(err, &ee))
	assert.Equal(t, CategoryDatabase, ee.Category)
}

func TestCategoryChecks(t *testing.T) {
	t.Parallel()

	notFound := New(NewStd("no such track")).Category(CategoryNotFound).Build()
	conflict := New(NewStd("isrc already taken")).Category(CategoryConflict).Build()

	assert.True(t, IsNotFound(notFound))
	assert.False(t, IsNotFound(conflict))
	assert.True(t, IsConflict(conflict))
	assert.True(t, IsCategory(conflict, CategoryConflict))
}

func TestErrorHookReceivesBuiltErrors(t *testing.T) {
	var got []*EnhancedError
	AddErrorHook(func(ee *EnhancedError) { got = append(got, ee) })

	built := New(NewStd("probe failed")).Category(CategoryNetwork).Build()

	require.NotEmpty(t, got)
	assert.Same(t, built, got[len(got)-1])
}

func TestContextCopyIsIsolated(t *testing.T) {
	t.Parallel()

	err := New(NewStd("x")).Context("k", "v").Build()
	ctx := err.GetContext()
	ctx["k"] = "mutated"

	assert.Equal(t, "v", err.GetContext()["k"])
}
