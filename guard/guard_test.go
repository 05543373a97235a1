package guard

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	order *[]string
	name  string
	err   error
	calls int
}

func (r *recorder) Release() error {
	r.calls++
	*r.order = append(*r.order, r.name)
	return r.err
}

func TestStackReleasesInReverseOrder(t *testing.T) {
	var order []string
	var s Stack
	s.Push("a", &recorder{order: &order, name: "a"})
	s.Push("b", &recorder{order: &order, name: "b"})
	s.Push("c", &recorder{order: &order, name: "c"})

	require.NoError(t, s.Release())
	assert.Equal(t, []string{"c", "b", "a"}, order)
}

func TestStackReleasesExactlyOnce(t *testing.T) {
	var order []string
	r := &recorder{order: &order, name: "only"}
	var s Stack
	s.Push("only", r)

	require.NoError(t, s.Release())
	require.NoError(t, s.Release())
	assert.Equal(t, 1, r.calls)
	assert.Zero(t, s.Len())
}

func TestStackContinuesPastFailures(t *testing.T) {
	var order []string
	boom := errors.New("boom")
	var s Stack
	s.Push("first", &recorder{order: &order, name: "first"})
	s.Push("broken", &recorder{order: &order, name: "broken", err: boom})
	s.Push("last", Func(func() error {
		order = append(order, "last")
		return nil
	}))

	err := s.Release()
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "release broken")
	assert.Equal(t, []string{"last", "broken", "first"}, order)
}

func TestStackRecoversPanickingRelease(t *testing.T) {
	var released bool
	var s Stack
	s.Push("outer", Func(func() error {
		released = true
		return nil
	}))
	s.Push("inner", Func(func() error { panic("bad guard") }))

	err := s.Release()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad guard")
	assert.True(t, released)
}

func TestPushAfterReleasePanics(t *testing.T) {
	var s Stack
	require.NoError(t, s.Release())
	assert.Panics(t, func() { s.Push("late", Func(func() error { return nil })) })
}
