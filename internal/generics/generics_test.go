package generics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSliceMap(t *testing.T) {
	got := SliceMap([]int{1, 2, 3}, func(e int) int { return e * e })
	assert.Equal(t, []int{1, 4, 9}, got)
	assert.Empty(t, SliceMap(nil, func(e int) int { return e }))
}

func TestSet(t *testing.T) {
	s := SetWith("a", "b")
	assert.True(t, s.Has("a"))
	assert.True(t, s.Has("b"))
	assert.False(t, s.Has("c"))
	s.Insert("c")
	assert.True(t, s.Has("c"))
	assert.Len(t, s, 3)
}
