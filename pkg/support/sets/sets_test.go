// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := Make[int](4)
	assert.Equal(t, 0, s.Len())
	assert.True(t, s.Insert(7))
	assert.True(t, s.Insert(3))
	assert.False(t, s.Insert(7), "7 was already in the set")
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has(3))
	assert.False(t, s.Has(5))
	assert.Equal(t, []int{3, 7}, Sorted(s))

	assert.True(t, s.Remove(7))
	assert.False(t, s.Remove(7))
	assert.Equal(t, []int{3}, Sorted(s))

	names := Of("b", "a", "b")
	assert.Equal(t, []string{"a", "b"}, Sorted(names))

	var empty Set[string]
	assert.False(t, empty.Has("a"))
	assert.Equal(t, 0, empty.Len())
	assert.Empty(t, Sorted(empty))
}
