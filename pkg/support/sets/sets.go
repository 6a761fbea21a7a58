// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sets implements a generic Set over a map[T]struct{}.
//
// Sets are not safe for concurrent use.
package sets

import (
	"cmp"
	"maps"
	"slices"
)

// Set of comparable keys. The zero value (nil) can be read, but Make must be used before inserting.
type Set[T comparable] map[T]struct{}

// Make returns an empty Set. The optional size reserves space for that many elements.
func Make[T comparable](size ...int) Set[T] {
	if len(size) == 0 {
		return make(Set[T])
	}
	return make(Set[T], size[0])
}

// Of returns a Set with the given elements.
func Of[T comparable](elements ...T) Set[T] {
	s := Make[T](len(elements))
	for _, e := range elements {
		s[e] = struct{}{}
	}
	return s
}

// Has returns whether key is in the Set.
func (s Set[T]) Has(key T) bool {
	_, found := s[key]
	return found
}

// Insert adds key to the Set, and returns false if it was already present.
func (s Set[T]) Insert(key T) bool {
	if _, found := s[key]; found {
		return false
	}
	s[key] = struct{}{}
	return true
}

// Remove deletes key from the Set, and returns whether it was present.
func (s Set[T]) Remove(key T) bool {
	if _, found := s[key]; !found {
		return false
	}
	delete(s, key)
	return true
}

// Len returns the number of elements in the Set.
func (s Set[T]) Len() int {
	return len(s)
}

// Sorted returns the elements of s in ascending order.
func Sorted[T cmp.Ordered](s Set[T]) []T {
	return slices.Sorted(maps.Keys(s))
}
