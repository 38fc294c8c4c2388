// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package swissdict

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Inserting a new key invalidates a live iterator on its next step.
func TestIterInvalidatedByInsert(t *testing.T) {
	m := New[string, int](0)
	m.Put("x", 1)
	m.Put("y", 2)

	it := m.Items()
	require.True(t, it.Next())
	require.Equal(t, "x", it.Key())
	require.Equal(t, 1, it.Value())

	m.Put("z", 3)

	require.False(t, it.Next())
	require.ErrorIs(t, it.Err(), ErrMutatedDuringIteration)
	// The iterator stays dead.
	require.False(t, it.Next())
	require.ErrorIs(t, it.Err(), ErrMutatedDuringIteration)
}

func TestIterInvalidatedByDelete(t *testing.T) {
	m := New[string, int](0)
	m.Put("x", 1)
	m.Put("y", 2)

	it := m.Items()
	require.True(t, it.Next())
	m.Delete("y")
	require.False(t, it.Next())
	require.ErrorIs(t, it.Err(), ErrMutatedDuringIteration)
}

// Replacing the value of an existing key is not a structural mutation and
// does not invalidate iterators. A replacement ahead of the cursor is
// observed.
func TestIterToleratesReplacement(t *testing.T) {
	m := New[string, int](0)
	m.Put("x", 1)
	m.Put("y", 2)

	it := m.Items()
	require.True(t, it.Next())
	require.Equal(t, 1, it.Value())

	m.Put("y", 20)
	m.Put("x", 10) // behind the cursor, not revisited

	require.True(t, it.Next())
	require.Equal(t, "y", it.Key())
	require.Equal(t, 20, it.Value())
	require.False(t, it.Next())
	require.NoError(t, it.Err())
}

// An exhausted iterator is not restartable, even after further inserts.
func TestIterNotRestartable(t *testing.T) {
	m := New[string, int](0)
	m.Put("x", 1)

	it := m.Items()
	require.True(t, it.Next())
	require.False(t, it.Next())
	require.NoError(t, it.Err())

	m.Put("y", 2)
	require.False(t, it.Next())
}

func TestIterEmpty(t *testing.T) {
	m := New[string, int](0)
	it := m.Items()
	require.False(t, it.Next())
	require.NoError(t, it.Err())
}

func TestIterKeysValues(t *testing.T) {
	m := New[string, int](0)
	m.Put("a", 1)
	m.Put("b", 2)
	m.Put("c", 3)

	var keys []string
	for it := m.Keys(); it.Next(); {
		keys = append(keys, it.Key())
	}
	require.Equal(t, []string{"a", "b", "c"}, keys)

	var values []int
	for it := m.Values(); it.Next(); {
		values = append(values, it.Value())
	}
	require.Equal(t, []int{1, 2, 3}, values)
}

// All panics on structural mutation from within the yield function.
func TestAllPanicsOnMutation(t *testing.T) {
	m := New[string, int](0)
	m.Put("x", 1)
	m.Put("y", 2)

	require.Panics(t, func() {
		m.All(func(k string, v int) bool {
			m.Put("z", 3)
			return true
		})
	})
}

// All tolerates value replacement from within the yield function.
func TestAllToleratesReplacement(t *testing.T) {
	m := New[string, int](0)
	m.Put("x", 1)
	m.Put("y", 2)

	var seen []int
	m.All(func(k string, v int) bool {
		m.Put("y", 20)
		seen = append(seen, v)
		return true
	})
	require.Equal(t, []int{1, 20}, seen)
}
