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

// Iterator is a lazy cursor over a table's entries in insertion order,
// consumed in the manner of bufio.Scanner:
//
//	for it := m.Items(); it.Next(); {
//		fmt.Println(it.Key(), it.Value())
//	}
//	if err := it.Err(); err != nil {
//		...
//	}
//
// An Iterator is invalidated by structural mutation of its table: the
// next call to Next after an insert of a new key, a delete, or a rehash
// returns false and Err reports ErrMutatedDuringIteration. Replacing the
// value of an existing key is not a structural mutation; the replaced
// value is observed if its entry has not been visited yet. An exhausted
// iterator stays exhausted; it cannot be restarted.
type Iterator[K any, V any] struct {
	t     *table[K, V]
	gen   uint64
	next  int32
	key   K
	value V
	err   error
}

func (t *table[K, V]) iter() *Iterator[K, V] {
	return &Iterator[K, V]{t: t, gen: t.gen, next: t.head}
}

// Next advances the iterator to the next entry, returning false when the
// iteration is exhausted or the table was structurally mutated.
func (it *Iterator[K, V]) Next() bool {
	if it.err != nil || it.next < 0 {
		return false
	}
	if it.gen != it.t.gen {
		it.err = ErrMutatedDuringIteration
		it.next = noSlot
		return false
	}
	s := &it.t.slots[it.next]
	it.key = s.key
	it.value = s.value
	it.next = s.next
	return true
}

// Key returns the key of the entry most recently advanced to by Next.
func (it *Iterator[K, V]) Key() K {
	return it.key
}

// Value returns the value of the entry most recently advanced to by
// Next.
func (it *Iterator[K, V]) Value() V {
	return it.value
}

// Err returns ErrMutatedDuringIteration if the iteration terminated
// because of a structural mutation, and nil if it is still live or ran
// to exhaustion.
func (it *Iterator[K, V]) Err() error {
	return it.err
}
