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

// Dict is an insertion-ordered map over keys whose hashing and equality
// are supplied by the caller and may fail. It shares its index and
// ordering machinery with Map; the difference is the operation surface:
// hook failures are returned to the caller unchanged, and absent keys are
// reported as ErrNotFound.
//
// The hooks may run arbitrary user code, including code that mutates the
// Dict they were invoked from. Operations detect such re-entrant
// mutation through the table's version counter and restart from scratch,
// so a hook that mutates on every invocation can prevent the operation
// from completing; that is the hook author's responsibility.
//
// A Dict is NOT goroutine-safe.
type Dict[K any, V any] struct {
	tbl table[K, V]
}

// NewDict constructs a Dict with the given hash and equality functions,
// which must be non-nil and must agree: equal(a, b) implies
// hash(a) == hash(b).
//
// An equality function that considers a candidate pair incomparable
// rather than failed should return (false, nil), which treats the
// candidate as not equal and lets the probe continue; returning a
// non-nil error aborts the whole operation with that error.
func NewDict[K any, V any](
	initialCapacity int,
	hash func(key K) (uint64, error),
	equal func(a, b K) (bool, error),
) *Dict[K, V] {
	if hash == nil || equal == nil {
		panic("swissdict: NewDict requires hash and equal functions")
	}
	d := &Dict[K, V]{}
	d.tbl.hash = func(key *K) (uintptr, error) {
		h, err := hash(*key)
		return uintptr(h), err
	}
	d.tbl.equal = func(a, b *K) (bool, error) {
		return equal(*a, *b)
	}
	d.tbl.alloc = defaultAllocator[K, V]{}
	d.tbl.init(initialCapacity)
	return d
}

// Len returns the number of entries in the dict.
func (d *Dict[K, V]) Len() int {
	return d.tbl.used
}

// Get returns the value stored for the key. It returns ErrNotFound for
// an absent key and the hook's own error if hashing or an equality
// comparison fails.
func (d *Dict[K, V]) Get(key K) (value V, _ error) {
	i, err := d.tbl.lookup(&key)
	if err != nil {
		return value, err
	}
	if i < 0 {
		return value, ErrNotFound
	}
	return d.tbl.slots[i].value, nil
}

// Contains reports whether the key is present. It fails only if a hook
// fails.
func (d *Dict[K, V]) Contains(key K) (bool, error) {
	i, err := d.tbl.lookup(&key)
	if err != nil {
		return false, err
	}
	return i >= 0, nil
}

// Set inserts an entry, overwriting the value if the key is already
// present. Overwriting keeps the key's position in the iteration order; a
// new key is appended at the end. A hook failure aborts the operation
// before any mutation.
func (d *Dict[K, V]) Set(key K, value V) error {
	return d.tbl.put(key, value)
}

// Delete removes the entry for the key. It returns ErrNotFound for an
// absent key.
func (d *Dict[K, V]) Delete(key K) error {
	ok, err := d.tbl.del(&key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Pop removes the entry for the key and returns its value. It returns
// ErrNotFound for an absent key.
func (d *Dict[K, V]) Pop(key K) (value V, _ error) {
	i, err := d.tbl.lookup(&key)
	if err != nil {
		return value, err
	}
	if i < 0 {
		return value, ErrNotFound
	}
	value = d.tbl.slots[i].value
	d.tbl.deleteAt(i)
	return value, nil
}

// PopItem removes and returns the most recently inserted entry, the
// reverse of insertion order. It returns ErrNotFound on an empty dict.
func (d *Dict[K, V]) PopItem() (key K, value V, _ error) {
	i := d.tbl.tail
	if i < 0 {
		return key, value, ErrNotFound
	}
	s := &d.tbl.slots[i]
	key, value = s.key, s.value
	d.tbl.deleteAt(int(i))
	return key, value, nil
}

// SetDefault returns the value stored for the key, inserting (and
// returning) value if the key is absent. An insertion appends the key at
// the end of the iteration order.
func (d *Dict[K, V]) SetDefault(key K, value V) (V, error) {
	i, err := d.tbl.lookup(&key)
	if err != nil {
		return value, err
	}
	if i >= 0 {
		return d.tbl.slots[i].value, nil
	}
	if err := d.tbl.put(key, value); err != nil {
		return value, err
	}
	return value, nil
}

// Items returns an ordered iterator over the dict's entries. Keys and
// Values are equivalent conveniences.
func (d *Dict[K, V]) Items() *Iterator[K, V] { return d.tbl.iter() }

// Keys returns an ordered iterator positioned like Items; consume it via
// Next and Key.
func (d *Dict[K, V]) Keys() *Iterator[K, V] { return d.tbl.iter() }

// Values returns an ordered iterator positioned like Items; consume it
// via Next and Value.
func (d *Dict[K, V]) Values() *Iterator[K, V] { return d.tbl.iter() }

// Clear removes all entries, retaining the current capacity.
func (d *Dict[K, V]) Clear() {
	d.tbl.clear()
}

// Close releases the dict's memory. It is invalid to use a Dict after it
// has been closed, though Close itself is idempotent.
func (d *Dict[K, V]) Close() {
	d.tbl.close()
}
