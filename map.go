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

// Package swissdict is a Go implementation of an insertion-ordered hash
// map built on Swiss Tables as described in
// https://abseil.io/about/design/swisstables. See also:
// https://faultlore.com/blah/hashbrown-tldr/.
//
// # Swiss Tables
//
// Swiss tables are open-addressed hash tables whose key design choice is a
// separate metadata array storing 1 byte per slot. 7 bits of this "control
// byte" are taken from hash(key) and the remaining (high) bit indicates
// whether the slot is full; an empty slot and a deleted slot each have a
// fixed control byte of their own. The control bytes allow a probe to
// check 16 slots at a time: the table is partitioned into aligned groups
// of 16 slots, a group's control bytes are loaded as two 64-bit words, and
// candidate slots are extracted with bitwise arithmetic (SWAR, SIMD Within
// A Register). Probing is quadratic across groups using triangular
// increments, which visits every group exactly once when the group count
// is a power of two, and linear within a group, which is free because the
// group scan is word-parallel.
//
// Deletion uses tombstones (ctrlDeleted) with an optimization to mark the
// slot as empty when its group still contains an empty byte: probing never
// continues past a group with an empty slot, so such a slot cannot lie in
// the middle of any probe sequence.
//
// # Insertion order
//
// Unlike the builtin map, iteration visits entries in insertion order.
// Each slot carries intrusive order links (as indices, not pointers, so
// they survive array moves), and the table keeps head/tail references.
// Replacing the value for an existing key keeps its position; deleting and
// re-inserting a key moves it to the end. Rehashing replays the live
// entries in order-layer order into the fresh arrays, so order is
// preserved exactly across growth and tombstone compaction.
//
// A Map is NOT goroutine-safe.
package swissdict

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/dolthub/maphash"
)

const (
	debug      = false
	invariants = false

	groupSize       = 16
	maxAvgGroupLoad = 14
	minCapacity     = 16

	// noSlot terminates the order links.
	noSlot int32 = -1
)

// Slot holds a key and value along with the cached hash used to place the
// entry and its intrusive order links.
type Slot[K any, V any] struct {
	key   K
	value V
	// hash is the full hash used to place the entry. It is compared
	// before key equality on lookup, and it is the sole input to
	// placement during rehash.
	hash uintptr
	// prev and next are slot indices forming a doubly linked list over
	// the live entries in insertion order.
	prev, next int32
}

// table is the core shared by Map and Dict. The hash and equal hooks may
// fail and may re-enter the table (Dict); the builtin hooks installed by
// New do neither, which is why Map's methods can discard the errors.
//
// Mutation of used, tombstones, version, control bytes, and slot fields
// happens only between hook invocations, never across one: any operation
// that calls equal snapshots version first and restarts from scratch if
// the hook mutated the table.
type table[K any, V any] struct {
	hash  func(key *K) (uintptr, error)
	equal func(a, b *K) (bool, error)
	seed  uintptr
	// The allocator to use for the ctrls and slots slices.
	alloc Allocator[K, V]
	// ctrls is capacity in length, one byte per slot, partitioned into
	// capacity/groupSize aligned groups.
	ctrls []ctrl
	// slots is capacity in length.
	slots []Slot[K, V]
	// The total number of slots. Always a power of two >= minCapacity.
	capacity uintptr
	// groupMask is capacity/groupSize-1, used to compute a probe's
	// group index with a bitwise & operation.
	groupMask uintptr
	// The number of filled slots (i.e. the number of elements in the
	// table).
	used int
	// The number of slots holding a deletion tombstone. Tombstones count
	// toward the load factor until a rehash drops them.
	tombstones int
	// version increments on every mutation, including value replacement.
	// Operations snapshot it around user hooks to detect re-entrant
	// mutation.
	version uint64
	// gen increments only on structural mutation (insert-new, delete,
	// rehash, clear). Iterators snapshot it, so value replacement is
	// tolerated during iteration while structural changes fail fast.
	gen uint64
	// head and tail of the insertion-order list, noSlot when empty.
	head, tail int32
}

// Map is an insertion-ordered map from keys to values with Put, Get,
// Delete, and ordered iteration. Hashing defaults to the same quality of
// hash used by Go's builtin map (via dolthub/maphash); a different hash
// function can be specified using the WithHash option.
//
// A Map is NOT goroutine-safe.
type Map[K comparable, V any] struct {
	tbl table[K, V]
}

// New constructs a new Map with the specified initial capacity hint. The
// table starts at the smallest valid capacity (16) regardless, growing up
// front only as needed to hold initialCapacity entries within the 7/8
// load bound.
func New[K comparable, V any](initialCapacity int, options ...option[K, V]) *Map[K, V] {
	m := &Map[K, V]{}
	hasher := maphash.NewHasher[K]()
	m.tbl.hash = func(key *K) (uintptr, error) {
		return uintptr(hasher.Hash(*key)), nil
	}
	m.tbl.equal = func(a, b *K) (bool, error) {
		return *a == *b, nil
	}
	m.tbl.seed = uintptr(rand.Uint64())
	m.tbl.alloc = defaultAllocator[K, V]{}
	for _, op := range options {
		op.apply(m)
	}
	m.tbl.init(initialCapacity)
	return m
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.tbl.used
}

// Get retrieves the value for the specified key, returning ok=false if
// the key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	// The builtin hash and equality hooks cannot fail.
	i, _ := m.tbl.lookup(&key)
	if i < 0 {
		return value, false
	}
	return m.tbl.slots[i].value, true
}

// Contains reports whether the key is present.
func (m *Map[K, V]) Contains(key K) bool {
	i, _ := m.tbl.lookup(&key)
	return i >= 0
}

// Put inserts an entry into the map, overwriting the value if an entry
// with the same key already exists. Overwriting keeps the key's position
// in the iteration order; a new key is appended at the end.
func (m *Map[K, V]) Put(key K, value V) {
	_ = m.tbl.put(key, value)
}

// Delete deletes the entry corresponding to the specified key from the
// map, reporting whether the key was present.
func (m *Map[K, V]) Delete(key K) bool {
	ok, _ := m.tbl.del(&key)
	return ok
}

// Pop removes the entry for the key and returns its value, reporting
// whether the key was present.
func (m *Map[K, V]) Pop(key K) (value V, ok bool) {
	i, _ := m.tbl.lookup(&key)
	if i < 0 {
		return value, false
	}
	value = m.tbl.slots[i].value
	m.tbl.deleteAt(i)
	return value, true
}

// PopItem removes and returns the most recently inserted entry, the
// reverse of insertion order. It reports ok=false on an empty map.
func (m *Map[K, V]) PopItem() (key K, value V, ok bool) {
	i := m.tbl.tail
	if i < 0 {
		return key, value, false
	}
	s := &m.tbl.slots[i]
	key, value = s.key, s.value
	m.tbl.deleteAt(int(i))
	return key, value, true
}

// All calls yield sequentially for each key and value present in the map,
// in insertion order. If yield returns false, iteration stops. The yield
// function may replace values via Put of a present key, but structural
// mutation (inserting a new key or deleting) during All panics; use Items
// for the error-returning equivalent.
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	m.tbl.all(yield)
}

// Items returns an ordered iterator over the map's entries. Keys and
// Values are equivalent conveniences.
func (m *Map[K, V]) Items() *Iterator[K, V] { return m.tbl.iter() }

// Keys returns an ordered iterator positioned like Items; consume it via
// Next and Key.
func (m *Map[K, V]) Keys() *Iterator[K, V] { return m.tbl.iter() }

// Values returns an ordered iterator positioned like Items; consume it
// via Next and Value.
func (m *Map[K, V]) Values() *Iterator[K, V] { return m.tbl.iter() }

// Clear removes all entries, retaining the current capacity.
func (m *Map[K, V]) Clear() {
	m.tbl.clear()
}

// Close closes the map, releasing its memory back to the configured
// allocator. It is unnecessary to close a map using the default
// allocator. It is invalid to use a Map after it has been closed, though
// Close itself is idempotent.
func (m *Map[K, V]) Close() {
	m.tbl.close()
}

func (t *table[K, V]) init(initialCapacity int) {
	c := uintptr(minCapacity)
	for int(c)*maxAvgGroupLoad < initialCapacity*groupSize {
		c <<= 1
	}
	t.ctrls = newCtrls(t.alloc, int(c))
	t.slots = t.alloc.AllocSlots(int(c))
	t.capacity = c
	t.groupMask = c/groupSize - 1
	t.head, t.tail = noSlot, noSlot
}

func newCtrls[K any, V any](alloc Allocator[K, V], n int) []ctrl {
	ctrls := unsafeConvertSlice[ctrl](alloc.AllocControls(n))
	for i := range ctrls {
		ctrls[i] = ctrlEmpty
	}
	return ctrls
}

func (t *table[K, V]) groupAt(g uintptr) group {
	return loadGroup(&t.ctrls[g*groupSize])
}

// lookup hashes the key and returns the index of its slot, or -1 if the
// key is not present. A hash or equality hook failure is returned
// unchanged.
func (t *table[K, V]) lookup(key *K) (int, error) {
	h, err := t.hash(key)
	if err != nil {
		return -1, err
	}
	return t.findSlot(h, key)
}

// findSlot walks the probe sequence for hash h looking for an entry equal
// to *key.
//
// To find the location of a key in the table, we compute hash(key). From
// h1(hash(key)) and the group count we construct a probeSeq that visits
// every group of slots in some interesting order. At each group we
// extract potential candidates: slots with a control byte equal to
// h2(hash(key)). A candidate's cached full hash is compared first;
// equality runs only on a full-hash match, so false h2 positives are
// cheap. If the group contains an empty slot the key cannot lie further
// along the probe sequence and the search stops.
//
// The equality hook can run user code that mutates the table, which
// invalidates the probe state; findSlot snapshots version before each
// equality call and restarts from scratch when it changed.
func (t *table[K, V]) findSlot(h uintptr, key *K) (int, error) {
	f := h2(h)
restart:
	seq := makeProbeSeq(h1(h), t.groupMask)
	if debug {
		fmt.Printf("find: h2=%02x %s\n", f, seq)
	}
	for n := uintptr(0); n <= seq.mask; n++ {
		g := t.groupAt(seq.offset)
		for match := g.matchH2(f); match.any(); match = match.removeFirst() {
			i := int(seq.offset*groupSize + match.first())
			s := &t.slots[i]
			if s.hash == h {
				v := t.version
				eq, err := t.equal(&s.key, key)
				if err != nil {
					return -1, err
				}
				if t.version != v {
					// The equality hook mutated the table; the slot may
					// have moved. Re-resolve from scratch.
					goto restart
				}
				if eq {
					return i, nil
				}
			}
		}
		if g.matchEmpty().any() {
			return -1, nil
		}
		seq = seq.next()
	}
	// Unreachable while the load invariant holds: some group along the
	// sequence always contains an empty slot.
	return -1, nil
}

// findInsertSlot returns the slot at which a key with hash h, known not
// to be present, must be inserted: the first empty-or-deleted slot along
// the probe sequence. Probing still continues to a group with an empty
// byte before committing to an earlier tombstone, which keeps lookups
// terminating at the first empty group.
func (t *table[K, V]) findInsertSlot(h uintptr) int {
	first := -1
	seq := makeProbeSeq(h1(h), t.groupMask)
	for n := uintptr(0); n <= seq.mask; n++ {
		g := t.groupAt(seq.offset)
		if first < 0 {
			if match := g.matchEmptyOrDeleted(); match.any() {
				first = int(seq.offset*groupSize + match.first())
			}
		}
		if g.matchEmpty().any() {
			return first
		}
		seq = seq.next()
	}
	panic("swissdict: probe sequence exhausted without an empty slot")
}

// put inserts or replaces. Put is find composed with an unchecked insert:
// we first look for the key, overwriting the value if present, and
// otherwise insert an entry known not to be in the table.
func (t *table[K, V]) put(key K, value V) error {
	h, err := t.hash(&key)
	if err != nil {
		return err
	}
	i, err := t.findSlot(h, &key)
	if err != nil {
		return err
	}
	if i >= 0 {
		t.slots[i].value = value
		t.version++
		if invariants {
			t.checkInvariants()
		}
		return nil
	}

	// Before performing the insertion we may decide the table is getting
	// overcrowded: the load factor (live entries plus tombstones) is
	// bounded by 7/8.
	if (t.used+t.tombstones+1)*groupSize > int(t.capacity)*maxAvgGroupLoad {
		t.rehash()
	}

	i = t.findInsertSlot(h)
	s := &t.slots[i]
	s.key = key
	s.value = value
	s.hash = h
	if t.ctrls[i] == ctrlDeleted {
		t.tombstones--
	}
	t.ctrls[i] = ctrl(h2(h))
	t.pushBack(int32(i))
	t.used++
	t.version++
	t.gen++
	if debug {
		fmt.Printf("put: index=%d used=%d tombstones=%d\n", i, t.used, t.tombstones)
	}
	if invariants {
		t.checkInvariants()
	}
	return nil
}

// del removes the entry for the key, reporting whether it was present.
func (t *table[K, V]) del(key *K) (bool, error) {
	h, err := t.hash(key)
	if err != nil {
		return false, err
	}
	i, err := t.findSlot(h, key)
	if err != nil {
		return false, err
	}
	if i < 0 {
		return false, nil
	}
	t.deleteAt(i)
	return true, nil
}

// deleteAt removes the live entry at slot i.
func (t *table[K, V]) deleteAt(i int) {
	t.unlink(int32(i))
	// Clear the entry fields so the key and value references are
	// released.
	t.slots[i] = Slot[K, V]{prev: noSlot, next: noSlot}

	// We create a tombstone unless the slot's group still contains an
	// empty byte: probing never continues past such a group, so the slot
	// cannot lie in the middle of any probe sequence and can be marked
	// empty directly.
	if t.groupAt(uintptr(i) / groupSize).matchEmpty().any() {
		t.ctrls[i] = ctrlEmpty
	} else {
		t.ctrls[i] = ctrlDeleted
		t.tombstones++
	}
	t.used--
	t.version++
	t.gen++
	if debug {
		fmt.Printf("delete: index=%d used=%d tombstones=%d\n", i, t.used, t.tombstones)
	}

	// Reclaim tombstones when they exceed an eighth of a half-empty
	// table. The capacity is retained: the table never shrinks.
	if t.tombstones*8 > int(t.capacity) && t.used*2 < int(t.capacity) {
		t.resize(t.capacity)
	}
	if invariants {
		t.checkInvariants()
	}
}

// rehash grows the table, or rebuilds it at the same capacity when
// dropping tombstones alone recovers more than an eighth of the slots.
func (t *table[K, V]) rehash() {
	if t.tombstones*8 > int(t.capacity) {
		t.resize(t.capacity)
		return
	}
	newCapacity := 2 * t.capacity
	for int(newCapacity)*maxAvgGroupLoad < t.used*groupSize {
		newCapacity *= 2
	}
	t.resize(newCapacity)
}

// resize rebuilds the table at newCapacity by allocating fresh arrays and
// replaying the live entries in order-layer order. Replaying head to tail
// rather than scanning the slot array makes the rebuild deterministic and
// keeps iteration order identical across rehashes. Placement uses each
// entry's cached hash, so keys are never re-hashed.
func (t *table[K, V]) resize(newCapacity uintptr) {
	oldCtrls, oldSlots := t.ctrls, t.slots
	oldCapacity, oldHead := t.capacity, t.head

	t.ctrls = newCtrls(t.alloc, int(newCapacity))
	t.slots = t.alloc.AllocSlots(int(newCapacity))
	t.capacity = newCapacity
	t.groupMask = newCapacity/groupSize - 1
	t.head, t.tail = noSlot, noSlot

	prev := noSlot
	for j := oldHead; j >= 0; {
		s := &oldSlots[j]
		i := t.findInsertSlot(s.hash)
		n := &t.slots[i]
		n.key = s.key
		n.value = s.value
		n.hash = s.hash
		t.ctrls[i] = ctrl(h2(s.hash))
		n.prev, n.next = prev, noSlot
		if prev >= 0 {
			t.slots[prev].next = int32(i)
		} else {
			t.head = int32(i)
		}
		prev = int32(i)
		j = s.next
	}
	t.tail = prev
	t.tombstones = 0
	t.version++
	t.gen++
	if debug {
		fmt.Printf("resize: capacity=%d->%d used=%d\n", oldCapacity, newCapacity, t.used)
	}

	t.alloc.FreeSlots(oldSlots[:oldCapacity])
	t.alloc.FreeControls(unsafeConvertSlice[uint8](oldCtrls[:oldCapacity]))
}

func (t *table[K, V]) clear() {
	for i := range t.ctrls {
		t.ctrls[i] = ctrlEmpty
	}
	for i := range t.slots {
		t.slots[i] = Slot[K, V]{prev: noSlot, next: noSlot}
	}
	t.used = 0
	t.tombstones = 0
	t.head, t.tail = noSlot, noSlot
	t.version++
	t.gen++
}

func (t *table[K, V]) close() {
	if t.capacity > 0 {
		t.alloc.FreeSlots(t.slots[:t.capacity])
		t.alloc.FreeControls(unsafeConvertSlice[uint8](t.ctrls[:t.capacity]))
		t.capacity = 0
		t.used = 0
		t.tombstones = 0
	}
	t.ctrls = nil
	t.slots = nil
	t.head, t.tail = noSlot, noSlot
	t.version++
	t.gen++
	t.alloc = nil
}

// pushBack appends slot i to the insertion-order list.
func (t *table[K, V]) pushBack(i int32) {
	s := &t.slots[i]
	s.prev, s.next = t.tail, noSlot
	if t.tail >= 0 {
		t.slots[t.tail].next = i
	} else {
		t.head = i
	}
	t.tail = i
}

// unlink removes slot i from the insertion-order list.
func (t *table[K, V]) unlink(i int32) {
	s := &t.slots[i]
	if s.prev >= 0 {
		t.slots[s.prev].next = s.next
	} else {
		t.head = s.next
	}
	if s.next >= 0 {
		t.slots[s.next].prev = s.prev
	} else {
		t.tail = s.prev
	}
}

func (t *table[K, V]) all(yield func(key K, value V) bool) {
	gen := t.gen
	for i := t.head; i >= 0; {
		s := &t.slots[i]
		if !yield(s.key, s.value) {
			return
		}
		if t.gen != gen {
			panic("swissdict: map mutated during iteration")
		}
		i = s.next
	}
}

// checkInvariants validates the internal consistency of the table: the
// control bytes agree with the slot states and cached hashes, the counts
// are exact, the order links form a consistent list over exactly the live
// entries, and the load bound holds.
func (t *table[K, V]) checkInvariants() {
	var full, deleted int
	for i := uintptr(0); i < t.capacity; i++ {
		switch c := t.ctrls[i]; c {
		case ctrlEmpty:
		case ctrlDeleted:
			deleted++
		default:
			if c&0x80 != 0 {
				panic(fmt.Sprintf("invariant failed: ctrl(%d)=%02x is not a valid state\n%s",
					i, c, t.debugString()))
			}
			if expected := ctrl(h2(t.slots[i].hash)); c != expected {
				panic(fmt.Sprintf("invariant failed: ctrl(%d)=%02x does not match h2=%02x\n%s",
					i, c, expected, t.debugString()))
			}
			full++
		}
	}
	if full != t.used {
		panic(fmt.Sprintf("invariant failed: found %d full slots, but used count is %d\n%s",
			full, t.used, t.debugString()))
	}
	if deleted != t.tombstones {
		panic(fmt.Sprintf("invariant failed: found %d tombstones, but tombstone count is %d\n%s",
			deleted, t.tombstones, t.debugString()))
	}
	if (t.used+t.tombstones)*groupSize > int(t.capacity)*maxAvgGroupLoad {
		panic(fmt.Sprintf("invariant failed: load %d+%d exceeds %d*7/8\n%s",
			t.used, t.tombstones, t.capacity, t.debugString()))
	}

	var n int
	prev := noSlot
	for i := t.head; i >= 0; i = t.slots[i].next {
		if t.ctrls[i]&0x80 != 0 {
			panic(fmt.Sprintf("invariant failed: order list visits non-full slot %d\n%s",
				i, t.debugString()))
		}
		if t.slots[i].prev != prev {
			panic(fmt.Sprintf("invariant failed: slot %d prev=%d, expected %d\n%s",
				i, t.slots[i].prev, prev, t.debugString()))
		}
		prev = i
		n++
		if n > t.used {
			panic(fmt.Sprintf("invariant failed: order list longer than used=%d\n%s",
				t.used, t.debugString()))
		}
	}
	if prev != t.tail {
		panic(fmt.Sprintf("invariant failed: tail=%d, order list ends at %d\n%s",
			t.tail, prev, t.debugString()))
	}
	if n != t.used {
		panic(fmt.Sprintf("invariant failed: order list has %d nodes, but used count is %d\n%s",
			n, t.used, t.debugString()))
	}
}

func (t *table[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d  tombstones=%d  head=%d  tail=%d\n",
		t.capacity, t.used, t.tombstones, t.head, t.tail)
	for i := uintptr(0); i < t.capacity; i++ {
		switch c := t.ctrls[i]; c {
		case ctrlEmpty:
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
		case ctrlDeleted:
			fmt.Fprintf(&buf, "  %4d: deleted\n", i)
		default:
			s := &t.slots[i]
			fmt.Fprintf(&buf, "  %4d: %v [ctrl=%02x h2=%02x prev=%d next=%d]\n",
				i, s.key, c, h2(s.hash), s.prev, s.next)
		}
	}
	return buf.String()
}

// probeSeq maintains the state for a probe sequence over groups. The
// sequence is a triangular progression of the form
//
//	g(i) := (i^2 + i)/2 + h1 (mod mask+1)
//
// effected incrementally by adding an increment that grows by one each
// step. The sequence visits every group exactly once when the number of
// groups is a power of two, since (i^2+i)/2 is a bijection in Z/(2^m).
// See https://en.wikipedia.org/wiki/Quadratic_probing
type probeSeq struct {
	mask   uintptr
	offset uintptr
	index  uintptr
}

func makeProbeSeq(hash, mask uintptr) probeSeq {
	return probeSeq{
		mask:   mask,
		offset: hash & mask,
		index:  0,
	}
}

func (s probeSeq) next() probeSeq {
	s.index++
	s.offset = (s.offset + s.index) & s.mask
	return s
}

func (s probeSeq) String() string {
	return fmt.Sprintf("mask=%d offset=%d index=%d", s.mask, s.offset, s.index)
}

// Extracts the H1 portion of a hash: the upper bits that select the
// starting group.
func h1(h uintptr) uintptr {
	return h >> 7
}

// Extracts the H2 portion of a hash: the 7 bits not used for h1. These
// are used as an occupied control byte.
func h2(h uintptr) uintptr {
	return h & 0x7f
}
