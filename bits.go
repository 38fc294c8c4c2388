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
	"math/bits"
	"strings"
	"unsafe"
)

// Each slot in the hash table has a control byte which can have one of
// three states: empty, deleted (a tombstone), and full. They have the
// following bit patterns:
//
//	  empty: 1 0 0 0 0 0 0 0
//	deleted: 1 1 1 1 1 1 1 0
//	   full: 0 h h h h h h h  // h represents the H2 hash bits
//
// The high bit discriminates occupied from not-occupied, which the group
// matching routines below exploit.
type ctrl uint8

const (
	ctrlEmpty   ctrl = 0b1000_0000
	ctrlDeleted ctrl = 0b1111_1110

	bitsetLSB = 0x0101010101010101
	bitsetMSB = 0x8080808080808080
)

// bitset represents the matching slots of a 16-slot group as a marker bit
// (0x80) per matching byte, split across two 64-bit words. The generic
// matching routines compare 8 control bytes at a time through bit tricks
// (SWAR, SIMD Within A Register), so a full group is two word operations.
type bitset struct {
	lo, hi uint64
}

// any reports whether the bitset has at least one marker set.
func (b bitset) any() bool {
	return b.lo|b.hi != 0
}

// first returns the index within the group of the lowest marker. Requires
// b.any().
func (b bitset) first() uintptr {
	if b.lo != 0 {
		return uintptr(bits.TrailingZeros64(b.lo)) >> 3
	}
	return 8 + uintptr(bits.TrailingZeros64(b.hi))>>3
}

// removeFirst clears the lowest marker.
func (b bitset) removeFirst() bitset {
	if b.lo != 0 {
		b.lo &= b.lo - 1
	} else {
		b.hi &= b.hi - 1
	}
	return b
}

func (b bitset) count() int {
	return bits.OnesCount64(b.lo) + bits.OnesCount64(b.hi)
}

func (b bitset) String() string {
	var buf strings.Builder
	buf.Grow(groupSize)
	for i := uintptr(0); i < groupSize; i++ {
		w := b.lo
		j := i
		if i >= 8 {
			w = b.hi
			j = i - 8
		}
		if w&(0x80<<(j<<3)) != 0 {
			buf.WriteString("1")
		} else {
			buf.WriteString("0")
		}
	}
	return buf.String()
}

// group is the 16 control bytes of an aligned group loaded as two 64-bit
// words. The loads assume a little endian CPU architecture (asserted by a
// test); the byte at slot i of the group occupies bits [8i,8i+8) of the
// corresponding word.
type group struct {
	lo, hi uint64
}

// loadGroup reads the 16 control bytes starting at c. c must point at the
// first byte of an aligned group.
func loadGroup(c *ctrl) group {
	return group{
		lo: *(*uint64)(unsafe.Pointer(c)),
		hi: *(*uint64)(unsafe.Add(unsafe.Pointer(c), 8)),
	}
}

// matchH2 returns the slots whose control byte equals the 7-bit
// fingerprint h.
//
// NB: This matching routine produces false positive matches when h is 2^N
// and the control bytes have a sequence of 2^N followed by 2^N+1. For
// example: if the word holds 0x0302 and h=02, we compute v as 0x0100.
// When we subtract off 0x0101 the first 2 bytes become 0xffff and both
// are considered matches of h. The false positive matches are not a
// problem, just a rare inefficiency. Note that they only occur if there
// is a real match and never occur on ctrlEmpty or ctrlDeleted. The
// subsequent cached-hash and key comparisons ensure that there is no
// correctness issue.
func (g group) matchH2(h uintptr) bitset {
	dup := bitsetLSB * uint64(h)
	return bitset{matchWord(g.lo, dup), matchWord(g.hi, dup)}
}

func matchWord(w, dup uint64) uint64 {
	v := w ^ dup
	return ((v - bitsetLSB) &^ v) & bitsetMSB
}

// matchEmpty returns the slots whose control byte is ctrlEmpty.
func (g group) matchEmpty() bitset {
	// An empty slot is   1000 0000.
	// A deleted slot is  1111 1110.
	// A slot is empty iff bit 7 is set and bit 1 is not. We could select
	// any of the other low bits here.
	return bitset{
		(g.lo &^ (g.lo << 6)) & bitsetMSB,
		(g.hi &^ (g.hi << 6)) & bitsetMSB,
	}
}

// matchEmptyOrDeleted returns the slots whose control byte is ctrlEmpty
// or ctrlDeleted.
func (g group) matchEmptyOrDeleted() bitset {
	// An empty slot is  1000 0000.
	// A deleted slot is 1111 1110.
	// A slot is empty or deleted iff bit 7 is set and bit 0 is not.
	return bitset{
		(g.lo &^ (g.lo << 7)) & bitsetMSB,
		(g.hi &^ (g.hi << 7)) & bitsetMSB,
	}
}

// matchFull returns the slots holding a live entry (high bit clear).
func (g group) matchFull() bitset {
	return bitset{^g.lo & bitsetMSB, ^g.hi & bitsetMSB}
}

func unsafeConvertSlice[Dest any, Src any](s []Src) []Dest {
	return unsafe.Slice((*Dest)(unsafe.Pointer(unsafe.SliceData(s))), len(s))
}
