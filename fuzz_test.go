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

	fuzz "github.com/thepudds/fzgen/fuzzer"
)

// Fuzz_MapChain drives a random operation chain against a Map while
// mirroring every operation on a builtin map plus an explicit
// insertion-order slice. A small key space keeps collisions, updates,
// deletes, and re-inserts frequent.
func Fuzz_MapChain(f *testing.F) {
	f.Fuzz(func(t *testing.T, data []byte) {
		m := New[uint8, int64](0)
		mirror := make(map[uint8]int64)
		var order []uint8

		removeOrder := func(k uint8) {
			for i := range order {
				if order[i] == k {
					order = append(order[:i], order[i+1:]...)
					return
				}
			}
		}

		fz := fuzz.NewFuzzer(data)
		steps := []fuzz.Step{
			{
				Name: "Put",
				Func: func(k uint8, v int64) {
					if _, ok := mirror[k]; !ok {
						order = append(order, k)
					}
					m.Put(k, v)
					mirror[k] = v
				},
			},
			{
				Name: "Get",
				Func: func(k uint8) {
					v, ok := m.Get(k)
					ev, eok := mirror[k]
					if ok != eok || (ok && v != ev) {
						t.Fatalf("Get(%d) = %d, %t; mirror has %d, %t", k, v, ok, ev, eok)
					}
				},
			},
			{
				Name: "Delete",
				Func: func(k uint8) {
					_, eok := mirror[k]
					if ok := m.Delete(k); ok != eok {
						t.Fatalf("Delete(%d) = %t; mirror has %t", k, ok, eok)
					}
					if eok {
						delete(mirror, k)
						removeOrder(k)
					}
				},
			},
			{
				Name: "Len",
				Func: func() {
					if m.Len() != len(mirror) {
						t.Fatalf("Len() = %d, mirror has %d", m.Len(), len(mirror))
					}
				},
			},
			{
				Name: "Iterate",
				Func: func() {
					i := 0
					for it := m.Items(); it.Next(); i++ {
						if i >= len(order) {
							t.Fatalf("iteration yielded more than %d entries", len(order))
						}
						if it.Key() != order[i] || it.Value() != mirror[order[i]] {
							t.Fatalf("iteration[%d] = (%d, %d), want (%d, %d)",
								i, it.Key(), it.Value(), order[i], mirror[order[i]])
						}
					}
					if i != len(order) {
						t.Fatalf("iteration yielded %d entries, want %d", i, len(order))
					}
				},
			},
		}
		fz.Chain(steps)

		m.tbl.checkInvariants()
	})
}
