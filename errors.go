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

import "errors"

var (
	// ErrNotFound is returned by Dict operations whose target key is not
	// present.
	ErrNotFound = errors.New("swissdict: key not found")

	// ErrMutatedDuringIteration is reported by an Iterator whose table
	// saw a structural mutation (insert of a new key, delete, or rehash)
	// after the iterator was created. Value replacement for an existing
	// key does not invalidate iterators.
	ErrMutatedDuringIteration = errors.New("swissdict: map mutated during iteration")
)
