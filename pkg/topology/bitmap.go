// Copyright 2025 Google Inc. All Rights Reserved.
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

package topology

import (
	"k8s.io/utils/cpuset"
)

// Bitmap is a CPU set owned by a Topology. Every Bitmap must be released
// with Free before the topology is closed.
type Bitmap struct {
	topo  *Topology
	set   cpuset.CPUSet
	freed bool
}

// NewBitmap returns a bitmap holding a copy of set.
func (t *Topology) NewBitmap(set cpuset.CPUSet) (*Bitmap, error) {
	if t.closed {
		return nil, ErrClosed
	}
	t.outstanding++
	return &Bitmap{topo: t, set: set.Clone()}, nil
}

// Free releases b. Freeing a nil or already freed bitmap does nothing.
func (b *Bitmap) Free() {
	if b == nil || b.freed {
		return
	}
	b.freed = true
	b.topo.outstanding--
}

// Singlify keeps only the lowest CPU of b.
func (b *Bitmap) Singlify() {
	if b.set.IsEmpty() {
		return
	}
	b.set = cpuset.New(b.set.List()[0])
}

// First returns the lowest CPU in b, or -1 if b is empty.
func (b *Bitmap) First() int {
	if b.set.IsEmpty() {
		return -1
	}
	return b.set.List()[0]
}

// CPUSet returns the CPUs in b. The set must not be modified.
func (b *Bitmap) CPUSet() cpuset.CPUSet {
	return b.set
}

// Weight returns the number of CPUs in b.
func (b *Bitmap) Weight() int {
	return b.set.Size()
}

// String returns b in kernel cpulist form, e.g. 0-3,8.
func (b *Bitmap) String() string {
	return b.set.String()
}
