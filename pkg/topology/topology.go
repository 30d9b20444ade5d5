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

// Package topology models the CPU, NUMA and PCI device hierarchy of a Linux
// machine as reported by sysfs.
//
// Objects are numbered the way hwloc numbers them: logical indices follow
// the position of an object in the package > core > PU tree, while OS
// indices are the ids the kernel uses.
package topology

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/golang/glog"
	"k8s.io/utils/cpuset"

	"github.com/GoogleCloudPlatform/nearest-gpu/pkg/gpu/nvidia/numa"
	"github.com/GoogleCloudPlatform/nearest-gpu/pkg/gpu/nvidia/pci"
)

// ObjType is the kind of a topology object.
type ObjType int

const (
	Machine ObjType = iota
	Package
	NUMANode
	Core
	PU
)

// String returns the standard hwloc name of the type.
func (t ObjType) String() string {
	switch t {
	case Machine:
		return "Machine"
	case Package:
		return "Package"
	case NUMANode:
		return "NUMANode"
	case Core:
		return "Core"
	case PU:
		return "PU"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

var (
	// ErrClosed is returned by operations on a closed topology.
	ErrClosed = errors.New("topology is closed")
	// ErrDeviceNotFound is returned when a GPU ordinal cannot be mapped to a device.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrNoAffinity is returned when a device has no usable CPU locality.
	ErrNoAffinity = errors.New("no CPU affinity available for device")
)

// Object is a read-only reference into a Topology.
type Object struct {
	Type         ObjType
	LogicalIndex int
	// OSIndex is the kernel id of the object, or -1 if unknown.
	OSIndex int
	CPUSet  cpuset.CPUSet
}

func (o *Object) String() string {
	return fmt.Sprintf("%s #%d", o.Type, o.LogicalIndex)
}

// Options configure topology discovery.
type Options struct {
	// SysFS is the sysfs root. Defaults to /sys.
	SysFS fs.FS
	// IODevices enables device lookups through Devices.
	IODevices bool
	Devices   pci.PciDetailsGetter
	// WholeSystem keeps CPUs that this process is not allowed to run on.
	WholeSystem bool
}

// Topology is a loaded view of the machine. It must be released with Close.
type Topology struct {
	sysfs     fs.FS
	devices   pci.PciDetailsGetter
	numaNodes numa.NumaNodeGetter
	complete  cpuset.CPUSet

	// objects holds one level per type, ordered by logical index.
	objects map[ObjType][]*Object

	outstanding int
	closed      bool
}

// Load discovers the topology described by opts.
func Load(opts Options) (*Topology, error) {
	sysfs := opts.SysFS
	if sysfs == nil {
		sysfs = os.DirFS("/sys")
	}
	if opts.IODevices && opts.Devices == nil {
		return nil, fmt.Errorf("I/O device discovery requires a PCI details getter")
	}

	levels, err := scanSysfs(sysfs)
	if err != nil {
		return nil, fmt.Errorf("failed to load topology: %w", err)
	}

	if !opts.WholeSystem {
		allowed, err := allowedCPUs()
		if err != nil {
			glog.Warningf("Unable to read CPU affinity, keeping the whole system: %v", err)
		} else {
			levels.restrict(allowed)
		}
	}
	if levels.complete.IsEmpty() {
		return nil, fmt.Errorf("failed to load topology: no usable CPUs")
	}

	t := &Topology{
		sysfs:    sysfs,
		complete: levels.complete,
		objects:  levels.number(),
	}
	if opts.IODevices {
		t.devices = opts.Devices
		t.numaNodes = numa.NewSysNumaNodeGetter(sysfs)
	}
	glog.V(2).Infof("Loaded topology: %d packages, %d NUMA nodes, %d cores, %d PUs",
		len(t.objects[Package]), len(t.objects[NUMANode]), len(t.objects[Core]), len(t.objects[PU]))
	return t, nil
}

// Close destroys the topology. It reports bitmaps that were never freed.
func (t *Topology) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.objects = nil
	if t.outstanding != 0 {
		return fmt.Errorf("topology closed with %d CPU bitmaps still allocated", t.outstanding)
	}
	return nil
}

// Outstanding returns the number of bitmaps allocated and not yet freed.
func (t *Topology) Outstanding() int {
	return t.outstanding
}

// Objects returns the objects of a type in logical order.
func (t *Topology) Objects(typ ObjType) []*Object {
	return t.objects[typ]
}

// NextObjInsideCPUSet returns the first object of type typ after prev whose
// CPUs are all in set. A nil prev starts from the beginning; nil is
// returned when there are no more objects.
func (t *Topology) NextObjInsideCPUSet(set *Bitmap, typ ObjType, prev *Object) *Object {
	start := 0
	if prev != nil {
		start = prev.LogicalIndex + 1
	}
	level := t.objects[typ]
	for i := start; i < len(level); i++ {
		obj := level[i]
		if !obj.CPUSet.IsEmpty() && obj.CPUSet.IsSubsetOf(set.CPUSet()) {
			return obj
		}
	}
	return nil
}

// ObjInsideCPUSet returns the idx-th object of type typ whose CPUs are all
// in set, or nil.
func (t *Topology) ObjInsideCPUSet(set *Bitmap, typ ObjType, idx int) *Object {
	var obj *Object
	for i := 0; i <= idx; i++ {
		if obj = t.NextObjInsideCPUSet(set, typ, obj); obj == nil {
			return nil
		}
	}
	return obj
}
